package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsStored counts records written by the dedup gate.
	EventsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vaultscan_events_stored_total", Help: "Vault events persisted"},
		[]string{"network", "kind"},
	)

	// EventsSkipped counts duplicates the gate refused to re-write.
	EventsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vaultscan_events_skipped_total", Help: "Duplicate vault events skipped"},
		[]string{"network", "kind"},
	)

	// DecodeFailures counts logs rejected by the decoder.
	DecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vaultscan_decode_failures_total", Help: "Logs that failed decoding"},
		[]string{"network"},
	)

	// StorageFailures counts gate lookups or writes that errored.
	StorageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vaultscan_storage_failures_total", Help: "Storage errors in the ingest path"},
		[]string{"network"},
	)

	// BackfillWindows counts historical-log window queries issued.
	BackfillWindows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vaultscan_backfill_windows_total", Help: "Backfill window queries"},
		[]string{"network", "status"},
	)

	// RPCErrors counts upstream RPC failures by operation.
	RPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vaultscan_rpc_errors_total", Help: "Upstream RPC errors"},
		[]string{"network", "op"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsStored,
		EventsSkipped,
		DecodeFailures,
		StorageFailures,
		BackfillWindows,
		RPCErrors,
	)
}
