package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"vaultscan/internal/chain"
	"vaultscan/internal/metrics"
	"vaultscan/internal/vault"
)

// Pipeline routes one raw log through Decoder then Gate. Both the live
// subscription and the backfill engine converge here.
type Pipeline struct {
	decoder *vault.Decoder
	gate    *Gate
	logger  *zap.Logger
}

// NewPipeline builds the shared log-processing path.
func NewPipeline(decoder *vault.Decoder, gate *Gate, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{decoder: decoder, gate: gate, logger: logger}
}

// ProcessLog ingests one raw log for a network. Logs whose signature is not
// tracked are skipped without decoding; they are emitted by contracts this
// pipeline does not follow and are not errors. tracked == false reports
// that case so callers can keep counts honest.
func (p *Pipeline) ProcessLog(ctx context.Context, conn chain.NodeClient, network string, lg types.Log) (outcome Outcome, tracked bool, err error) {
	if len(lg.Topics) > 0 {
		if _, ok := p.decoder.Kind(lg.Topics[0]); !ok {
			p.logger.Debug("untracked event signature",
				zap.String("network", network),
				zap.String("topic0", lg.Topics[0].Hex()),
			)
			return OutcomeSkipped, false, nil
		}
	}

	ev, err := p.decoder.Decode(lg)
	if err != nil {
		metrics.DecodeFailures.WithLabelValues(network).Inc()
		return OutcomeSkipped, true, fmt.Errorf("decode log: %w", err)
	}
	ev.Network = network

	// Timestamp resolution is best-effort; a failed header lookup degrades
	// to ingestion time rather than dropping the event.
	if ts, tsErr := conn.BlockTimestamp(ctx, ev.BlockNumber); tsErr != nil {
		metrics.RPCErrors.WithLabelValues(network, "block_timestamp").Inc()
		p.logger.Warn("block timestamp lookup failed, using ingestion time",
			zap.String("network", network),
			zap.Uint64("block", ev.BlockNumber),
			zap.Error(tsErr),
		)
		ev.BlockTime = time.Now().UTC()
		ev.RawBlockTime = 0
	} else {
		ev.BlockTime = time.Unix(int64(ts), 0).UTC()
		ev.RawBlockTime = ts
	}

	outcome, err = p.gate.Store(ctx, ev)
	return outcome, true, err
}
