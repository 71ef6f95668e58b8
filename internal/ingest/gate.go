package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vaultscan/internal/metrics"
	"vaultscan/internal/model"
)

// ErrDuplicateEvent is returned by Repository.Create when the store's
// uniqueness constraint on (network, contract, tx hash) rejects the row.
var ErrDuplicateEvent = errors.New("duplicate event")

// Repository is the persistence boundary the gate writes through. The
// query/analytics layer consumes the same store; only these two calls
// matter to ingestion.
type Repository interface {
	// FindByTxHash returns the stored record for a transaction hash within
	// a network+contract scope, or nil when none exists.
	FindByTxHash(ctx context.Context, network, contract, txHash string) (*model.EventRecord, error)
	Create(ctx context.Context, rec *model.EventRecord) error
}

// Outcome reports what the gate did with an event.
type Outcome int

const (
	// OutcomeStored means a new record was written.
	OutcomeStored Outcome = iota
	// OutcomeSkipped means the transaction hash was already ingested.
	// Duplicates are expected whenever backfill re-scans a range.
	OutcomeSkipped
)

// Gate is the idempotent write path shared by the live and backfill flows.
// It checks for an existing record by transaction hash before writing; the
// store's unique index backstops the check-then-insert window, so two
// concurrent paths racing on one transaction cannot both insert.
type Gate struct {
	repo   Repository
	logger *zap.Logger
}

// NewGate builds a Gate.
func NewGate(repo Repository, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{repo: repo, logger: logger}
}

// Store persists the event at most once.
func (g *Gate) Store(ctx context.Context, ev *model.VaultEvent) (Outcome, error) {
	existing, err := g.repo.FindByTxHash(ctx, ev.Network, ev.Contract, ev.TxHash)
	if err != nil {
		metrics.StorageFailures.WithLabelValues(ev.Network).Inc()
		return OutcomeSkipped, fmt.Errorf("find by tx hash: %w", err)
	}
	if existing != nil {
		g.skip(ev)
		return OutcomeSkipped, nil
	}

	rec, err := model.RecordFromEvent(ev)
	if err != nil {
		return OutcomeSkipped, err
	}

	if err := g.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			g.skip(ev)
			return OutcomeSkipped, nil
		}
		metrics.StorageFailures.WithLabelValues(ev.Network).Inc()
		return OutcomeSkipped, fmt.Errorf("create event record: %w", err)
	}

	metrics.EventsStored.WithLabelValues(ev.Network, string(ev.Kind)).Inc()
	g.logger.Info("event stored",
		zap.String("network", ev.Network),
		zap.String("contract", ev.Contract),
		zap.String("kind", string(ev.Kind)),
		zap.Uint64("block", ev.BlockNumber),
		zap.String("tx_hash", ev.TxHash),
	)
	return OutcomeStored, nil
}

func (g *Gate) skip(ev *model.VaultEvent) {
	metrics.EventsSkipped.WithLabelValues(ev.Network, string(ev.Kind)).Inc()
	g.logger.Debug("duplicate event skipped",
		zap.String("network", ev.Network),
		zap.String("tx_hash", ev.TxHash),
	)
}
