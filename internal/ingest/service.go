package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vaultscan/internal/chain"
	"vaultscan/internal/config"
	"vaultscan/internal/metrics"
	"vaultscan/internal/vault"
)

// Service wires the connection manager, live subscriber, backfill engine
// and reconciliation scheduler into one ingestion pipeline, and exposes the
// operations the query-API layer consumes.
type Service struct {
	cfg        config.Config
	manager    *chain.Manager
	subscriber *Subscriber
	backfiller *Backfiller
	reconciler *Reconciler
	logger     *zap.Logger

	// networks that passed validation, keyed by name. Built once at
	// construction, read-only afterwards.
	networks map[string]config.Network
}

// NewService builds the full pipeline on top of a repository.
func NewService(cfg config.Config, manager *chain.Manager, repo Repository, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	decoder, err := vault.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	gate := NewGate(repo, logger)
	pipeline := NewPipeline(decoder, gate, logger)

	s := &Service{
		cfg:        cfg,
		manager:    manager,
		subscriber: NewSubscriber(pipeline, logger),
		backfiller: NewBackfiller(pipeline, decoder, cfg.WindowSize, cfg.MaxRetries, cfg.RetryBackoff, logger),
		logger:     logger,
		networks:   make(map[string]config.Network, len(cfg.Networks)),
	}
	s.reconciler = NewReconciler(s.sweep, cfg.ReconcileDelay, cfg.ReconcileInterval, cfg.ReconcileLookback, logger)

	for _, network := range cfg.Networks {
		if err := network.Validate(); err != nil {
			// Misconfiguration disables that network, never the process.
			logger.Error("network configuration rejected", zap.Error(err))
			continue
		}
		s.networks[network.Name] = network
	}
	if len(s.networks) == 0 {
		return nil, errors.New("no valid networks configured")
	}

	return s, nil
}

// Start connects every network, opens live subscriptions, and arms the
// reconciler once the initial connection pass finishes. Connection and
// subscription failures are partial: one broken network never prevents the
// others from going live.
func (s *Service) Start(ctx context.Context) error {
	connected := 0
	for _, network := range s.networks {
		conn, err := s.manager.Connect(ctx, network)
		if err != nil {
			s.logger.Error("network connect failed, skipping",
				zap.String("network", network.Name),
				zap.Error(err),
			)
			continue
		}
		connected++

		if err := s.subscriber.Subscribe(ctx, conn, network); err != nil {
			// No live updates for this network until restart; the
			// reconciliation sweep still covers it.
			s.logger.Error("live subscription failed",
				zap.String("network", network.Name),
				zap.Error(err),
			)
		}
	}

	if connected == 0 {
		return errors.New("no networks connected")
	}

	if err := s.reconciler.Arm(ctx); err != nil {
		return fmt.Errorf("arm reconciler: %w", err)
	}
	return nil
}

// sweep backfills the trailing lookback window for every connected network
// and contract. Per-network failures are collected, not fatal to siblings.
func (s *Service) sweep(ctx context.Context, lookback uint64) error {
	var errs []error
	for name, network := range s.networks {
		conn, ok := s.manager.Connection(name)
		if !ok {
			continue
		}

		current, err := conn.BlockNumber(ctx)
		if err != nil {
			metrics.RPCErrors.WithLabelValues(name, "block_number").Inc()
			errs = append(errs, fmt.Errorf("latest block %s: %w", name, err))
			continue
		}

		fromBlock := uint64(0)
		if current > lookback {
			fromBlock = current - lookback
		}

		for _, contract := range network.Contracts {
			s.backfiller.Run(ctx, conn, name, contract, fromBlock, current)
		}
	}
	return errors.Join(errs...)
}

// StorePreviousEvents backfills the named networks from an explicit start
// block up to the current head. A zero fromBlock falls back to the trailing
// reconciliation lookback. Unknown or disconnected networks are reported.
func (s *Service) StorePreviousEvents(ctx context.Context, networkNames []string, fromBlock uint64) error {
	var errs []error
	for _, name := range networkNames {
		network, ok := s.networks[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown network: %s", name))
			continue
		}
		conn, ok := s.manager.Connection(name)
		if !ok {
			errs = append(errs, fmt.Errorf("network not connected: %s", name))
			continue
		}

		current, err := conn.BlockNumber(ctx)
		if err != nil {
			metrics.RPCErrors.WithLabelValues(name, "block_number").Inc()
			errs = append(errs, fmt.Errorf("latest block %s: %w", name, err))
			continue
		}

		start := fromBlock
		if start == 0 && current > s.cfg.ReconcileLookback {
			start = current - s.cfg.ReconcileLookback
		}
		if start > current {
			errs = append(errs, fmt.Errorf("network %s: from block %d is beyond head %d", name, start, current))
			continue
		}

		for _, contract := range network.Contracts {
			s.backfiller.Run(ctx, conn, name, contract, start, current)
		}
	}
	return errors.Join(errs...)
}

// TriggerManualBackfill runs one reconciliation sweep over the given number
// of trailing blocks (1-50000). Errors propagate so the invoking interface
// can report them.
func (s *Service) TriggerManualBackfill(ctx context.Context, blockCount uint64) error {
	return s.reconciler.TriggerManual(ctx, blockCount)
}

// BackfillStatus reports the reconciler arm state.
func (s *Service) BackfillStatus() Status {
	return s.reconciler.Status()
}

// Shutdown stops the reconciliation timers, closes live subscriptions, and
// tears down connections. Every step is best-effort; one failure never
// blocks the next.
func (s *Service) Shutdown() {
	if err := s.reconciler.Stop(); err != nil && !errors.Is(err, ErrNotArmed) {
		s.logger.Warn("reconciler stop failed", zap.Error(err))
	}
	s.subscriber.UnsubscribeAll()
	s.manager.CloseAll()
}
