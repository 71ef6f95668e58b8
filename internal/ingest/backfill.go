package ingest

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"vaultscan/internal/chain"
	"vaultscan/internal/config"
	"vaultscan/internal/metrics"
	"vaultscan/internal/model"
	"vaultscan/internal/vault"
)

// DefaultWindowSize bounds one historical-log query; upstream providers
// reject unbounded ranges.
const DefaultWindowSize = 1000

// Summary reports what one backfill run did.
type Summary struct {
	Windows int
	Logs    int
	Stored  int
	Skipped int
	Failed  int
}

// Backfiller paginates a closed block range and ingests every tracked
// event it finds. Windows run strictly in increasing block order and
// sequentially; rate-limit safety is preferred over throughput.
type Backfiller struct {
	pipeline     *Pipeline
	decoder      *vault.Decoder
	logger       *zap.Logger
	windowSize   uint64
	maxRetries   int
	retryBackoff time.Duration
}

// NewBackfiller builds a Backfiller. Zero windowSize falls back to
// DefaultWindowSize.
func NewBackfiller(pipeline *Pipeline, decoder *vault.Decoder, windowSize uint64, maxRetries int, retryBackoff time.Duration, logger *zap.Logger) *Backfiller {
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfiller{
		pipeline:     pipeline,
		decoder:      decoder,
		logger:       logger,
		windowSize:   windowSize,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

// Run backfills [fromBlock, toBlock] for one contract. A query or
// processing failure on one window is logged and counted; the remaining
// windows still run.
func (b *Backfiller) Run(ctx context.Context, conn chain.NodeClient, network string, contract config.Contract, fromBlock, toBlock uint64) Summary {
	var summary Summary

	windows, err := SplitWindows(fromBlock, toBlock, b.windowSize)
	if err != nil {
		b.logger.Warn("backfill range rejected",
			zap.String("network", network),
			zap.Uint64("from", fromBlock),
			zap.Uint64("to", toBlock),
			zap.Error(err),
		)
		return summary
	}

	b.logger.Info("backfill start",
		zap.String("network", network),
		zap.String("contract", contract.Name),
		zap.Uint64("from", fromBlock),
		zap.Uint64("to", toBlock),
		zap.Int("windows", len(windows)),
	)

	for _, window := range windows {
		select {
		case <-ctx.Done():
			return summary
		default:
		}

		summary.Windows++
		for _, kind := range []model.EventKind{model.KindDeposited, model.KindRedeemed} {
			logs, err := b.filterLogsWithRetry(ctx, conn, network, contract.Addr(), kind, window)
			if err != nil {
				metrics.BackfillWindows.WithLabelValues(network, "error").Inc()
				summary.Failed++
				b.logger.Warn("window query failed",
					zap.String("network", network),
					zap.String("contract", contract.Name),
					zap.String("kind", string(kind)),
					zap.Uint64("from", window.From),
					zap.Uint64("to", window.To),
					zap.Error(err),
				)
				continue
			}
			metrics.BackfillWindows.WithLabelValues(network, "ok").Inc()

			for _, lg := range logs {
				summary.Logs++
				outcome, tracked, err := b.pipeline.ProcessLog(ctx, conn, network, lg)
				if err != nil {
					summary.Failed++
					b.logger.Error("backfill log ingestion failed",
						zap.String("network", network),
						zap.String("tx_hash", lg.TxHash.Hex()),
						zap.Error(err),
					)
					continue
				}
				if !tracked {
					continue
				}
				switch outcome {
				case OutcomeStored:
					summary.Stored++
				case OutcomeSkipped:
					summary.Skipped++
				}
			}
		}
	}

	b.logger.Info("backfill complete",
		zap.String("network", network),
		zap.String("contract", contract.Name),
		zap.Int("windows", summary.Windows),
		zap.Int("logs", summary.Logs),
		zap.Int("stored", summary.Stored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)

	return summary
}

func (b *Backfiller) filterLogsWithRetry(ctx context.Context, conn chain.NodeClient, network string, address common.Address, kind model.EventKind, window Window) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: newBlockNumber(window.From),
		ToBlock:   newBlockNumber(window.To),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{b.decoder.TopicFor(kind)}},
	}

	var logs []types.Log
	err := withRetry(ctx, b.maxRetries, b.retryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = conn.FilterLogs(ctx, query)
		if err != nil {
			metrics.RPCErrors.WithLabelValues(network, "filter_logs").Inc()
		}
		return err
	})
	return logs, err
}

func newBlockNumber(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
