package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"vaultscan/internal/chain"
	"vaultscan/internal/config"
)

// Subscriber owns the live log subscriptions, one per network, each
// filtered to the network's configured contract set.
type Subscriber struct {
	pipeline *Pipeline
	logger   *zap.Logger

	mu   sync.Mutex
	subs map[string]ethereum.Subscription
}

// NewSubscriber builds a Subscriber.
func NewSubscriber(pipeline *Pipeline, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		pipeline: pipeline,
		logger:   logger,
		subs:     make(map[string]ethereum.Subscription),
	}
}

// Subscribe opens the live subscription for one network and starts its
// consumer goroutine. A failure here means the network gets no live updates
// until restart; backfill and reconciliation still cover it.
func (s *Subscriber) Subscribe(ctx context.Context, conn chain.NodeClient, network config.Network) error {
	addresses := make([]common.Address, 0, len(network.Contracts))
	contracts := make(map[common.Address]config.Contract, len(network.Contracts))
	for _, contract := range network.Contracts {
		addr := contract.Addr()
		addresses = append(addresses, addr)
		contracts[addr] = contract
	}

	ch := make(chan types.Log, 128)
	sub, err := conn.SubscribeFilterLogs(ctx, ethereum.FilterQuery{Addresses: addresses}, ch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", network.Name, err)
	}

	s.mu.Lock()
	if old, ok := s.subs[network.Name]; ok {
		old.Unsubscribe()
	}
	s.subs[network.Name] = sub
	s.mu.Unlock()

	s.logger.Info("live subscription open",
		zap.String("network", network.Name),
		zap.Int("contracts", len(addresses)),
	)

	go s.consume(ctx, conn, network.Name, contracts, sub, ch)
	return nil
}

// consume drains one subscription. Failures are isolated per event: a bad
// log never closes the subscription or affects later logs. A subscription
// error ends the stream without resubscribing; the reconciliation sweep is
// the recovery path for anything missed.
func (s *Subscriber) consume(
	ctx context.Context,
	conn chain.NodeClient,
	network string,
	contracts map[common.Address]config.Contract,
	sub ethereum.Subscription,
	ch <-chan types.Log,
) {
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			if err != nil {
				s.logger.Error("live subscription closed",
					zap.String("network", network),
					zap.Error(err),
				)
			}
			return
		case lg := <-ch:
			contract, ok := contracts[lg.Address]
			if !ok {
				s.logger.Debug("log from unconfigured address dropped",
					zap.String("network", network),
					zap.String("address", lg.Address.Hex()),
				)
				continue
			}
			if _, _, err := s.pipeline.ProcessLog(ctx, conn, network, lg); err != nil {
				s.logger.Error("live log ingestion failed",
					zap.String("network", network),
					zap.String("contract", contract.Name),
					zap.String("tx_hash", lg.TxHash.Hex()),
					zap.Error(err),
				)
			}
		}
	}
}

// UnsubscribeAll tears down every live subscription, best-effort.
func (s *Subscriber) UnsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sub := range s.subs {
		sub.Unsubscribe()
		s.logger.Info("live subscription stopped", zap.String("network", name))
		delete(s.subs, name)
	}
}
