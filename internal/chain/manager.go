package chain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"vaultscan/internal/config"
)

// DialFunc opens a NodeClient for an RPC URL.
type DialFunc func(ctx context.Context, rpcURL string) (NodeClient, error)

// Manager owns one client connection per configured network. The map is
// mutated only through Connect and CloseAll; everything else reads.
type Manager struct {
	dial   DialFunc
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]NodeClient
}

// NewManager builds a Manager. A nil dial defaults to Dial.
func NewManager(dial DialFunc, logger *zap.Logger) *Manager {
	if dial == nil {
		dial = func(ctx context.Context, rpcURL string) (NodeClient, error) {
			return Dial(ctx, rpcURL)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dial:   dial,
		logger: logger,
		conns:  make(map[string]NodeClient),
	}
}

// Connect opens and registers the connection for one network. Liveness is
// validated by requesting the chain ID before the connection is kept. The
// caller decides what a failure means; connecting other networks is not
// affected.
func (m *Manager) Connect(ctx context.Context, network config.Network) (NodeClient, error) {
	if err := network.Validate(); err != nil {
		return nil, err
	}

	conn, err := m.dial(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network.Name, err)
	}

	chainID, err := conn.ChainID(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("chain id probe %s: %w", network.Name, err)
	}
	if network.ChainID != 0 && !chainID.IsUint64() {
		conn.Close()
		return nil, fmt.Errorf("network %s: chain id does not fit in uint64: %s", network.Name, chainID)
	}
	if network.ChainID != 0 && chainID.Uint64() != network.ChainID {
		conn.Close()
		return nil, fmt.Errorf("network %s: chain id mismatch: got %s, want %d", network.Name, chainID, network.ChainID)
	}

	m.mu.Lock()
	if old, ok := m.conns[network.Name]; ok {
		old.Close()
	}
	m.conns[network.Name] = conn
	m.mu.Unlock()

	m.logger.Info("network connected",
		zap.String("network", network.Name),
		zap.String("chain_id", chainID.String()),
		zap.Int("contracts", len(network.Contracts)),
	)

	return conn, nil
}

// Connection returns the held connection for a network, if any.
func (m *Manager) Connection(name string) (NodeClient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[name]
	return conn, ok
}

// Networks lists the names of currently connected networks.
func (m *Manager) Networks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	return names
}

// CloseAll tears down every connection. Each close is independent; one
// failing transport cannot block the rest.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, conn := range m.conns {
		conn.Close()
		m.logger.Info("network disconnected", zap.String("network", name))
		delete(m.conns, name)
	}
}
