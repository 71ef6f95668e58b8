package ingest

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"vaultscan/internal/model"
	"vaultscan/internal/vault"
)

var (
	testVaultAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testUserAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// makeLog packs a well-formed vault log fixture.
func makeLog(t *testing.T, kind model.EventKind, txHash common.Hash, block uint64) types.Log {
	t.Helper()

	vaultABI, err := vault.ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	first, second := big.NewInt(1000), big.NewInt(950)
	if kind == model.KindRedeemed {
		first, second = big.NewInt(950), big.NewInt(1000)
	}
	data, err := vaultABI.Events[string(kind)].Inputs.NonIndexed().Pack(first, second, big.NewInt(50))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	addrTopic := func(addr common.Address) common.Hash {
		return common.BytesToHash(addr.Bytes())
	}

	return types.Log{
		Address: testVaultAddr,
		Topics: []common.Hash{
			vaultABI.Events[string(kind)].ID,
			addrTopic(testUserAddr),
			addrTopic(common.HexToAddress("0x3333333333333333333333333333333333333333")),
			addrTopic(common.HexToAddress("0x4444444444444444444444444444444444444444")),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
	}
}

type fakeSub struct {
	errCh chan error
}

func newFakeSub() *fakeSub           { return &fakeSub{errCh: make(chan error, 1)} }
func (s *fakeSub) Unsubscribe()      {}
func (s *fakeSub) Err() <-chan error { return s.errCh }
func (s *fakeSub) fail(err error)    { s.errCh <- err }

// fakeConn implements chain.NodeClient for tests.
type fakeConn struct {
	mu sync.Mutex

	chainID     *big.Int
	blockNumber uint64
	blockErr    error
	tsErr       error
	subErr      error

	// filterLogs answers historical queries; nil means no logs.
	filterLogs func(q ethereum.FilterQuery) ([]types.Log, error)

	filterCalls []ethereum.FilterQuery
	subQueries  []ethereum.FilterQuery
	subChans    []chan<- types.Log
	subs        []*fakeSub
}

func newFakeConn(head uint64) *fakeConn {
	return &fakeConn{chainID: big.NewInt(1), blockNumber: head}
}

func (c *fakeConn) ChainID(ctx context.Context) (*big.Int, error) {
	return c.chainID, nil
}

func (c *fakeConn) BlockNumber(ctx context.Context) (uint64, error) {
	if c.blockErr != nil {
		return 0, c.blockErr
	}
	return c.blockNumber, nil
}

func (c *fakeConn) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if c.tsErr != nil {
		return 0, c.tsErr
	}
	return 1700000000 + number, nil
}

func (c *fakeConn) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	c.filterCalls = append(c.filterCalls, q)
	c.mu.Unlock()
	if c.filterLogs == nil {
		return nil, nil
	}
	return c.filterLogs(q)
}

func (c *fakeConn) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if c.subErr != nil {
		return nil, c.subErr
	}
	sub := newFakeSub()
	c.mu.Lock()
	c.subQueries = append(c.subQueries, q)
	c.subChans = append(c.subChans, ch)
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub, nil
}

func (c *fakeConn) lastSub() (*fakeSub, chan<- types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return nil, nil
	}
	return c.subs[len(c.subs)-1], c.subChans[len(c.subChans)-1]
}

func (c *fakeConn) Close() {}

func (c *fakeConn) calls() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ethereum.FilterQuery, len(c.filterCalls))
	copy(out, c.filterCalls)
	return out
}

// fakeRepo is an in-memory Repository keyed the way the dedup index is.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*model.EventRecord

	findErr   error
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*model.EventRecord)}
}

func repoKey(network, contract, txHash string) string {
	return network + "|" + contract + "|" + txHash
}

func (r *fakeRepo) FindByTxHash(ctx context.Context, network, contract, txHash string) (*model.EventRecord, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[repoKey(network, contract, txHash)], nil
}

func (r *fakeRepo) Create(ctx context.Context, rec *model.EventRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoKey(rec.Network, rec.ContractAddress, rec.TxHash)
	if _, ok := r.records[key]; ok {
		return ErrDuplicateEvent
	}
	r.records[key] = rec
	return nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
