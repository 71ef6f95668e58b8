package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vaultscan/internal/config"
	"vaultscan/internal/model"
	"vaultscan/internal/vault"
)

func newTestBackfiller(t *testing.T, repo Repository, windowSize uint64) (*Backfiller, *vault.Decoder) {
	t.Helper()
	decoder, err := vault.NewDecoder()
	require.NoError(t, err)
	gate := NewGate(repo, zap.NewNop())
	pipeline := NewPipeline(decoder, gate, zap.NewNop())
	return NewBackfiller(pipeline, decoder, windowSize, 0, 0, zap.NewNop()), decoder
}

func testContract() config.Contract {
	return config.Contract{Address: testVaultAddr.Hex(), Name: "Main Vault"}
}

func TestBackfillWindowCoverage(t *testing.T) {
	conn := newFakeConn(5000)
	backfiller, decoder := newTestBackfiller(t, newFakeRepo(), 1000)

	summary := backfiller.Run(context.Background(), conn, "ethereum", testContract(), 1000, 2500)
	require.Equal(t, 2, summary.Windows)

	// One query per window per event kind.
	calls := conn.calls()
	require.Len(t, calls, 4)

	type span struct{ from, to uint64 }
	bounds := make(map[span]int)
	for _, q := range calls {
		require.Equal(t, []common.Address{testVaultAddr}, q.Addresses)
		require.Len(t, q.Topics, 1)
		require.Len(t, q.Topics[0], 1)
		bounds[span{q.FromBlock.Uint64(), q.ToBlock.Uint64()}]++
	}
	require.Equal(t, map[span]int{
		{1000, 1999}: 2,
		{2000, 2500}: 2,
	}, bounds)

	// Each window pair carries one topic filter per kind.
	kinds := make(map[common.Hash]int)
	for _, q := range calls {
		kinds[q.Topics[0][0]]++
	}
	require.Equal(t, 2, kinds[decoder.TopicFor(model.KindDeposited)])
	require.Equal(t, 2, kinds[decoder.TopicFor(model.KindRedeemed)])
}

func TestBackfillStoresAndRerunSkips(t *testing.T) {
	repo := newFakeRepo()
	conn := newFakeConn(5000)
	backfiller, decoder := newTestBackfiller(t, repo, 1000)

	depositTx := common.HexToHash("0x01")
	redeemTx := common.HexToHash("0x02")
	conn.filterLogs = func(q ethereum.FilterQuery) ([]types.Log, error) {
		if q.FromBlock.Uint64() != 1000 {
			return nil, nil
		}
		switch q.Topics[0][0] {
		case decoder.TopicFor(model.KindDeposited):
			return []types.Log{makeLog(t, model.KindDeposited, depositTx, 1100)}, nil
		case decoder.TopicFor(model.KindRedeemed):
			return []types.Log{makeLog(t, model.KindRedeemed, redeemTx, 1200)}, nil
		}
		return nil, nil
	}

	summary := backfiller.Run(context.Background(), conn, "ethereum", testContract(), 1000, 2500)
	require.Equal(t, 2, summary.Stored)
	require.Equal(t, 0, summary.Skipped)
	require.Equal(t, 2, repo.count())

	// Re-running the same range is safe: everything dedups.
	summary = backfiller.Run(context.Background(), conn, "ethereum", testContract(), 1000, 2500)
	require.Equal(t, 0, summary.Stored)
	require.Equal(t, 2, summary.Skipped)
	require.Equal(t, 2, repo.count())
}

func TestBackfillWindowFailureIsolation(t *testing.T) {
	repo := newFakeRepo()
	conn := newFakeConn(5000)
	backfiller, decoder := newTestBackfiller(t, repo, 1000)

	conn.filterLogs = func(q ethereum.FilterQuery) ([]types.Log, error) {
		if q.FromBlock.Uint64() == 1000 {
			return nil, errors.New("rate limited")
		}
		if q.Topics[0][0] == decoder.TopicFor(model.KindDeposited) {
			return []types.Log{makeLog(t, model.KindDeposited, common.HexToHash("0x03"), 2100)}, nil
		}
		return nil, nil
	}

	summary := backfiller.Run(context.Background(), conn, "ethereum", testContract(), 1000, 2500)

	// Both windows attempted; the failing one did not stop the second.
	require.Equal(t, 2, summary.Windows)
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, 1, summary.Stored)
	require.Equal(t, 1, repo.count())
}

func TestBackfillBadLogDoesNotAbortWindow(t *testing.T) {
	repo := newFakeRepo()
	conn := newFakeConn(5000)
	backfiller, decoder := newTestBackfiller(t, repo, 1000)

	truncated := makeLog(t, model.KindDeposited, common.HexToHash("0x04"), 1100)
	truncated.Data = truncated.Data[:8]
	good := makeLog(t, model.KindDeposited, common.HexToHash("0x05"), 1150)

	conn.filterLogs = func(q ethereum.FilterQuery) ([]types.Log, error) {
		if q.FromBlock.Uint64() == 1000 && q.Topics[0][0] == decoder.TopicFor(model.KindDeposited) {
			return []types.Log{truncated, good}, nil
		}
		return nil, nil
	}

	summary := backfiller.Run(context.Background(), conn, "ethereum", testContract(), 1000, 1999)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Stored)
}

func TestBackfillInvertedRange(t *testing.T) {
	conn := newFakeConn(5000)
	backfiller, _ := newTestBackfiller(t, newFakeRepo(), 1000)

	summary := backfiller.Run(context.Background(), conn, "ethereum", testContract(), 2500, 1000)
	require.Zero(t, summary.Windows)
	require.Empty(t, conn.calls())
}
