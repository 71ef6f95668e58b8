package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vaultscan/internal/model"
	"vaultscan/internal/vault"
)

func newTestPipeline(t *testing.T, repo Repository) *Pipeline {
	t.Helper()
	decoder, err := vault.NewDecoder()
	require.NoError(t, err)
	return NewPipeline(decoder, NewGate(repo, zap.NewNop()), zap.NewNop())
}

func TestProcessLogStoresTrackedEvent(t *testing.T) {
	repo := newFakeRepo()
	pipeline := newTestPipeline(t, repo)
	conn := newFakeConn(5000)

	outcome, tracked, err := pipeline.ProcessLog(context.Background(), conn, "ethereum",
		makeLog(t, model.KindDeposited, common.HexToHash("0x20"), 4800))
	require.NoError(t, err)
	require.True(t, tracked)
	require.Equal(t, OutcomeStored, outcome)

	rec, err := repo.FindByTxHash(context.Background(), "ethereum", testVaultAddr.Hex(), common.HexToHash("0x20").Hex())
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "ethereum", rec.Network)
	// fakeConn answers 1700000000+block for header timestamps.
	require.Equal(t, time.Unix(1700004800, 0).UTC(), rec.BlockTime)
}

func TestProcessLogSkipsUntrackedSignature(t *testing.T) {
	repo := newFakeRepo()
	pipeline := newTestPipeline(t, repo)
	conn := newFakeConn(5000)

	lg := makeLog(t, model.KindDeposited, common.HexToHash("0x21"), 4800)
	lg.Topics[0] = common.HexToHash("0xdeadbeef")

	outcome, tracked, err := pipeline.ProcessLog(context.Background(), conn, "ethereum", lg)
	require.NoError(t, err)
	require.False(t, tracked)
	require.Equal(t, OutcomeSkipped, outcome)
	require.Zero(t, repo.count())
}

func TestProcessLogReportsDecodeFailure(t *testing.T) {
	repo := newFakeRepo()
	pipeline := newTestPipeline(t, repo)
	conn := newFakeConn(5000)

	lg := makeLog(t, model.KindRedeemed, common.HexToHash("0x22"), 4800)
	lg.Data = lg.Data[:8]

	_, tracked, err := pipeline.ProcessLog(context.Background(), conn, "ethereum", lg)
	require.True(t, tracked)
	require.Error(t, err)
	require.Zero(t, repo.count())
}

func TestProcessLogDegradesTimestampFailure(t *testing.T) {
	repo := newFakeRepo()
	pipeline := newTestPipeline(t, repo)
	conn := newFakeConn(5000)
	conn.tsErr = errors.New("header not found")

	before := time.Now().UTC()
	outcome, _, err := pipeline.ProcessLog(context.Background(), conn, "ethereum",
		makeLog(t, model.KindDeposited, common.HexToHash("0x23"), 4800))
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, outcome)

	// A failed header lookup must not drop the event; the record carries
	// ingestion time and a zero raw timestamp marking it degraded.
	rec, err := repo.FindByTxHash(context.Background(), "ethereum", testVaultAddr.Hex(), common.HexToHash("0x23").Hex())
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Zero(t, rec.RawBlockTime)
	require.False(t, rec.BlockTime.Before(before))
}
