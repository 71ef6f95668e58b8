package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vaultscan/internal/ingest"
	"vaultscan/internal/model"
)

// Postgres unique_violation.
const pgErrUniqueViolation = "23505"

const eventColumns = `
	network, contract_address, event_kind, block_number, tx_hash,
	block_time, raw_block_time, user_address, asset_token, stablecoin,
	amount_deposited, tokens_minted, tokens_redeemed, amount_returned, fee`

// Store provides Postgres persistence for vault events. It implements
// ingest.Repository for the write path and carries the read helpers the
// query-API layer aggregates over.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects a pool and verifies it with a ping.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// FindByTxHash returns the stored record for a transaction hash within a
// network+contract scope, or nil when none exists.
func (s *Store) FindByTxHash(ctx context.Context, network, contract, txHash string) (*model.EventRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+eventColumns+`
		FROM vault_events
		WHERE network = $1 AND contract_address = $2 AND tx_hash = $3
	`, network, contract, txHash)

	rec, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create writes one event record. The unique index on
// (network, contract_address, tx_hash) turns a racing double-insert into
// ingest.ErrDuplicateEvent, which the gate reports as a skip.
func (s *Store) Create(ctx context.Context, rec *model.EventRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vault_events (`+eventColumns+`, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
	`,
		rec.Network,
		rec.ContractAddress,
		rec.EventKind,
		int64(rec.BlockNumber),
		rec.TxHash,
		rec.BlockTime,
		int64(rec.RawBlockTime),
		rec.UserAddress,
		rec.AssetToken,
		rec.Stablecoin,
		rec.AmountDeposited,
		rec.TokensMinted,
		rec.TokensRedeemed,
		rec.AmountReturned,
		rec.Fee,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return ingest.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// ListByWallet returns a wallet's events on a network, newest block first.
func (s *Store) ListByWallet(ctx context.Context, network, wallet string, limit, offset int) ([]*model.EventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+eventColumns+`
		FROM vault_events
		WHERE network = $1 AND user_address = $2
		ORDER BY block_number DESC
		LIMIT $3 OFFSET $4
	`, network, wallet, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByNetwork returns per-kind event counts for a network.
func (s *Store) CountByNetwork(ctx context.Context, network string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_kind, count(*)
		FROM vault_events
		WHERE network = $1
		GROUP BY event_kind
	`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

func scanEvent(row pgx.Row) (*model.EventRecord, error) {
	var rec model.EventRecord
	var blockNumber, rawBlockTime int64
	err := row.Scan(
		&rec.Network,
		&rec.ContractAddress,
		&rec.EventKind,
		&blockNumber,
		&rec.TxHash,
		&rec.BlockTime,
		&rawBlockTime,
		&rec.UserAddress,
		&rec.AssetToken,
		&rec.Stablecoin,
		&rec.AmountDeposited,
		&rec.TokensMinted,
		&rec.TokensRedeemed,
		&rec.AmountReturned,
		&rec.Fee,
	)
	if err != nil {
		return nil, err
	}
	rec.BlockNumber = uint64(blockNumber)
	rec.RawBlockTime = uint64(rawBlockTime)
	return &rec, nil
}
