package chaindb

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medledger/internal/domain"
	"medledger/internal/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// appendLockKey serializes writers across processes sharing one database.
const appendLockKey int64 = 0x6d65646c6564

// Store keeps one row per block in ledger_blocks. Saves insert only rows
// beyond the stored tip inside one transaction.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{Pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s == nil || s.Pool == nil {
		return
	}
	s.Pool.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		payload, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.Pool.Exec(ctx, string(payload)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context) ([]domain.Block, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT idx, block_time, payload::text, previous_hash, hash, nonce
		FROM ledger_blocks
		ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger blocks: %w", err)
	}
	defer rows.Close()

	var chain []domain.Block
	for rows.Next() {
		var (
			blk     domain.Block
			payload string
			nonce   int64
		)
		if err := rows.Scan(&blk.Index, &blk.Timestamp, &payload, &blk.PreviousHash, &blk.Hash, &nonce); err != nil {
			return nil, fmt.Errorf("scan ledger block: %w", err)
		}
		event, err := ledger.DecodePayload([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", blk.Index, err)
		}
		blk.Timestamp = blk.Timestamp.UTC()
		blk.Payload = event
		blk.Nonce = uint64(nonce)
		chain = append(chain, blk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger blocks: %w", err)
	}
	return chain, nil
}

func (s *Store) Save(ctx context.Context, chain []domain.Block) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}

	var (
		height int64
		tip    string
	)
	err = tx.QueryRow(ctx, `SELECT idx + 1, hash FROM ledger_blocks ORDER BY idx DESC LIMIT 1`).Scan(&height, &tip)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read ledger tip: %w", err)
	}
	if int64(len(chain)) < height {
		return fmt.Errorf("chain of %d blocks is shorter than stored height %d", len(chain), height)
	}
	if height > 0 && chain[height-1].Hash != tip {
		return fmt.Errorf("chain diverges from stored tip at index %d", height-1)
	}
	if int64(len(chain)) == height {
		return nil
	}

	batch := &pgx.Batch{}
	for _, b := range chain[height:] {
		if b.Nonce > math.MaxInt64 {
			return fmt.Errorf("block %d: nonce out of range", b.Index)
		}
		batch.Queue(`
			INSERT INTO ledger_blocks (idx, block_time, payload, correlation_id, previous_hash, hash, nonce)
			VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7)`,
			b.Index, b.Timestamp.UTC(), string(ledger.EncodePayload(b.Payload)), b.Payload.CorrelationID(),
			b.PreviousHash, b.Hash, int64(b.Nonce))
	}
	results := tx.SendBatch(ctx, batch)
	for _, b := range chain[height:] {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert block %d: %w", b.Index, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("insert blocks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

var _ ledger.Store = (*Store)(nil)
