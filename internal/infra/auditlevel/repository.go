// Package auditlevel keeps audit transactions in a LevelDB directory next to
// the ledger, for deployments without PostgreSQL.
package auditlevel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"medledger/internal/domain"
	"medledger/internal/usecase"
)

var (
	txPrefix        = []byte("tx/")
	recordPrefix    = []byte("record/")
	initiatorPrefix = []byte("initiator/")
)

// Repository stores one entry per transaction keyed by tx hash, plus empty
// index entries per record and per initiator. Every Create is one synced
// batch.
type Repository struct {
	db *leveldb.DB
	mu sync.Mutex
}

type txRecord struct {
	ID          string    `json:"id"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber int64     `json:"block_number"`
	RecordID    string    `json:"record_id"`
	Action      string    `json:"action"`
	InitiatorID string    `json:"initiator_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func Open(path string) (*Repository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("auditlevel: open %s: %w", path, err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func txKey(hash string) []byte {
	return append(append([]byte{}, txPrefix...), hash...)
}

// indexPrefix ends with a NUL so that "REC1" does not match "REC10".
func indexPrefix(prefix []byte, id string) []byte {
	key := append(append([]byte{}, prefix...), id...)
	return append(key, 0)
}

func indexKey(prefix []byte, id, hash string) []byte {
	return append(indexPrefix(prefix, id), hash...)
}

func (r *Repository) Create(ctx context.Context, tx domain.AuditTransaction) (domain.AuditTransaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditTransaction{}, err
	}
	if tx.TxHash == "" {
		return domain.AuditTransaction{}, fmt.Errorf("tx_hash is required")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = domain.AuditStatusPending
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	data, err := json.Marshal(toRecord(tx))
	if err != nil {
		return domain.AuditTransaction{}, fmt.Errorf("auditlevel: encode %s: %w", tx.TxHash, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	exists, err := r.db.Has(txKey(tx.TxHash), nil)
	if err != nil {
		return domain.AuditTransaction{}, fmt.Errorf("auditlevel: lookup %s: %w", tx.TxHash, err)
	}
	if exists {
		return domain.AuditTransaction{}, fmt.Errorf("transaction %s already recorded", tx.TxHash)
	}

	batch := new(leveldb.Batch)
	batch.Put(txKey(tx.TxHash), data)
	batch.Put(indexKey(recordPrefix, tx.RecordID, tx.TxHash), nil)
	batch.Put(indexKey(initiatorPrefix, tx.InitiatorID, tx.TxHash), nil)
	if err := r.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return domain.AuditTransaction{}, fmt.Errorf("auditlevel: write batch: %w", err)
	}
	return tx, nil
}

func (r *Repository) ListByRecord(ctx context.Context, recordID string) ([]domain.AuditTransaction, error) {
	return r.list(ctx, recordPrefix, recordID, func(tx domain.AuditTransaction) bool { return tx.RecordID == recordID })
}

func (r *Repository) ListByInitiator(ctx context.Context, initiatorID string) ([]domain.AuditTransaction, error) {
	return r.list(ctx, initiatorPrefix, initiatorID, func(tx domain.AuditTransaction) bool { return tx.InitiatorID == initiatorID })
}

func (r *Repository) GetByTxHash(ctx context.Context, txHash string) (domain.AuditTransaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditTransaction{}, err
	}
	tx, err := r.get(txHash)
	if errors.Is(err, leveldb.ErrNotFound) {
		return domain.AuditTransaction{}, &domain.NotFoundError{Kind: "transaction", ID: txHash}
	}
	return tx, err
}

// list returns matches newest first, with the higher block number first on
// equal timestamps.
func (r *Repository) list(ctx context.Context, prefix []byte, id string, match func(domain.AuditTransaction) bool) ([]domain.AuditTransaction, error) {
	scan := indexPrefix(prefix, id)
	iter := r.db.NewIterator(util.BytesPrefix(scan), nil)
	defer iter.Release()

	out := []domain.AuditTransaction{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hash := string(iter.Key()[len(scan):])
		tx, err := r.get(hash)
		if err != nil {
			return nil, fmt.Errorf("auditlevel: index entry %q: %w", hash, err)
		}
		if match(tx) {
			out = append(out, tx)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("auditlevel: iterate index: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].BlockNumber > out[j].BlockNumber
	})
	return out, nil
}

func (r *Repository) get(hash string) (domain.AuditTransaction, error) {
	raw, err := r.db.Get(txKey(hash), nil)
	if err != nil {
		return domain.AuditTransaction{}, err
	}
	var rec txRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.AuditTransaction{}, fmt.Errorf("auditlevel: decode %s: %w", hash, err)
	}
	return fromRecord(rec), nil
}

func toRecord(tx domain.AuditTransaction) txRecord {
	return txRecord{
		ID:          tx.ID,
		TxHash:      tx.TxHash,
		BlockNumber: tx.BlockNumber,
		RecordID:    tx.RecordID,
		Action:      string(tx.Action),
		InitiatorID: tx.InitiatorID,
		Status:      string(tx.Status),
		CreatedAt:   tx.CreatedAt,
	}
}

func fromRecord(rec txRecord) domain.AuditTransaction {
	return domain.AuditTransaction{
		ID:          rec.ID,
		TxHash:      rec.TxHash,
		BlockNumber: rec.BlockNumber,
		RecordID:    rec.RecordID,
		Action:      domain.AuditAction(rec.Action),
		InitiatorID: rec.InitiatorID,
		Status:      domain.AuditStatus(rec.Status),
		CreatedAt:   rec.CreatedAt,
	}
}

var _ usecase.AuditTransactionRepository = (*Repository)(nil)
