package auditmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medledger/internal/domain"
	"medledger/internal/usecase"
)

// Repository keeps audit transactions in memory. It backs the memory ledger
// backend and tests.
type Repository struct {
	mu     sync.Mutex
	byHash map[string]domain.AuditTransaction
	order  []string
}

func New() *Repository {
	return &Repository{byHash: make(map[string]domain.AuditTransaction)}
}

func (r *Repository) Create(ctx context.Context, tx domain.AuditTransaction) (domain.AuditTransaction, error) {
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
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[tx.TxHash]; exists {
		return domain.AuditTransaction{}, fmt.Errorf("transaction %s already recorded", tx.TxHash)
	}
	r.byHash[tx.TxHash] = tx
	r.order = append(r.order, tx.TxHash)
	return tx, nil
}

func (r *Repository) ListByRecord(ctx context.Context, recordID string) ([]domain.AuditTransaction, error) {
	return r.filter(func(tx domain.AuditTransaction) bool { return tx.RecordID == recordID }), nil
}

func (r *Repository) ListByInitiator(ctx context.Context, initiatorID string) ([]domain.AuditTransaction, error) {
	return r.filter(func(tx domain.AuditTransaction) bool { return tx.InitiatorID == initiatorID }), nil
}

func (r *Repository) GetByTxHash(ctx context.Context, txHash string) (domain.AuditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byHash[txHash]
	if !ok {
		return domain.AuditTransaction{}, &domain.NotFoundError{Kind: "transaction", ID: txHash}
	}
	return tx, nil
}

// filter returns matches newest first; insertion order breaks ties.
func (r *Repository) filter(match func(domain.AuditTransaction) bool) []domain.AuditTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.AuditTransaction{}
	for i := len(r.order) - 1; i >= 0; i-- {
		tx := r.byHash[r.order[i]]
		if match(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

var _ usecase.AuditTransactionRepository = (*Repository)(nil)
