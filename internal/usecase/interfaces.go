package usecase

import (
	"context"
	"time"

	"medledger/internal/domain"
)

type Clock func() time.Time

// Ledger is the append-only chain the provenance service writes to.
type Ledger interface {
	Append(ctx context.Context, payload domain.Event) (domain.Block, error)
	FindByCorrelationID(id string) []domain.Block
	ByHash(hash string) (domain.Block, bool)
	Latest() domain.Block
	Len() int
	Difficulty() int
	Validate() domain.ChainStatus
}

// AuditTransactionRepository stores the business transaction written after
// every successful append. List methods return newest first.
type AuditTransactionRepository interface {
	Create(ctx context.Context, tx domain.AuditTransaction) (domain.AuditTransaction, error)
	ListByRecord(ctx context.Context, recordID string) ([]domain.AuditTransaction, error)
	ListByInitiator(ctx context.Context, initiatorID string) ([]domain.AuditTransaction, error)
	GetByTxHash(ctx context.Context, txHash string) (domain.AuditTransaction, error)
}
