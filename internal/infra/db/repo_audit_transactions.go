package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"medledger/internal/domain"
	"medledger/internal/usecase"
)

type AuditTransactionRepository struct {
	db *gorm.DB
}

func NewAuditTransactionRepository(db *gorm.DB) *AuditTransactionRepository {
	return &AuditTransactionRepository{db: db}
}

func (r *AuditTransactionRepository) Create(ctx context.Context, tx domain.AuditTransaction) (domain.AuditTransaction, error) {
	if r.db == nil {
		return domain.AuditTransaction{}, errDBUnavailable
	}
	if tx.TxHash == "" {
		return domain.AuditTransaction{}, errors.New("tx_hash is required")
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
	tx.CreatedAt = tx.CreatedAt.UTC().Truncate(time.Microsecond)

	model := auditTransactionModelFromDomain(tx)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.AuditTransaction{}, err
	}
	return tx, nil
}

func (r *AuditTransactionRepository) ListByRecord(ctx context.Context, recordID string) ([]domain.AuditTransaction, error) {
	return r.list(ctx, "record_id = ?", recordID)
}

func (r *AuditTransactionRepository) ListByInitiator(ctx context.Context, initiatorID string) ([]domain.AuditTransaction, error) {
	return r.list(ctx, "initiator_id = ?", initiatorID)
}

func (r *AuditTransactionRepository) GetByTxHash(ctx context.Context, txHash string) (domain.AuditTransaction, error) {
	if r.db == nil {
		return domain.AuditTransaction{}, errDBUnavailable
	}
	var model AuditTransactionModel
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AuditTransaction{}, &domain.NotFoundError{Kind: "transaction", ID: txHash}
	}
	if err != nil {
		return domain.AuditTransaction{}, err
	}
	return auditTransactionFromModel(model), nil
}

func (r *AuditTransactionRepository) list(ctx context.Context, where string, arg string) ([]domain.AuditTransaction, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditTransactionModel
	if err := r.db.WithContext(ctx).
		Where(where, arg).
		Order("created_at DESC").
		Order("block_number DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditTransaction, 0, len(models))
	for _, model := range models {
		out = append(out, auditTransactionFromModel(model))
	}
	return out, nil
}

func auditTransactionModelFromDomain(tx domain.AuditTransaction) AuditTransactionModel {
	return AuditTransactionModel{
		ID:          tx.ID,
		TxHash:      tx.TxHash,
		BlockNumber: tx.BlockNumber,
		RecordID:    tx.RecordID,
		Action:      string(tx.Action),
		InitiatorID: tx.InitiatorID,
		Status:      string(tx.Status),
		CreatedAt:   tx.CreatedAt.UTC(),
	}
}

func auditTransactionFromModel(model AuditTransactionModel) domain.AuditTransaction {
	return domain.AuditTransaction{
		ID:          model.ID,
		TxHash:      model.TxHash,
		BlockNumber: model.BlockNumber,
		RecordID:    model.RecordID,
		Action:      domain.AuditAction(model.Action),
		InitiatorID: model.InitiatorID,
		Status:      domain.AuditStatus(model.Status),
		CreatedAt:   model.CreatedAt.UTC(),
	}
}

var _ usecase.AuditTransactionRepository = (*AuditTransactionRepository)(nil)
