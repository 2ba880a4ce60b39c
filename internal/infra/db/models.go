package db

import "time"

type AuditTransactionModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	TxHash      string    `gorm:"uniqueIndex;not null"`
	BlockNumber int64     `gorm:"not null"`
	RecordID    string    `gorm:"index;not null"`
	Action      string    `gorm:"not null"`
	InitiatorID string    `gorm:"index;not null"`
	Status      string    `gorm:"not null;default:PENDING"`
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (AuditTransactionModel) TableName() string { return "audit_transactions" }
