package domain

import "time"

type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionRevoke AuditAction = "REVOKE"
	AuditActionGrant  AuditAction = "GRANT_ACCESS"
)

type AuditStatus string

const (
	AuditStatusPending AuditStatus = "PENDING"
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailed  AuditStatus = "FAILED"
)

// AuditInitiatorSystem is recorded when an event has no identifiable actor.
const AuditInitiatorSystem = "system"

// AuditTransaction is the business-level record of one ledger append. TxHash
// equals the hash of the block it describes.
type AuditTransaction struct {
	ID          string
	TxHash      string
	BlockNumber int64
	RecordID    string
	Action      AuditAction
	InitiatorID string
	Status      AuditStatus
	CreatedAt   time.Time
}
