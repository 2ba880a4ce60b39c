package domain

import "time"

// RecordDescriptor carries the clinical fields of a record event. Only the
// content hash and routing identifiers reach the ledger.
type RecordDescriptor struct {
	RecordID    string
	PatientID   string
	DoctorID    string
	Diagnosis   string
	Treatment   string
	RecordDate  time.Time
	InitiatorID string
	Reason      string
	GranteeID   string
}

type Receipt struct {
	BlockHash     string
	BlockIndex    int64
	ContentHash   string
	TransactionID string
	AuditError    string
}

type VerificationResult struct {
	RecordID   string
	Valid      bool
	BlockHash  string
	BlockIndex *int64
	Message    string
}

type RecordHistory struct {
	RecordID          string
	Blocks            []Block
	Transactions      []AuditTransaction
	TotalTransactions int
	TotalBlocks       int
}

type LedgerInfo struct {
	TotalBlocks int
	LatestBlock Block
	IsValid     bool
	Difficulty  int
}
