package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medledger/internal/domain"
	"medledger/internal/validation"
)

const (
	MessageRecordNotFound    = "record not found on ledger"
	MessageRecordValid       = "record is valid"
	MessageRecordRevoked     = "record revoked"
	MessageContentMismatch   = "record integrity compromised: content hash mismatch"
	MessageLedgerCompromised = "record integrity compromised: ledger validation failed"
	MessageNoContentOnLedger = "record has no content events on ledger"
)

// ProvenanceService turns record events into ledger blocks and keeps the
// correlated audit transactions.
type ProvenanceService struct {
	Ledger Ledger
	Audit  AuditTransactionRepository
	Clock  Clock
	Log    zerolog.Logger
}

func NewProvenanceService(ledger Ledger, audit AuditTransactionRepository, clock Clock, log zerolog.Logger) *ProvenanceService {
	return &ProvenanceService{
		Ledger: ledger,
		Audit:  audit,
		Clock:  clock,
		Log:    log,
	}
}

func (s *ProvenanceService) CreateRecordEvent(ctx context.Context, d domain.RecordDescriptor) (domain.Receipt, error) {
	if err := validation.Descriptor(validation.Create, d); err != nil {
		return domain.Receipt{}, err
	}
	contentHash := ContentHash(d)
	event := domain.CreateEvent{
		RecordID:    d.RecordID,
		PatientID:   d.PatientID,
		DoctorID:    d.DoctorID,
		ContentHash: contentHash,
	}
	return s.append(ctx, event, d, domain.AuditActionCreate, contentHash)
}

func (s *ProvenanceService) UpdateRecordEvent(ctx context.Context, d domain.RecordDescriptor) (domain.Receipt, error) {
	if err := validation.Descriptor(validation.Update, d); err != nil {
		return domain.Receipt{}, err
	}
	contentHash := ContentHash(d)
	event := domain.UpdateEvent{
		RecordID:    d.RecordID,
		ContentHash: contentHash,
	}
	return s.append(ctx, event, d, domain.AuditActionUpdate, contentHash)
}

func (s *ProvenanceService) RevokeRecordEvent(ctx context.Context, d domain.RecordDescriptor) (domain.Receipt, error) {
	if err := validation.Descriptor(validation.Revoke, d); err != nil {
		return domain.Receipt{}, err
	}
	event := domain.RevokeEvent{
		RecordID: d.RecordID,
		Reason:   d.Reason,
	}
	return s.append(ctx, event, d, domain.AuditActionRevoke, "")
}

// GrantAccessEvent records that d.GranteeID was given access to an existing,
// non-revoked record.
func (s *ProvenanceService) GrantAccessEvent(ctx context.Context, d domain.RecordDescriptor) (domain.Receipt, error) {
	if err := validation.Descriptor(validation.Grant, d); err != nil {
		return domain.Receipt{}, err
	}
	if s == nil || s.Ledger == nil {
		return domain.Receipt{}, errors.New("ledger required")
	}
	blocks := s.Ledger.FindByCorrelationID(d.RecordID)
	if len(blocks) == 0 {
		return domain.Receipt{}, &domain.NotFoundError{Kind: "record", ID: d.RecordID}
	}
	if last, ok := lastLifecycleBlock(blocks); ok && last.Payload.Kind() == domain.EventRevoke {
		return domain.Receipt{}, domain.NewValidationError("record_id", "record is revoked")
	}
	event := domain.GrantAccessEvent{
		RecordID:  d.RecordID,
		GranteeID: d.GranteeID,
	}
	return s.append(ctx, event, d, domain.AuditActionGrant, "")
}

func (s *ProvenanceService) append(ctx context.Context, event domain.Event, d domain.RecordDescriptor, action domain.AuditAction, contentHash string) (domain.Receipt, error) {
	if s == nil || s.Ledger == nil {
		return domain.Receipt{}, errors.New("ledger required")
	}
	blk, err := s.Ledger.Append(ctx, event)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt := domain.Receipt{
		BlockHash:   blk.Hash,
		BlockIndex:  blk.Index,
		ContentHash: contentHash,
	}

	tx, err := s.recordTransaction(ctx, blk, d.RecordID, action, initiatorOf(d))
	if err != nil {
		// The block is committed; the audit row is best effort.
		s.Log.Warn().
			Err(err).
			Str("record_id", d.RecordID).
			Str("block_hash", blk.Hash).
			Int64("block_index", blk.Index).
			Msg("audit transaction write failed")
		receipt.AuditError = err.Error()
		return receipt, nil
	}
	receipt.TransactionID = tx.ID
	return receipt, nil
}

func (s *ProvenanceService) recordTransaction(ctx context.Context, blk domain.Block, recordID string, action domain.AuditAction, initiator string) (domain.AuditTransaction, error) {
	if s.Audit == nil {
		return domain.AuditTransaction{}, errors.New("audit repository not configured")
	}
	return s.Audit.Create(ctx, domain.AuditTransaction{
		TxHash:      blk.Hash,
		BlockNumber: blk.Index,
		RecordID:    recordID,
		Action:      action,
		InitiatorID: initiator,
		Status:      domain.AuditStatusSuccess,
		CreatedAt:   s.now(),
	})
}

// VerifyRecord compares expectedContentHash with the content hash of the most
// recent CREATE or UPDATE block for recordID and checks the whole chain. A
// record with no blocks is reported as invalid, not as an error.
func (s *ProvenanceService) VerifyRecord(ctx context.Context, recordID, expectedContentHash string) (domain.VerificationResult, error) {
	if strings.TrimSpace(recordID) == "" {
		return domain.VerificationResult{}, domain.NewValidationError("record_id", "is required")
	}
	if strings.TrimSpace(expectedContentHash) == "" {
		return domain.VerificationResult{}, domain.NewValidationError("content_hash", "is required")
	}
	result := domain.VerificationResult{RecordID: recordID}

	blocks := s.Ledger.FindByCorrelationID(recordID)
	if len(blocks) == 0 {
		result.Message = MessageRecordNotFound
		return result, nil
	}

	last, ok := lastLifecycleBlock(blocks)
	if !ok {
		last = blocks[len(blocks)-1]
	}
	if last.Payload.Kind() == domain.EventRevoke {
		setBlock(&result, last)
		result.Message = MessageRecordRevoked
		return result, nil
	}

	var (
		content domain.Block
		stored  string
		found   bool
	)
	for i := len(blocks) - 1; i >= 0; i-- {
		if h, ok := domain.EventContentHash(blocks[i].Payload); ok {
			content, stored, found = blocks[i], h, true
			break
		}
	}
	if !found {
		setBlock(&result, last)
		result.Message = MessageNoContentOnLedger
		return result, nil
	}
	setBlock(&result, content)

	hashMatch := strings.EqualFold(stored, strings.TrimSpace(expectedContentHash))
	status := s.Ledger.Validate()
	switch {
	case !status.Valid:
		result.Message = MessageLedgerCompromised
		s.Log.Error().
			Str("record_id", recordID).
			Str("reason", status.Reason).
			Msg("verification found invalid ledger")
	case !hashMatch:
		result.Message = MessageContentMismatch
	default:
		result.Valid = true
		result.Message = MessageRecordValid
	}
	return result, nil
}

// lastLifecycleBlock returns the newest block that changes the record's state.
// Access grants are skipped.
func lastLifecycleBlock(blocks []domain.Block) (domain.Block, bool) {
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Payload.Kind() != domain.EventGrantAccess {
			return blocks[i], true
		}
	}
	return domain.Block{}, false
}

func setBlock(result *domain.VerificationResult, b domain.Block) {
	idx := b.Index
	result.BlockHash = b.Hash
	result.BlockIndex = &idx
}

// GetHistory returns the record's blocks in chain order and its audit
// transactions newest first.
func (s *ProvenanceService) GetHistory(ctx context.Context, recordID string) (domain.RecordHistory, error) {
	if strings.TrimSpace(recordID) == "" {
		return domain.RecordHistory{}, domain.NewValidationError("record_id", "is required")
	}
	blocks := s.Ledger.FindByCorrelationID(recordID)

	var txs []domain.AuditTransaction
	if s.Audit != nil {
		var err error
		txs, err = s.Audit.ListByRecord(ctx, recordID)
		if err != nil {
			return domain.RecordHistory{}, fmt.Errorf("list audit transactions: %w", err)
		}
	}
	if len(blocks) == 0 && len(txs) == 0 {
		return domain.RecordHistory{}, &domain.NotFoundError{Kind: "record", ID: recordID}
	}
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
	if blocks == nil {
		blocks = []domain.Block{}
	}
	if txs == nil {
		txs = []domain.AuditTransaction{}
	}
	return domain.RecordHistory{
		RecordID:          recordID,
		Blocks:            blocks,
		Transactions:      txs,
		TotalTransactions: len(txs),
		TotalBlocks:       len(blocks),
	}, nil
}

func (s *ProvenanceService) Info(ctx context.Context) domain.LedgerInfo {
	return domain.LedgerInfo{
		TotalBlocks: s.Ledger.Len(),
		LatestBlock: s.Ledger.Latest(),
		IsValid:     s.Ledger.Validate().Valid,
		Difficulty:  s.Ledger.Difficulty(),
	}
}

func (s *ProvenanceService) ValidateChain(ctx context.Context) domain.ChainStatus {
	status := s.Ledger.Validate()
	if !status.Valid {
		s.Log.Error().
			Int64("first_bad_index", *status.FirstBadIndex).
			Str("reason", status.Reason).
			Msg("ledger validation failed")
	}
	return status
}

func (s *ProvenanceService) BlockByHash(ctx context.Context, hash string) (domain.Block, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return domain.Block{}, domain.NewValidationError("hash", "is required")
	}
	blk, ok := s.Ledger.ByHash(hash)
	if !ok {
		return domain.Block{}, &domain.NotFoundError{Kind: "block", ID: hash}
	}
	return blk, nil
}

func (s *ProvenanceService) TransactionsByInitiator(ctx context.Context, initiatorID string) ([]domain.AuditTransaction, error) {
	if strings.TrimSpace(initiatorID) == "" {
		return nil, domain.NewValidationError("initiator_id", "is required")
	}
	if s.Audit == nil {
		return []domain.AuditTransaction{}, nil
	}
	txs, err := s.Audit.ListByInitiator(ctx, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("list audit transactions: %w", err)
	}
	if txs == nil {
		txs = []domain.AuditTransaction{}
	}
	return txs, nil
}

func initiatorOf(d domain.RecordDescriptor) string {
	switch {
	case strings.TrimSpace(d.InitiatorID) != "":
		return d.InitiatorID
	case strings.TrimSpace(d.DoctorID) != "":
		return d.DoctorID
	default:
		return domain.AuditInitiatorSystem
	}
}

func (s *ProvenanceService) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}
