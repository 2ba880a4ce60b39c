package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"medledger/internal/config"
	"medledger/internal/domain"
	"medledger/internal/infra/policyopa"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type recordRequest struct {
	RecordID   string `json:"record_id"`
	PatientID  string `json:"patient_id"`
	DoctorID   string `json:"doctor_id"`
	Diagnosis  string `json:"diagnosis"`
	Treatment  string `json:"treatment"`
	RecordDate string `json:"record_date"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type grantAccessRequest struct {
	GranteeID string `json:"grantee_id"`
}

func (s *Server) handleCreateRecord(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermRecordsWrite)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeRecordsWrite, principal) {
		return
	}
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	descriptor, err := req.descriptor(principal)
	if err != nil {
		writeError(c, err)
		return
	}
	receipt, err := s.provenance.CreateRecordEvent(c.Request.Context(), descriptor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReceiptResponse(receipt))
}

func (s *Server) handleUpdateRecord(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermRecordsWrite)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeRecordsWrite, principal) {
		return
	}
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	recordID := c.Param("record_id")
	if req.RecordID != "" && req.RecordID != recordID {
		writeError(c, domain.NewValidationError("record_id", "does not match path"))
		return
	}
	req.RecordID = recordID
	descriptor, err := req.descriptor(principal)
	if err != nil {
		writeError(c, err)
		return
	}
	receipt, err := s.provenance.UpdateRecordEvent(c.Request.Context(), descriptor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReceiptResponse(receipt))
}

func (s *Server) handleRevokeRecord(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermRecordsRevoke)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeRecordsWrite, principal) {
		return
	}
	var req revokeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
			return
		}
	}
	receipt, err := s.provenance.RevokeRecordEvent(c.Request.Context(), domain.RecordDescriptor{
		RecordID:    c.Param("record_id"),
		Reason:      req.Reason,
		InitiatorID: principal.Subject,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReceiptResponse(receipt))
}

func (s *Server) handleGrantAccess(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermRecordsShare)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeRecordsWrite, principal) {
		return
	}
	var req grantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	receipt, err := s.provenance.GrantAccessEvent(c.Request.Context(), domain.RecordDescriptor{
		RecordID:    c.Param("record_id"),
		GranteeID:   req.GranteeID,
		InitiatorID: principal.Subject,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReceiptResponse(receipt))
}

func (s *Server) handleVerifyRecord(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermLedgerRead)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeRecordsRead, principal) {
		return
	}
	result, err := s.provenance.VerifyRecord(c.Request.Context(), c.Param("record_id"), c.Query("content_hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verificationResponse{
		RecordID:   result.RecordID,
		Valid:      result.Valid,
		BlockHash:  result.BlockHash,
		BlockIndex: result.BlockIndex,
		Message:    result.Message,
	})
}

func (s *Server) handleRecordHistory(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermLedgerRead)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeRecordsRead, principal) {
		return
	}
	history, err := s.provenance.GetHistory(c.Request.Context(), c.Param("record_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toHistoryResponse(history))
}

func (s *Server) handleLedgerInfo(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermLedgerRead)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeLedgerRead, principal) {
		return
	}
	info := s.provenance.Info(c.Request.Context())
	c.JSON(http.StatusOK, ledgerInfoResponse{
		TotalBlocks: info.TotalBlocks,
		LatestBlock: toBlockResponse(info.LatestBlock),
		IsValid:     info.IsValid,
		Difficulty:  info.Difficulty,
	})
}

func (s *Server) handleBlockByHash(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermLedgerBlocks)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeLedgerRead, principal) {
		return
	}
	blk, err := s.provenance.BlockByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBlockResponse(blk))
}

func (s *Server) handleValidateLedger(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermLedgerValidate)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeLedgerValidate, principal) {
		return
	}
	c.JSON(http.StatusOK, s.provenance.ValidateChain(c.Request.Context()))
}

// handleTransactions lists the caller's own audit transactions. Admins, and
// any caller when auth is disabled, may name another initiator.
func (s *Server) handleTransactions(c *gin.Context) {
	principal, ok := s.requireAuth(c, policyopa.PermLedgerRead)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeTransactions, principal) {
		return
	}
	initiator := principal.Subject
	if requested := strings.TrimSpace(c.Query("initiator_id")); requested != "" {
		if requested != initiator && s.cfg.AuthMode != config.AuthModeNone && !principal.HasRole("admin") {
			writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "cannot list another initiator's transactions")
			return
		}
		initiator = requested
	}
	txs, err := s.provenance.TransactionsByInitiator(c.Request.Context(), initiator)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	c.JSON(http.StatusOK, gin.H{"initiator_id": initiator, "transactions": out, "total": len(out)})
}

func (r recordRequest) descriptor(principal domain.Principal) (domain.RecordDescriptor, error) {
	recordDate, err := parseRecordDate(r.RecordDate)
	if err != nil {
		return domain.RecordDescriptor{}, err
	}
	return domain.RecordDescriptor{
		RecordID:    r.RecordID,
		PatientID:   r.PatientID,
		DoctorID:    r.DoctorID,
		Diagnosis:   r.Diagnosis,
		Treatment:   r.Treatment,
		RecordDate:  recordDate,
		InitiatorID: principal.Subject,
	}, nil
}

func parseRecordDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, domain.NewValidationError("record_date", "must be RFC3339 or YYYY-MM-DD")
}

func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		var details map[string]any
		if verr.Field != "" {
			details = map[string]any{"field": verr.Field}
		}
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: verr.Error(), Details: details})
	case errors.Is(err, domain.ErrValidation):
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrPersistence):
		writeErrorCode(c, http.StatusServiceUnavailable, "PERSISTENCE_FAILED", "ledger persistence failed")
	case errors.Is(err, domain.ErrIntegrity):
		writeErrorCode(c, http.StatusConflict, "INTEGRITY_VIOLATION", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "forbidden")
	default:
		_ = c.Error(err)
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}
