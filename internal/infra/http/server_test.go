package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medledger/internal/config"
	"medledger/internal/domain"
	"medledger/internal/infra/auditmem"
	"medledger/internal/infra/auth/jwtauth"
	"medledger/internal/infra/chainmem"
	"medledger/internal/infra/ratelimit"
	"medledger/internal/ledger"
	"medledger/internal/usecase"
)

type testEnv struct {
	server *Server
	ledger *ledger.Ledger
	audit  *auditmem.Repository
}

func newTestEnv(t *testing.T, cfg config.Config, deps ServerDeps) testEnv {
	t.Helper()
	l, err := ledger.Open(context.Background(), chainmem.New(), ledger.Options{Difficulty: 1})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	audit := auditmem.New()
	deps.Provenance = usecase.NewProvenanceService(l, audit, nil, zerolog.Nop())
	deps.Logger = zerolog.Nop()
	if cfg.AuthMode == "" {
		cfg.AuthMode = config.AuthModeNone
	}
	return testEnv{server: NewServer(cfg, deps), ledger: l, audit: audit}
}

func (e testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func fluRequest(diagnosis string) recordRequest {
	return recordRequest{
		RecordID:   "REC001",
		PatientID:  "P1",
		DoctorID:   "D1",
		Diagnosis:  diagnosis,
		Treatment:  "rest",
		RecordDate: "2024-01-15",
	}
}

func fluHash(diagnosis string) string {
	return usecase.ContentHash(domain.RecordDescriptor{
		RecordID:   "REC001",
		PatientID:  "P1",
		DoctorID:   "D1",
		Diagnosis:  diagnosis,
		Treatment:  "rest",
		RecordDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	})
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, config.Config{}, ServerDeps{})

	rec := env.do(t, http.MethodPost, "/v1/records", fluRequest("flu"), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[receiptResponse](t, rec)
	if created.BlockIndex != 1 || created.ContentHash != fluHash("flu") || created.TransactionID == "" {
		t.Fatalf("unexpected receipt %+v", created)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	rec = env.do(t, http.MethodGet, "/v1/records/REC001/verify?content_hash="+fluHash("flu"), nil, nil)
	verify := decode[verificationResponse](t, rec)
	if rec.Code != http.StatusOK || !verify.Valid {
		t.Fatalf("expected valid verification, got %d %+v", rec.Code, verify)
	}

	update := fluRequest("severe flu")
	update.RecordID = ""
	rec = env.do(t, http.MethodPut, "/v1/records/REC001", update, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/records/REC001/verify?content_hash="+fluHash("flu"), nil, nil)
	if decode[verificationResponse](t, rec).Valid {
		t.Fatalf("expected stale content hash to fail verification")
	}
	rec = env.do(t, http.MethodGet, "/v1/records/REC001/verify?content_hash="+fluHash("severe flu"), nil, nil)
	current := decode[verificationResponse](t, rec)
	if !current.Valid || current.BlockIndex == nil || *current.BlockIndex != 2 {
		t.Fatalf("expected current content to verify at index 2, got %+v", current)
	}

	rec = env.do(t, http.MethodGet, "/v1/records/REC001/history", nil, nil)
	history := decode[historyResponse](t, rec)
	if rec.Code != http.StatusOK || history.TotalBlocks != 2 || history.Blocks[0].Index != 1 {
		t.Fatalf("unexpected history %d %+v", rec.Code, history)
	}
	if history.Blocks[1].Payload["kind"] != "UPDATE" || history.Transactions[0].Action != "UPDATE" {
		t.Fatalf("unexpected history ordering %+v", history)
	}

	rec = env.do(t, http.MethodGet, "/v1/ledger/info", nil, nil)
	info := decode[ledgerInfoResponse](t, rec)
	if info.TotalBlocks != 3 || !info.IsValid || info.Difficulty != 1 {
		t.Fatalf("unexpected info %+v", info)
	}

	rec = env.do(t, http.MethodGet, "/v1/ledger/blocks/"+created.BlockHash, nil, nil)
	blk := decode[blockResponse](t, rec)
	if rec.Code != http.StatusOK || blk.Index != 1 || blk.Payload["content_hash"] != fluHash("flu") {
		t.Fatalf("unexpected block %d %+v", rec.Code, blk)
	}

	rec = env.do(t, http.MethodPost, "/v1/ledger/validate", nil, nil)
	status := decode[domain.ChainStatus](t, rec)
	if !status.Valid || status.Length != 3 {
		t.Fatalf("unexpected chain status %+v", status)
	}

	rec = env.do(t, http.MethodGet, "/v1/transactions?initiator_id=D1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions: expected 200, got %d", rec.Code)
	}
	var txs struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil || txs.Total != 2 {
		t.Fatalf("expected 2 transactions for D1, got %s", rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, config.Config{}, ServerDeps{})

	bad := fluRequest("flu")
	bad.PatientID = " "
	rec := env.do(t, http.MethodPost, "/v1/records", bad, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decode[errorResponse](t, rec)
	if body.Code != "VALIDATION_FAILED" || body.Details["field"] != "patient_id" {
		t.Fatalf("unexpected validation body %+v", body)
	}
	if env.ledger.Len() != 1 {
		t.Fatalf("validation failure must not append")
	}

	badDate := fluRequest("flu")
	badDate.RecordDate = "15/01/2024"
	rec = env.do(t, http.MethodPost, "/v1/records", badDate, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad record date, got %d", rec.Code)
	}

	mismatch := fluRequest("flu")
	mismatch.RecordID = "REC002"
	rec = env.do(t, http.MethodPut, "/v1/records/REC001", mismatch, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for record id mismatch, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/records/NOPE/history", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown history, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/ledger/blocks/abc", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown block, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/records/NOPE/verify?content_hash=abc", nil, nil)
	verify := decode[verificationResponse](t, rec)
	if rec.Code != http.StatusOK || verify.Valid || verify.Message != usecase.MessageRecordNotFound {
		t.Fatalf("expected not-found verification, got %d %+v", rec.Code, verify)
	}

	rec = env.do(t, http.MethodGet, "/v1/nothing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestRevokeOverHTTP(t *testing.T) {
	env := newTestEnv(t, config.Config{}, ServerDeps{})
	if rec := env.do(t, http.MethodPost, "/v1/records", fluRequest("flu"), nil); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/v1/records/REC001/revoke", revokeRequest{Reason: "entered in error"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/v1/records/REC001/verify?content_hash="+fluHash("flu"), nil, nil)
	verify := decode[verificationResponse](t, rec)
	if verify.Valid || verify.Message != usecase.MessageRecordRevoked {
		t.Fatalf("expected revoked verification, got %+v", verify)
	}

	rec = env.do(t, http.MethodPost, "/v1/records/REC001/revoke", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke without body: expected 200, got %d", rec.Code)
	}
}

func TestGrantAccessOverHTTP(t *testing.T) {
	env := newTestEnv(t, config.Config{AuthMode: config.AuthModeHeader}, ServerDeps{})
	doctor := map[string]string{headerSubject: "dr-house", headerRoles: "doctor"}
	patient := map[string]string{headerSubject: "P1", headerRoles: "patient"}

	rec := env.do(t, http.MethodPost, "/v1/records/REC001/access", grantAccessRequest{GranteeID: "dr-wilson"}, patient)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before the record exists, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/records", fluRequest("flu"), doctor); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/records/REC001/access", grantAccessRequest{}, patient)
	body := decode[errorResponse](t, rec)
	if rec.Code != http.StatusBadRequest || body.Details["field"] != "grantee_id" {
		t.Fatalf("expected grantee_id validation error, got %d %+v", rec.Code, body)
	}

	rec = env.do(t, http.MethodPost, "/v1/records/REC001/access", grantAccessRequest{GranteeID: "dr-wilson"}, patient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	receipt := decode[receiptResponse](t, rec)
	if receipt.BlockIndex != 2 || receipt.ContentHash != "" {
		t.Fatalf("unexpected grant receipt %+v", receipt)
	}

	txs, err := env.audit.ListByInitiator(context.Background(), "P1")
	if err != nil || len(txs) != 1 || txs[0].Action != domain.AuditActionGrant {
		t.Fatalf("expected patient grant transaction, got %+v %v", txs, err)
	}

	rec = env.do(t, http.MethodGet, "/v1/records/REC001/verify?content_hash="+fluHash("flu"), nil, patient)
	verify := decode[verificationResponse](t, rec)
	if !verify.Valid {
		t.Fatalf("grant must not affect verification, got %+v", verify)
	}
}

func TestHeaderAuthEnforcesRoles(t *testing.T) {
	env := newTestEnv(t, config.Config{AuthMode: config.AuthModeHeader}, ServerDeps{})

	rec := env.do(t, http.MethodPost, "/v1/records", fluRequest("flu"), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without subject, got %d", rec.Code)
	}

	patient := map[string]string{headerSubject: "P1", headerRoles: "patient"}
	rec = env.do(t, http.MethodPost, "/v1/records", fluRequest("flu"), patient)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for patient write, got %d", rec.Code)
	}

	doctor := map[string]string{headerSubject: "dr-house", headerRoles: "Doctor"}
	rec = env.do(t, http.MethodPost, "/v1/records", fluRequest("flu"), doctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for doctor write, got %d: %s", rec.Code, rec.Body.String())
	}

	txs, err := env.audit.ListByInitiator(context.Background(), "dr-house")
	if err != nil || len(txs) != 1 {
		t.Fatalf("expected authenticated subject as initiator, got %v %v", txs, err)
	}

	rec = env.do(t, http.MethodGet, "/v1/ledger/info", nil, patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected any authenticated caller to read info, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/v1/ledger/validate", nil, doctor)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for doctor validate, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/transactions?initiator_id=dr-house", nil, patient)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing another initiator, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/transactions", nil, doctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected own transactions, got %d", rec.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	authenticator, err := jwtauth.NewAuthenticator("test-secret", "medledger", "", time.Minute)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	cfg := config.Config{AuthMode: config.AuthModeJWT, JWTSecret: "test-secret", JWTIssuer: "medledger"}
	env := newTestEnv(t, cfg, ServerDeps{Authenticator: authenticator})

	rec := env.do(t, http.MethodPost, "/v1/ledger/validate", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	token, err := authenticator.Sign("ops-1", []string{"admin"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = env.do(t, http.MethodPost, "/v1/ledger/validate", nil, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin token, got %d: %s", rec.Code, rec.Body.String())
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{}, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	cfg := config.Config{RateLimitRequests: 1, RateLimitWindowSeconds: 60}
	env := newTestEnv(t, cfg, ServerDeps{RateLimiter: ratelimit.NewMemoryLimiter(10, nil)})

	rec := env.do(t, http.MethodGet, "/v1/ledger/info", nil, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("RateLimit-Limit") != "1" {
		t.Fatalf("expected first request allowed with headers, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/ledger/info", nil, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}

	open := newTestEnv(t, cfg, ServerDeps{RateLimiter: brokenLimiter{}})
	if rec := open.do(t, http.MethodGet, "/v1/ledger/info", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected fail-open, got %d", rec.Code)
	}
	cfg.RateLimitFailClosed = true
	closed := newTestEnv(t, cfg, ServerDeps{RateLimiter: brokenLimiter{}})
	if rec := closed.do(t, http.MethodGet, "/v1/ledger/info", nil, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected fail-closed 429, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, config.Config{LedgerBackend: config.BackendMemory}, ServerDeps{})
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" || body["backend"] != config.BackendMemory {
		t.Fatalf("unexpected health body %+v", body)
	}
}
