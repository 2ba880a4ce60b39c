package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"

	"medledger/internal/config"
	"medledger/internal/domain"
)

func setLedgerEnv(t *testing.T, backend, path string) {
	t.Helper()
	t.Setenv("LEDGER_BACKEND", backend)
	t.Setenv("LEDGER_PATH", path)
	t.Setenv("AUDIT_PATH", "")
	t.Setenv("LEDGER_DIFFICULTY", "0")
	t.Setenv("LEDGER_STRICT_INTEGRITY", "false")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("AUTH_MODE", "none")
	t.Setenv("LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	pterm.DisableColor()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seedRecord(t *testing.T) domain.Receipt {
	t.Helper()
	a, err := newApp(context.Background(), config.FromEnv())
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer a.close()
	receipt, err := a.service.CreateRecordEvent(context.Background(), domain.RecordDescriptor{
		RecordID:   "REC001",
		PatientID:  "P1",
		DoctorID:   "D1",
		Diagnosis:  "flu",
		RecordDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	return receipt
}

func TestValidateAndInfoOnFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	setLedgerEnv(t, config.BackendFile, path)
	receipt := seedRecord(t)

	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "chain valid: 2 blocks") {
		t.Fatalf("unexpected validate output %q", out)
	}

	out, err = execute(t, "info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, receipt.BlockHash) || !strings.Contains(out, "file") {
		t.Fatalf("expected tip hash and backend in info output %q", out)
	}

	out, err = execute(t, "history", "REC001")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "1 block(s)") || !strings.Contains(out, "CREATE") {
		t.Fatalf("unexpected history output %q", out)
	}

	if _, err := execute(t, "history", "NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown record, got %v", err)
	}

	if _, err := execute(t, "compact"); err != nil {
		t.Fatalf("compact without store support: %v", err)
	}
}

func TestValidateReportsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	setLedgerEnv(t, config.BackendFile, path)
	receipt := seedRecord(t)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	tampered := strings.Replace(string(raw), receipt.ContentHash, strings.Repeat("f", 64), 1)
	if tampered == string(raw) {
		t.Fatalf("content hash not found in snapshot")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	out, err := execute(t, "validate")
	if !errors.Is(err, errChainInvalid) {
		t.Fatalf("expected invalid chain error, got %v", err)
	}
	if !strings.Contains(out, "chain invalid at block 1") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestAuditTransactionsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	setLedgerEnv(t, config.BackendFile, path)
	receipt := seedRecord(t)
	if receipt.TransactionID == "" || receipt.AuditError != "" {
		t.Fatalf("expected audit transaction on receipt, got %+v", receipt)
	}

	a, err := newApp(context.Background(), config.FromEnv())
	if err != nil {
		t.Fatalf("reopen app: %v", err)
	}
	defer a.close()
	history, err := a.service.GetHistory(context.Background(), "REC001")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.TotalTransactions != 1 || history.Transactions[0].TxHash != receipt.BlockHash {
		t.Fatalf("expected persisted audit transaction, got %+v", history.Transactions)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "audit.db")); err != nil {
		t.Fatalf("expected audit store next to the ledger: %v", err)
	}
}

func TestCompactLevelDB(t *testing.T) {
	setLedgerEnv(t, config.BackendLevelDB, filepath.Join(t.TempDir(), "ledger.db"))
	seedRecord(t)

	if _, err := execute(t, "compact"); err != nil {
		t.Fatalf("compact: %v", err)
	}
	out, err := execute(t, "validate")
	if err != nil || !strings.Contains(out, "chain valid: 2 blocks") {
		t.Fatalf("expected valid chain after compaction, got %q %v", out, err)
	}
}

func TestUnknownBackendFails(t *testing.T) {
	setLedgerEnv(t, "tape", "")
	if _, err := execute(t, "info"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("JWT_ISSUER", "")
	t.Setenv("JWT_AUDIENCE", "")
	out, err := execute(t, "token", "ops-1", "--role", "admin", "--ttl", "10m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", out)
	}
}
