package config

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("LEDGER_PATH", "")
	t.Setenv("LEDGER_DIFFICULTY", "")
	t.Setenv("AUTH_MODE", "")
	t.Setenv("AUDIT_PATH", "")

	cfg := FromEnv()
	if cfg.LedgerBackend != BackendFile {
		t.Fatalf("expected file backend, got %q", cfg.LedgerBackend)
	}
	if cfg.LedgerPath != "data/ledger.json" {
		t.Fatalf("unexpected ledger path %q", cfg.LedgerPath)
	}
	if cfg.AuditPath != "data/audit.db" {
		t.Fatalf("unexpected audit path %q", cfg.AuditPath)
	}
	if cfg.LedgerDifficulty != 2 {
		t.Fatalf("expected difficulty 2, got %d", cfg.LedgerDifficulty)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("expected auth mode none, got %q", cfg.AuthMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestFromEnvAllowsZeroDifficulty(t *testing.T) {
	t.Setenv("LEDGER_DIFFICULTY", "0")
	if got := FromEnv().LedgerDifficulty; got != 0 {
		t.Fatalf("expected difficulty 0, got %d", got)
	}
	t.Setenv("LEDGER_DIFFICULTY", "-3")
	if got := FromEnv().LedgerDifficulty; got != 2 {
		t.Fatalf("expected negative difficulty to fall back to 2, got %d", got)
	}
}

func TestLevelDBDefaultPath(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "LevelDB")
	t.Setenv("LEDGER_PATH", "")
	cfg := FromEnv()
	if cfg.LedgerBackend != BackendLevelDB || cfg.LedgerPath != "data/ledger.db" {
		t.Fatalf("unexpected backend/path %q %q", cfg.LedgerBackend, cfg.LedgerPath)
	}
}

func TestAuditPathFollowsLedgerDirectory(t *testing.T) {
	t.Setenv("LEDGER_PATH", "/var/lib/medledger/chain.json")
	t.Setenv("AUDIT_PATH", "")
	if got := FromEnv().AuditPath; got != "/var/lib/medledger/audit.db" {
		t.Fatalf("unexpected audit path %q", got)
	}
	t.Setenv("AUDIT_PATH", "/srv/audit")
	if got := FromEnv().AuditPath; got != "/srv/audit" {
		t.Fatalf("expected explicit audit path, got %q", got)
	}
}

func TestValidateCapsDifficulty(t *testing.T) {
	cfg := Config{LedgerBackend: BackendFile, AuthMode: AuthModeNone, LedgerDifficulty: MaxLedgerDifficulty}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected difficulty %d to be accepted, got %v", MaxLedgerDifficulty, err)
	}
	cfg.LedgerDifficulty = MaxLedgerDifficulty + 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected difficulty %d to be rejected", cfg.LedgerDifficulty)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []Config{
		{LedgerBackend: "etcd", AuthMode: AuthModeNone},
		{LedgerBackend: BackendPostgres, AuthMode: AuthModeNone},
		{LedgerBackend: BackendFile, AuthMode: AuthModeJWT},
		{LedgerBackend: BackendFile, AuthMode: "oidc"},
		{LedgerBackend: BackendFile, AuthMode: AuthModeNone, LedgerDifficulty: 20},
	}
	for _, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
}
