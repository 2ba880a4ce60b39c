package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"

	AuthModeNone   = "none"
	AuthModeHeader = "header"
	AuthModeJWT    = "jwt"

	// MaxLedgerDifficulty bounds proof of work so that an append, which holds
	// the ledger's writer lock, finishes in well under a second.
	MaxLedgerDifficulty = 8
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	AppEnv      string

	LedgerBackend         string
	LedgerPath            string
	LedgerDifficulty      int
	LedgerStrictIntegrity bool
	AuditPath             string

	AuthMode         string
	JWTSecret        string
	JWTIssuer        string
	JWTAudience      string
	JWTClockSkewSecs int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// FromEnv reads configuration from the process environment. A .env file in
// the working directory is loaded first when present; variables already set
// in the environment win.
func FromEnv() Config {
	_ = godotenv.Load()

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	backend := strings.ToLower(envDefault("LEDGER_BACKEND", BackendFile))
	ledgerPath := envDefault("LEDGER_PATH", defaultLedgerPath(backend))
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		AppEnv:                 envDefault("APP_ENV", "production"),
		LedgerBackend:          backend,
		LedgerPath:             ledgerPath,
		LedgerDifficulty:       envNonNegativeIntDefault("LEDGER_DIFFICULTY", 2),
		LedgerStrictIntegrity:  envBoolDefault("LEDGER_STRICT_INTEGRITY", false),
		AuditPath:              envDefault("AUDIT_PATH", filepath.Join(filepath.Dir(ledgerPath), "audit.db")),
		AuthMode:               strings.ToLower(envDefault("AUTH_MODE", AuthModeNone)),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		JWTIssuer:              os.Getenv("JWT_ISSUER"),
		JWTAudience:            os.Getenv("JWT_AUDIENCE"),
		JWTClockSkewSecs:       envIntDefault("JWT_CLOCK_SKEW_SECONDS", 60),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envNonNegativeIntDefault("REDIS_DB", 0),
	}
}

func (c Config) Validate() error {
	switch c.LedgerBackend {
	case BackendMemory, BackendFile, BackendLevelDB:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("LEDGER_BACKEND=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if c.LedgerDifficulty > MaxLedgerDifficulty {
		return fmt.Errorf("LEDGER_DIFFICULTY must be at most %d, got %d", MaxLedgerDifficulty, c.LedgerDifficulty)
	}
	switch c.AuthMode {
	case AuthModeNone, AuthModeHeader:
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return errors.New("AUTH_MODE=jwt requires JWT_SECRET")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c Config) JWTClockSkew() time.Duration {
	return time.Duration(c.JWTClockSkewSecs) * time.Second
}

func defaultLedgerPath(backend string) string {
	switch backend {
	case BackendLevelDB:
		return "data/ledger.db"
	default:
		return "data/ledger.json"
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// envNonNegativeIntDefault is envIntDefault for settings where zero is meaningful.
func envNonNegativeIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
