package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"medledger/internal/config"
	"medledger/internal/infra/auditlevel"
	"medledger/internal/infra/auditmem"
	"medledger/internal/infra/chaindb"
	"medledger/internal/infra/chainfile"
	"medledger/internal/infra/chainlevel"
	"medledger/internal/infra/chainmem"
	"medledger/internal/infra/db"
	"medledger/internal/ledger"
	"medledger/internal/logging"
	"medledger/internal/usecase"
)

// app is the wired process: one ledger, one audit repository and the
// service on top. close releases every backend that was opened.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	ledger  *ledger.Ledger
	service *usecase.ProvenanceService
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{
		cfg: cfg,
		log: logging.New(cfg.LogLevel, cfg.IsDevelopment()),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	l, err := ledger.Open(ctx, store, ledger.Options{
		Difficulty:      cfg.LedgerDifficulty,
		StrictIntegrity: cfg.LedgerStrictIntegrity,
		Logger:          a.log.With().Str("component", "ledger").Logger(),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = l

	audit, err := a.openAudit()
	if err != nil {
		a.close()
		return nil, err
	}
	a.service = usecase.NewProvenanceService(l, audit, nil, a.log.With().Str("component", "provenance").Logger())
	return a, nil
}

func (a *app) openStore(ctx context.Context) (ledger.Store, error) {
	switch a.cfg.LedgerBackend {
	case config.BackendMemory:
		a.log.Warn().Msg("memory ledger backend selected; blocks are lost on exit")
		return chainmem.New(), nil
	case config.BackendFile:
		return chainfile.New(a.cfg.LedgerPath)
	case config.BackendLevelDB:
		store, err := chainlevel.Open(a.cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.BackendPostgres:
		store, err := chaindb.NewStore(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", a.cfg.LedgerBackend)
	}
}

// openAudit uses postgres when POSTGRES_DSN is set. Otherwise audit rows go
// to a LevelDB directory at AUDIT_PATH, or stay in memory alongside a memory
// ledger.
func (a *app) openAudit() (usecase.AuditTransactionRepository, error) {
	if a.cfg.PostgresDSN == "" {
		if a.cfg.LedgerBackend == config.BackendMemory {
			return auditmem.New(), nil
		}
		repo, err := auditlevel.Open(a.cfg.AuditPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		a.log.Info().Str("path", a.cfg.AuditPath).Msg("audit transactions stored in leveldb")
		return repo, nil
	}
	store, err := db.NewStore(a.cfg.PostgresDSN, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return db.NewAuditTransactionRepository(store.DB), nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
