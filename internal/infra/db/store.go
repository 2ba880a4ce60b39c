package db

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store holds the gorm connection for the audit transaction tables. A nil DB
// means no database was configured; repositories then report errDBUnavailable.
type Store struct {
	DB *gorm.DB
}

func NewStore(dsn string, log zerolog.Logger) (*Store, error) {
	if dsn == "" {
		log.Warn().Msg("POSTGRES_DSN not set; audit transactions will not be persisted to postgres")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Migrate() error {
	if s == nil || s.DB == nil {
		return errDBUnavailable
	}
	if err := s.DB.AutoMigrate(&AuditTransactionModel{}); err != nil {
		return fmt.Errorf("migrate audit transactions: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
