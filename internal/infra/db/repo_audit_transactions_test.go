package db

import (
	"context"
	"errors"
	"testing"
)

func TestAuditTransactionRepositoryWithoutDB(t *testing.T) {
	repo := NewAuditTransactionRepository(nil)
	if _, err := repo.ListByRecord(context.Background(), "REC001"); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
	store := &Store{}
	if err := store.Migrate(); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable from migrate, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("expected nil close for no-db store, got %v", err)
	}
}
