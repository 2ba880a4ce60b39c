package chainmem

import (
	"context"
	"sync"

	"medledger/internal/domain"
	"medledger/internal/ledger"
)

// Store keeps the chain in process memory. It is used by tests and by
// LEDGER_BACKEND=memory.
type Store struct {
	mu     sync.Mutex
	blocks []domain.Block
	saves  int
}

func New(seed ...domain.Block) *Store {
	s := &Store{}
	if len(seed) > 0 {
		s.blocks = append([]domain.Block(nil), seed...)
	}
	return s
}

func (s *Store) Load(ctx context.Context) ([]domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Block(nil), s.blocks...), nil
}

func (s *Store) Save(ctx context.Context, chain []domain.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks[:0:0], chain...)
	s.saves++
	return nil
}

// Saves reports how many successful Save calls the store has seen.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

var _ ledger.Store = (*Store)(nil)
