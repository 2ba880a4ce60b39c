package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"medledger/internal/domain"
)

// Store persists the chain. Save receives the complete new chain and must
// either persist all of it or fail without altering the active state. Stores
// must not retain or modify the slice they are given.
type Store interface {
	Load(ctx context.Context) ([]domain.Block, error)
	Save(ctx context.Context, chain []domain.Block) error
}

// Compactor is implemented by stores that can reclaim space from their
// append-only log.
type Compactor interface {
	Compact(ctx context.Context) error
}

type Options struct {
	Difficulty int
	// StrictIntegrity makes Open fail when the loaded chain does not validate.
	StrictIntegrity bool
	Now             func() time.Time
	Logger          zerolog.Logger
}

// Ledger is an append-only hash chain with a single writer. Committed blocks
// are never modified, so readers copy the slice header under a short read
// lock and walk it without holding any lock.
type Ledger struct {
	store      Store
	difficulty int
	now        func() time.Time
	log        zerolog.Logger

	appendMu sync.Mutex

	mu    sync.RWMutex
	chain []domain.Block
	// byHash maps a block hash to its slice position. Leniently loaded chains
	// may carry an index field that disagrees with the position.
	byHash map[string]int
}

// Open loads the chain from store, creating and persisting a genesis block
// when the store is empty.
func Open(ctx context.Context, store Store, opts Options) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	if opts.Difficulty < 0 || opts.Difficulty > MaxDifficulty {
		return nil, domain.NewValidationError("difficulty", fmt.Sprintf("must be between 0 and %d", MaxDifficulty))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		store:      store,
		difficulty: opts.Difficulty,
		now:        now,
		log:        opts.Logger,
		byHash:     make(map[string]int),
	}

	chain, err := store.Load(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load", Index: -1, Err: err}
	}

	if len(chain) == 0 {
		genesis, err := Genesis(ctx, now(), l.difficulty)
		if err != nil {
			return nil, err
		}
		chain = []domain.Block{genesis}
		if err := store.Save(ctx, chain); err != nil {
			return nil, &domain.PersistenceError{Op: "save genesis", Index: 0, Err: err}
		}
		l.log.Info().Str("hash", genesis.Hash).Int("difficulty", l.difficulty).Msg("ledger genesis created")
	} else {
		status := ValidateChain(chain)
		if !status.Valid {
			if opts.StrictIntegrity {
				return nil, status.Err()
			}
			l.log.Error().
				Int64("first_bad_index", *status.FirstBadIndex).
				Str("reason", status.Reason).
				Msg("loaded ledger failed integrity validation")
		}
		l.log.Info().Int("blocks", len(chain)).Str("tip", chain[len(chain)-1].Hash).Msg("ledger loaded")
	}

	l.chain = chain
	for i, b := range chain {
		l.byHash[b.Hash] = i
	}
	return l, nil
}

// Append links payload to the current tip, persists the extended chain and
// only then makes the new block visible. On a persistence failure the chain
// keeps its previous length and a PersistenceError is returned.
func (l *Ledger) Append(ctx context.Context, payload domain.Event) (domain.Block, error) {
	if payload == nil {
		return domain.Block{}, domain.NewValidationError("payload", "is required")
	}
	if payload.Kind() == domain.EventGenesis {
		return domain.Block{}, domain.NewValidationError("payload", "genesis events cannot be appended")
	}
	if err := checkEncoding(payload); err != nil {
		return domain.Block{}, err
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	// Only this goroutine replaces l.chain while appendMu is held.
	tip := l.chain[len(l.chain)-1]
	index := tip.Index + 1

	blk, err := Compute(context.WithoutCancel(ctx), index, l.now(), payload, tip.Hash, l.difficulty)
	if err != nil {
		return domain.Block{}, err
	}

	// The new block lands beyond every published length, so readers holding an
	// older header never observe it.
	candidate := append(l.chain, blk)
	if err := l.store.Save(ctx, candidate); err != nil {
		l.log.Error().Err(err).Int64("index", index).Msg("ledger append failed to persist")
		return domain.Block{}, &domain.PersistenceError{Op: "append", Index: index, Err: err}
	}

	l.mu.Lock()
	l.chain = candidate
	l.byHash[blk.Hash] = len(candidate) - 1
	l.mu.Unlock()

	l.log.Debug().
		Int64("index", blk.Index).
		Str("hash", blk.Hash).
		Str("kind", string(payload.Kind())).
		Uint64("nonce", blk.Nonce).
		Msg("block appended")
	return blk, nil
}

// checkEncoding rejects payload fields that JSON stores could not round-trip.
func checkEncoding(payload domain.Event) error {
	fields := payload.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !utf8.ValidString(fields[k]) {
			return domain.NewValidationError(k, "must be valid UTF-8")
		}
	}
	return nil
}

func (l *Ledger) view() []domain.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[:len(l.chain):len(l.chain)]
}

// Snapshot returns a copy of the chain.
func (l *Ledger) Snapshot() []domain.Block {
	chain := l.view()
	out := make([]domain.Block, len(chain))
	copy(out, chain)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

func (l *Ledger) Latest() domain.Block {
	chain := l.view()
	return chain[len(chain)-1]
}

func (l *Ledger) Difficulty() int {
	return l.difficulty
}

func (l *Ledger) ByHash(hash string) (domain.Block, bool) {
	l.mu.RLock()
	pos, ok := l.byHash[hash]
	chain := l.chain
	l.mu.RUnlock()
	if !ok || pos < 0 || pos >= len(chain) {
		return domain.Block{}, false
	}
	return chain[pos], true
}

// FindByCorrelationID returns, in chain order, every block whose payload
// belongs to id.
func (l *Ledger) FindByCorrelationID(id string) []domain.Block {
	if id == "" {
		return nil
	}
	var out []domain.Block
	for _, b := range l.view() {
		if b.Payload != nil && b.Payload.CorrelationID() == id {
			out = append(out, b)
		}
	}
	return out
}

func (l *Ledger) Validate() domain.ChainStatus {
	return ValidateChain(l.view())
}

// Compact asks the store to reclaim space. It reports false when the store
// has nothing to compact.
func (l *Ledger) Compact(ctx context.Context) (bool, error) {
	c, ok := l.store.(Compactor)
	if !ok {
		return false, nil
	}
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	if err := c.Compact(ctx); err != nil {
		return true, &domain.PersistenceError{Op: "compact", Index: -1, Err: err}
	}
	l.log.Info().Int("blocks", l.Len()).Msg("ledger store compacted")
	return true, nil
}

// ValidateChain walks chain from genesis and reports the first block whose
// position, recomputed hash or linkage is wrong.
func ValidateChain(chain []domain.Block) domain.ChainStatus {
	bad := func(i int, reason string) domain.ChainStatus {
		idx := int64(i)
		return domain.ChainStatus{Valid: false, Length: len(chain), FirstBadIndex: &idx, Reason: reason}
	}
	if len(chain) == 0 {
		return bad(0, "chain is empty")
	}
	for i, b := range chain {
		if b.Index != int64(i) {
			return bad(i, fmt.Sprintf("index %d stored at position %d", b.Index, i))
		}
		if b.Payload == nil {
			return bad(i, "missing payload")
		}
		if got := RecomputeHash(b); got != b.Hash {
			return bad(i, "hash mismatch")
		}
		if i == 0 {
			if b.PreviousHash != domain.GenesisPreviousHash {
				return bad(i, "genesis previous hash must be \"0\"")
			}
			if b.Payload.Kind() != domain.EventGenesis {
				return bad(i, "first block is not a genesis event")
			}
			continue
		}
		if b.Payload.Kind() == domain.EventGenesis {
			return bad(i, "genesis event after index 0")
		}
		if b.PreviousHash != chain[i-1].Hash {
			return bad(i, "previous hash mismatch")
		}
	}
	return domain.ChainStatus{Valid: true, Length: len(chain)}
}
