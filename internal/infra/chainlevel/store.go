package chainlevel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"medledger/internal/domain"
	"medledger/internal/ledger"
)

var (
	blockPrefix = []byte("block/")
	heightKey   = []byte("meta/height")
	tipKey      = []byte("meta/tip")
)

// Store keeps one LevelDB entry per block. Saves only write blocks beyond the
// stored height, in a single synced batch together with the height and tip
// markers.
type Store struct {
	db *leveldb.DB
	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("chainlevel: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func blockKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockPrefix, index))
}

func (s *Store) Load(ctx context.Context) ([]domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, _, err := s.head()
	if err != nil {
		return nil, err
	}

	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()

	chain := make([]domain.Block, 0, height)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk, err := ledger.UnmarshalBlock(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("chainlevel: key %s: %w", iter.Key(), err)
		}
		chain = append(chain, blk)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("chainlevel: iterate blocks: %w", err)
	}
	if int64(len(chain)) != height {
		return nil, fmt.Errorf("chainlevel: stored height %d but found %d blocks", height, len(chain))
	}
	return chain, nil
}

func (s *Store) Save(ctx context.Context, chain []domain.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	height, tip, err := s.head()
	if err != nil {
		return err
	}
	if int64(len(chain)) < height {
		return fmt.Errorf("chainlevel: chain of %d blocks is shorter than stored height %d", len(chain), height)
	}
	if height > 0 && chain[height-1].Hash != tip {
		return fmt.Errorf("chainlevel: chain diverges from stored tip at index %d", height-1)
	}
	if int64(len(chain)) == height {
		return nil
	}

	batch := new(leveldb.Batch)
	for _, b := range chain[height:] {
		data, err := ledger.MarshalBlock(b)
		if err != nil {
			return fmt.Errorf("chainlevel: encode block %d: %w", b.Index, err)
		}
		batch.Put(blockKey(b.Index), data)
	}
	batch.Put(heightKey, []byte(strconv.Itoa(len(chain))))
	batch.Put(tipKey, []byte(chain[len(chain)-1].Hash))
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("chainlevel: write batch: %w", err)
	}
	return nil
}

// Compact rewrites the LevelDB tables over the whole key range.
func (s *Store) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.CompactRange(util.Range{}); err != nil {
		return fmt.Errorf("chainlevel: compact: %w", err)
	}
	return nil
}

func (s *Store) head() (int64, string, error) {
	raw, err := s.db.Get(heightKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("chainlevel: read height: %w", err)
	}
	height, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("chainlevel: parse height %q: %w", raw, err)
	}
	tip, err := s.db.Get(tipKey, nil)
	if err != nil {
		return 0, "", fmt.Errorf("chainlevel: read tip: %w", err)
	}
	return height, string(tip), nil
}

var (
	_ ledger.Store     = (*Store)(nil)
	_ ledger.Compactor = (*Store)(nil)
)
