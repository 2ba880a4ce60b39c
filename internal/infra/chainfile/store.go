package chainfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"medledger/internal/domain"
	"medledger/internal/ledger"
)

const snapshotVersion = 1

type snapshot struct {
	Version int                  `json:"version"`
	Blocks  []ledger.BlockRecord `json:"blocks"`
}

// Store keeps the whole chain in one JSON snapshot file. Saves write a
// temporary file next to the active one and rename it into place, so a crash
// leaves either the old or the new snapshot.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("chainfile: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("chainfile: create directory: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) ([]domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chainfile: read %s: %w", s.path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("chainfile: decode %s: %w", s.path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("chainfile: unsupported snapshot version %d", snap.Version)
	}
	chain := make([]domain.Block, 0, len(snap.Blocks))
	for _, rec := range snap.Blocks {
		blk, err := ledger.BlockFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("chainfile: %w", err)
		}
		chain = append(chain, blk)
	}
	return chain, nil
}

func (s *Store) Save(ctx context.Context, chain []domain.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := snapshot{Version: snapshotVersion, Blocks: make([]ledger.BlockRecord, 0, len(chain))}
	for _, b := range chain {
		snap.Blocks = append(snap.Blocks, ledger.RecordFromBlock(b))
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("chainfile: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("chainfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chainfile: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chainfile: sync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("chainfile: close temp: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("chainfile: replace snapshot: %w", err)
	}
	// The new snapshot is active once the rename succeeds, so a failed
	// directory sync must not be reported as a failed save.
	_ = syncDir(dir)
	return nil
}

// syncDir is a variable so tests can simulate directory sync failures.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("chainfile: open dir: %w", err)
	}
	defer d.Close()
	return d.Sync()
}

var _ ledger.Store = (*Store)(nil)
