package chainlevel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/domain"
	"medledger/internal/ledger"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openLedger(t *testing.T, store *Store) *ledger.Ledger {
	t.Helper()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	l, err := ledger.Open(context.Background(), store, ledger.Options{
		Difficulty: 1,
		Now: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Minute)
		},
	})
	require.NoError(t, err)
	return l
}

func TestRoundTripAndCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := Open(path)
	require.NoError(t, err)

	l := openLedger(t, store)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := l.Append(ctx, domain.UpdateEvent{RecordID: "REC001", ContentHash: "h"})
		require.NoError(t, err)
	}
	supported, err := l.Compact(ctx)
	require.NoError(t, err)
	assert.True(t, supported)
	want := l.Snapshot()
	require.NoError(t, store.Close())

	reopened := openLedger(t, openStore(t, path))
	assert.Equal(t, want, reopened.Snapshot())
	assert.True(t, reopened.Validate().Valid)
	assert.Len(t, reopened.FindByCorrelationID("REC001"), 10)
}

func TestSaveWritesOnlyNewBlocks(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	l := openLedger(t, store)
	ctx := context.Background()
	_, err := l.Append(ctx, domain.CreateEvent{RecordID: "REC001", PatientID: "P", DoctorID: "D", ContentHash: "h"})
	require.NoError(t, err)

	chain := l.Snapshot()
	require.NoError(t, store.Save(ctx, chain), "saving an unchanged chain is a no-op")

	height, tip, err := store.head()
	require.NoError(t, err)
	assert.Equal(t, int64(2), height)
	assert.Equal(t, chain[1].Hash, tip)
}

func TestSaveRejectsDivergentChain(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	l := openLedger(t, store)
	ctx := context.Background()
	_, err := l.Append(ctx, domain.CreateEvent{RecordID: "REC001", PatientID: "P", DoctorID: "D", ContentHash: "h"})
	require.NoError(t, err)

	chain := l.Snapshot()
	require.Error(t, store.Save(ctx, chain[:1]))

	forged := append([]domain.Block(nil), chain...)
	forged[1].Hash = "ffff"
	require.Error(t, store.Save(ctx, append(forged, forged[1])))
}

func TestEmptyStoreLoadsEmpty(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	chain, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chain)
}
