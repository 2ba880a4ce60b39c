package auditlevel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/domain"
)

func openRepo(t *testing.T, path string) *Repository {
	t.Helper()
	repo, err := Open(path)
	require.NoError(t, err)
	return repo
}

func TestTransactionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	repo := openRepo(t, path)
	created := make([]domain.AuditTransaction, 0, 3)
	for i, hash := range []string{"h1", "h2", "h3"} {
		initiator := "doc-a"
		if i == 1 {
			initiator = "doc-b"
		}
		tx, err := repo.Create(ctx, domain.AuditTransaction{
			TxHash:      hash,
			BlockNumber: int64(i + 1),
			RecordID:    "REC001",
			Action:      domain.AuditActionUpdate,
			InitiatorID: initiator,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		created = append(created, tx)
	}
	_, err := repo.Create(ctx, domain.AuditTransaction{TxHash: "h9", RecordID: "REC0010", InitiatorID: "doc-a", CreatedAt: base})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo = openRepo(t, path)
	t.Cleanup(func() { _ = repo.Close() })

	txs, err := repo.ListByRecord(ctx, "REC001")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []string{"h3", "h2", "h1"}, []string{txs[0].TxHash, txs[1].TxHash, txs[2].TxHash})
	assert.Equal(t, created[2], txs[0])
	assert.Equal(t, domain.AuditStatusPending, txs[0].Status)
	assert.NotEmpty(t, txs[0].ID)

	mine, err := repo.ListByInitiator(ctx, "doc-a")
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	got, err := repo.GetByTxHash(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, "doc-b", got.InitiatorID)

	_, err = repo.GetByTxHash(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Create(ctx, domain.AuditTransaction{TxHash: "h1", RecordID: "REC001"})
	assert.Error(t, err)

	none, err := repo.ListByRecord(ctx, "REC404")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestEqualTimestampsOrderByBlock(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, filepath.Join(t.TempDir(), "audit.db"))
	t.Cleanup(func() { _ = repo.Close() })

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, n := range []int64{4, 7, 5} {
		_, err := repo.Create(ctx, domain.AuditTransaction{
			TxHash:      "h" + string(rune('0'+n)),
			BlockNumber: n,
			RecordID:    "REC001",
			InitiatorID: "system",
			CreatedAt:   at,
		})
		require.NoError(t, err)
	}
	txs, err := repo.ListByRecord(ctx, "REC001")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []int64{7, 5, 4}, []int64{txs[0].BlockNumber, txs[1].BlockNumber, txs[2].BlockNumber})
}
