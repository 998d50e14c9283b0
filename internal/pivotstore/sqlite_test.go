package pivotstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func TestSQLiteStore_GetBeforeSet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pivot.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background())
	require.Error(t, err)
	require.True(t, core.IsKind(err, core.KindNotInitialized))
}

func TestSQLiteStore_SetAndGetRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pivot.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, decimal.NewFromInt(1000)))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(1000)))

	require.NoError(t, store.Set(ctx, decimal.NewFromFloat(1234.5)))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromFloat(1234.5)))
}

func TestSQLiteStore_ChecksumDetectsCorruption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pivot.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, decimal.NewFromInt(1000)))

	_, err = store.db.Exec(`UPDATE pivot SET value = '999' WHERE id = 1`)
	require.NoError(t, err)

	_, err = store.Get(ctx)
	require.Error(t, err)
}
