package pivotstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := NewMemoryStore(decimal.NewFromInt(1000))
	ctx := context.Background()

	got, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(1000)))

	require.NoError(t, store.Set(ctx, decimal.NewFromInt(2000)))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(2000)))
}

func TestMemoryStore_GetBeforeSet(t *testing.T) {
	store := &MemoryStore{}
	_, err := store.Get(context.Background())
	require.Error(t, err)
	require.True(t, core.IsKind(err, core.KindNotInitialized))
}
