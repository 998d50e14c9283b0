package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAndRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, coreRecord(base.Add(time.Duration(i)*time.Second), int64(1000+i))))
	}

	got, err := store.Range(ctx, base, base.Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestMemoryStore_RejectsNonMonotonicTimestamp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Append(ctx, coreRecord(now, 1000)))
	err := store.Append(ctx, coreRecord(now.Add(-time.Second), 1000))
	require.Error(t, err)
}
