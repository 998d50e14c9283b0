package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func coreRecord(ts time.Time, price int64) core.TradeRecord {
	return core.TradeRecord{
		Timestamp: ts,
		Balance:   decimal.NewFromInt(600000),
		Price:     decimal.NewFromInt(price),
		Ratio:     decimal.NewFromFloat(0.5),
	}
}

func TestSQLiteStore_AppendAndRange(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	for i := 0; i < 3; i++ {
		rec := coreRecord(base.Add(time.Duration(i)*time.Second), int64(1000+i))
		require.NoError(t, store.Append(ctx, rec))
	}

	got, err := store.Range(ctx, base, base.Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].Price.Equal(decimal.NewFromInt(1000)))
	require.True(t, got[2].Price.Equal(decimal.NewFromInt(1002)))
}

func TestSQLiteStore_RejectsNonMonotonicTimestamp(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Append(ctx, coreRecord(now, 1000)))
	err = store.Append(ctx, coreRecord(now.Add(-time.Second), 1000))
	require.Error(t, err)
}

func TestSQLiteStore_WALMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestSQLiteStore_ChecksumDetectsCorruption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Append(ctx, coreRecord(time.Unix(1_700_000_000, 0).UTC(), 1000)))

	_, err = store.db.Exec(`UPDATE trade_history SET balance = '999999' WHERE seq = 1`)
	require.NoError(t, err)

	_, err = store.Range(ctx, time.Unix(0, 0), time.Now().Add(time.Hour))
	require.Error(t, err)
}
