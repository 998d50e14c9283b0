// Package history provides HistoryStore implementations that back the
// engine's append-only trade-history sink.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"market_maker/internal/core"
)

// MemoryStore implements core.HistoryStore in memory. Appends are
// serialized behind a mutex; range queries take a read lock and copy
// out the matching slice.
type MemoryStore struct {
	mu      sync.RWMutex
	records []core.TradeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec core.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.records); n > 0 && rec.Timestamp.Before(s.records[n-1].Timestamp) {
		return core.NewError(core.KindInvariantViolated, "history.Append", core.ErrInvalidPrice)
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, from, to time.Time) ([]core.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.records), func(i int) bool {
		return !s.records[i].Timestamp.Before(from)
	})
	out := make([]core.TradeRecord, 0, len(s.records)-lo)
	for _, r := range s.records[lo:] {
		if r.Timestamp.After(to) {
			break
		}
		out = append(out, r)
	}
	return out, nil
}
