// Package pivotstore persists the engine's single PIVOT scalar across
// restarts.
package pivotstore

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
)

// MemoryStore implements core.PivotStore in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	pivot decimal.Decimal
	set   bool
}

func NewMemoryStore(initial decimal.Decimal) *MemoryStore {
	return &MemoryStore{pivot: initial, set: true}
}

func (s *MemoryStore) Get(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return decimal.Zero, core.NewError(core.KindNotInitialized, "pivotstore.Get", core.ErrNotInitialized)
	}
	return s.pivot, nil
}

func (s *MemoryStore) Set(ctx context.Context, pivot decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pivot = pivot
	s.set = true
	return nil
}
