// Package feed is an optional advisory price source: a websocket
// ticker stream the engine can consult between broker round-trips,
// grounded on spec.md §4.11 ("price feed is advisory only — the
// broker's CurrentPrice remains authoritative for every engine
// decision").
package feed

import (
	"encoding/json"
	"sync"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
	"market_maker/pkg/websocket"
)

// tick is the wire shape of a single advisory price update.
type tick struct {
	Market string `json:"market"`
	Price  string `json:"price"`
}

// Feed wraps a websocket.Client and exposes the last advisory price
// it has seen for a market. It never blocks the engine: a stale or
// absent feed simply means Latest returns ok=false.
type Feed struct {
	client *websocket.Client
	market string
	log    core.ILogger

	mu    sync.RWMutex
	last  decimal.Decimal
	valid bool
}

// New builds a Feed for url, filtering ticks to market. The feed must
// be started with Start and stopped with Stop; it is never required
// for correctness: the engine only logs its latest price while
// polling orders.
func New(url, market string, log core.ILogger) *Feed {
	f := &Feed{market: market, log: log}
	f.client = websocket.NewClient(url, f.onMessage, log)
	return f
}

func (f *Feed) onMessage(message []byte) {
	var t tick
	if err := json.Unmarshal(message, &t); err != nil {
		if f.log != nil {
			f.log.Warn("feed: malformed tick", "error", err)
		}
		return
	}
	if t.Market != f.market {
		return
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		if f.log != nil {
			f.log.Warn("feed: malformed price", "raw", t.Price, "error", err)
		}
		return
	}

	f.mu.Lock()
	f.last = price
	f.valid = true
	f.mu.Unlock()
}

// Start connects (with automatic reconnect) and begins updating Latest.
func (f *Feed) Start() {
	f.client.Start()
}

// Stop disconnects and stops updating Latest.
func (f *Feed) Stop() {
	f.client.Stop()
}

// Latest returns the most recent advisory price and whether one has
// been observed yet.
func (f *Feed) Latest() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last, f.valid
}
