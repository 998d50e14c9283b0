package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
)

// MockBroker is an in-memory core.Broker for engine tests, grounded on
// the teacher's MockExchange but stripped of the wire-protocol types
// this engine does not speak.
type MockBroker struct {
	mu      sync.Mutex
	price   decimal.Decimal
	balance core.AccountBalances
	orders  map[core.OrderID]*core.Order
	counter int64

	// FillOnPlace, when true, immediately marks every placed order Done
	// at the requested price/volume, simulating an instant fill.
	FillOnPlace bool
}

// NewMockBroker builds a mock broker seeded with a price and a
// quote/base balance split, using "quote"/"base" as the currency keys.
func NewMockBroker(price decimal.Decimal, cash, quantity decimal.Decimal) *MockBroker {
	return NewMockBrokerWithCurrencies(price, cash, quantity, "quote", "base")
}

// NewMockBrokerWithCurrencies is NewMockBroker with explicit currency
// codes, for tests that need the balance map keyed to match a real
// market identifier (e.g. "KRW"/"XRP").
func NewMockBrokerWithCurrencies(price decimal.Decimal, cash, quantity decimal.Decimal, quoteCcy, baseCcy string) *MockBroker {
	return &MockBroker{
		price: price,
		balance: core.AccountBalances{
			quoteCcy: {Free: cash},
			baseCcy:  {Free: quantity},
		},
		orders: make(map[core.OrderID]*core.Order),
	}
}

func (m *MockBroker) SetPrice(p decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = p
}

func (m *MockBroker) CurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

func (m *MockBroker) Balances(ctx context.Context) (core.AccountBalances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(core.AccountBalances, len(m.balance))
	for k, v := range m.balance {
		out[k] = v
	}
	return out, nil
}

func (m *MockBroker) nextID() core.OrderID {
	id := atomic.AddInt64(&m.counter, 1)
	return core.OrderID(decimal.NewFromInt(id).String())
}

func (m *MockBroker) PlaceLimit(ctx context.Context, market string, side core.OrderSide, price, volume decimal.Decimal) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := &core.Order{
		ID:     m.nextID(),
		Side:   side,
		Kind:   core.KindLimit,
		Price:  price,
		Volume: volume,
		State:  core.OrderOpen,
	}
	if m.FillOnPlace {
		order.State = core.OrderDone
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *MockBroker) PlaceMarket(ctx context.Context, market string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := &core.Order{
		ID:     m.nextID(),
		Side:   side,
		Kind:   core.KindMarketByPrice,
		Amount: amount,
		State:  core.OrderDone,
	}
	if side == core.SideAsk {
		order.Kind = core.KindMarketByVolume
		order.Volume = amount
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *MockBroker) GetOrder(ctx context.Context, id core.OrderID) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, core.NewError(core.KindMissingOrder, "mockbroker.GetOrder", core.ErrOrderNotFound)
	}
	return order, nil
}

func (m *MockBroker) GetOrders(ctx context.Context, ids []core.OrderID) (map[core.OrderID]*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[core.OrderID]*core.Order, len(ids))
	for _, id := range ids {
		order, ok := m.orders[id]
		if !ok {
			return nil, core.NewError(core.KindMissingOrder, "mockbroker.GetOrders", core.ErrOrderNotFound)
		}
		out[id] = order
	}
	return out, nil
}

func (m *MockBroker) Cancel(ctx context.Context, id core.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok || order.State.Closed() {
		return nil
	}
	order.State = core.OrderCancelled
	return nil
}

func (m *MockBroker) CancelAll(ctx context.Context, market string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if !order.State.Closed() {
			order.State = core.OrderCancelled
		}
	}
	return nil
}

// Fill marks an open order Done, simulating an exchange-side trade.
func (m *MockBroker) Fill(id core.OrderID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[id]; ok {
		order.State = core.OrderDone
	}
}
