// Package core defines the core interfaces and types for the pivot-ratio
// trading engine: the money model, the Broker contract, and the logging
// seam the rest of the tree is built against.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of a limit or market order.
type OrderSide int

const (
	SideBid OrderSide = iota
	SideAsk
)

func (s OrderSide) String() string {
	if s == SideBid {
		return "BID"
	}
	return "ASK"
}

// OrderKind distinguishes limit orders from the two market-order shapes
// the engine needs during calibration.
type OrderKind int

const (
	// KindLimit specifies both price and volume.
	KindLimit OrderKind = iota
	// KindMarketByPrice specifies a quote-currency notional (bid side only).
	KindMarketByPrice
	// KindMarketByVolume specifies a base-asset volume (ask side only).
	KindMarketByVolume
)

// OrderState is the lifecycle state of an order on the exchange.
type OrderState int

const (
	OrderOpen OrderState = iota
	OrderDone
	OrderCancelled
)

// Closed reports whether the state is terminal (Done or Cancelled).
func (s OrderState) Closed() bool {
	return s == OrderDone || s == OrderCancelled
}

// OrderID identifies an order on the exchange.
type OrderID string

// Order is the engine's view of a placed order, independent of any
// exchange wire format.
type Order struct {
	ID     OrderID
	Side   OrderSide
	Kind   OrderKind
	Price  decimal.Decimal // set for KindLimit
	Volume decimal.Decimal // base-asset volume for KindLimit/KindMarketByVolume
	Amount decimal.Decimal // quote-currency notional for KindMarketByPrice
	State  OrderState
}

// Balance is a collapsed free+locked balance snapshot for the market's
// two legs. Cash is the quote-currency holding, Quantity the base-asset
// holding; both are always the sum of free plus locked-in-orders.
type Balance struct {
	Cash     decimal.Decimal
	Quantity decimal.Decimal
}

// CurrencyBalance is a single currency's free/locked split, as returned
// by Broker.Balances before the engine collapses it into a Balance.
type CurrencyBalance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns Free+Locked.
func (c CurrencyBalance) Total() decimal.Decimal {
	return c.Free.Add(c.Locked)
}

// AccountBalances is the exchange-wide balance map keyed by currency code.
type AccountBalances map[string]CurrencyBalance

// TradeRecord is one row of the append-only trade history: total
// portfolio value in quote currency, the anchor price at the time, and
// the realized cash fraction.
type TradeRecord struct {
	Timestamp time.Time
	Balance   decimal.Decimal
	Price     decimal.Decimal
	Ratio     decimal.Decimal
}

// Broker is the interface the trading core consumes; the concrete wire
// protocol, request signing, and exchange-specific rate-limit backoff
// are the implementation's concern, not the core's.
type Broker interface {
	// CurrentPrice returns the latest traded price for market.
	CurrentPrice(ctx context.Context, market string) (decimal.Decimal, error)
	// Balances returns the full free/locked balance map for the account.
	Balances(ctx context.Context) (AccountBalances, error)

	// PlaceLimit places a resting limit order and returns it with state Open.
	PlaceLimit(ctx context.Context, market string, side OrderSide, price, volume decimal.Decimal) (*Order, error)
	// PlaceMarket places a market order. For SideBid, amount is the
	// quote-currency notional to spend; for SideAsk, amount is the
	// base-asset volume to sell.
	PlaceMarket(ctx context.Context, market string, side OrderSide, amount decimal.Decimal) (*Order, error)

	// GetOrder fetches a single order by id.
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	// GetOrders fetches a batch of orders; it must return an entry for
	// every requested id or fail with an error of kind KindMissingOrder.
	GetOrders(ctx context.Context, ids []OrderID) (map[OrderID]*Order, error)

	// Cancel cancels a single order. Idempotent: cancelling an
	// already-closed order is success.
	Cancel(ctx context.Context, id OrderID) error
	// CancelAll cancels every open order the account holds on market.
	CancelAll(ctx context.Context, market string) error
}

// ILogger is the structured-logging seam the engine and its
// collaborators log through.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// HistoryStore is the append-only trade-history sink: single writer
// (the engine), many readers (reporters/analytics), strictly
// non-decreasing timestamps.
type HistoryStore interface {
	Append(ctx context.Context, rec TradeRecord) error
	Range(ctx context.Context, from, to time.Time) ([]TradeRecord, error)
}

// PivotStore persists the single PIVOT scalar across restarts. The
// engine is the only writer.
type PivotStore interface {
	Get(ctx context.Context) (decimal.Decimal, error)
	Set(ctx context.Context, pivot decimal.Decimal) error
}
