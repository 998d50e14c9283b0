// Package engine implements the pivot-ratio trading state machine:
// initialization/calibration, the running loop of paired order
// placement and fill arbitration, pivot maintenance, and graceful
// stop.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"market_maker/internal/alert"
	"market_maker/internal/core"
	"market_maker/internal/feed"
	"market_maker/internal/pricing"
	"market_maker/pkg/concurrency"
	"market_maker/pkg/telemetry"
)

// State is the engine's lifecycle state (spec.md §4.5).
type State int

const (
	StateTerminated State = iota
	StateInitialized
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateTerminated:
		return "Terminated"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// DefaultMinNotional and DefaultProfitThreshold are the spec's named
// constants (§6, §9 — "implementations should make this a named
// constant"), used when Config leaves the corresponding field zero.
var (
	DefaultMinNotional     = decimal.NewFromInt(5000)
	DefaultProfitThreshold = decimal.NewFromFloat(0.005)
)

const pollInterval = 1 * time.Second
const fillPollInterval = 500 * time.Millisecond

// Engine is the TradingEngine of spec.md §4.5.
type Engine struct {
	mu    sync.Mutex
	state State
	doneCh chan struct{}

	market string
	quote  string
	base   string

	broker  core.Broker
	history core.HistoryStore
	pivots  core.PivotStore
	grid    *pricing.Grid
	ratio   *pricing.RatioModel
	alerts  *alert.AlertManager
	pool    *concurrency.WorkerPool
	log     core.ILogger
	feed    *feed.Feed

	cash     decimal.Decimal
	quantity decimal.Decimal
	anchor   decimal.Decimal
	pivot    decimal.Decimal

	minNotional     decimal.Decimal
	profitThreshold decimal.Decimal

	tracer       trace.Tracer
	ordersPlaced metric.Int64Counter
	ordersFilled metric.Int64Counter
	latencyHist  metric.Float64Histogram
}

// Config bundles everything the engine needs at construction time, in
// place of the teacher's many individual collaborator constructor
// arguments.
type Config struct {
	Market  string
	Broker  core.Broker
	History core.HistoryStore
	Pivots  core.PivotStore
	Alerts  *alert.AlertManager
	Logger  core.ILogger

	// Feed is optional: an advisory price stream consulted alongside
	// order polling (spec.md §4.11). A nil Feed simply means the
	// engine relies on Broker.CurrentPrice/GetOrders alone.
	Feed *feed.Feed

	// MinNotional and ProfitThreshold are the trading.min_notional and
	// trading.profit_threshold config fields (spec.md §6). Zero means
	// "unset" and falls back to DefaultMinNotional/DefaultProfitThreshold.
	MinNotional     decimal.Decimal
	ProfitThreshold decimal.Decimal
}

// New builds an Engine in state Terminated.
func New(cfg Config) (*Engine, error) {
	quote, base, err := splitMarket(cfg.Market)
	if err != nil {
		return nil, err
	}

	tracer := telemetry.GetTracer("trading-engine")
	meter := telemetry.GetMeter("trading-engine")
	ordersPlaced, _ := meter.Int64Counter("pivot_engine_orders_placed",
		metric.WithDescription("Orders placed by the trading engine"))
	ordersFilled, _ := meter.Int64Counter("pivot_engine_orders_filled",
		metric.WithDescription("Orders observed closed by the trading engine"))
	latencyHist, _ := meter.Float64Histogram("pivot_engine_cycle_latency_seconds",
		metric.WithDescription("Latency of one place-wait-rebalance cycle"))

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "engine-cancel",
		MaxWorkers:  4,
		MaxCapacity: 32,
	}, cfg.Logger)

	minNotional := cfg.MinNotional
	if minNotional.IsZero() {
		minNotional = DefaultMinNotional
	}
	profitThreshold := cfg.ProfitThreshold
	if profitThreshold.IsZero() {
		profitThreshold = DefaultProfitThreshold
	}

	return &Engine{
		state:           StateTerminated,
		market:          cfg.Market,
		quote:           quote,
		base:            base,
		broker:          cfg.Broker,
		history:         cfg.History,
		pivots:          cfg.Pivots,
		grid:            pricing.NewGrid(),
		ratio:           pricing.NewRatioModel(),
		alerts:          cfg.Alerts,
		pool:            pool,
		log:             cfg.Logger.WithField("component", "trading_engine").WithField("market", cfg.Market),
		feed:            cfg.Feed,
		minNotional:     minNotional,
		profitThreshold: profitThreshold,
		tracer:          tracer,
		ordersPlaced:    ordersPlaced,
		ordersFilled:    ordersFilled,
		latencyHist:     latencyHist,
	}, nil
}

func splitMarket(market string) (quote, base string, err error) {
	parts := strings.SplitN(market, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid market identifier %q: want QUOTE-BASE", market)
	}
	return parts[0], parts[1], nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsRunning reports whether the engine is in state Running.
func (e *Engine) IsRunning() bool { return e.State() == StateRunning }

// IsTerminated reports whether the engine is in state Terminated.
func (e *Engine) IsTerminated() bool { return e.State() == StateTerminated }

// Initialize performs spec.md §4.5.1: cancel-all, balance refresh,
// one-shot calibration, anchor set, and anchor optimization.
func (e *Engine) Initialize(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Initialize")
	defer span.End()

	e.mu.Lock()
	if e.state != StateTerminated {
		e.mu.Unlock()
		return core.NewError(core.KindPermanent, "engine.Initialize", fmt.Errorf("initialize called from state %s", e.state))
	}
	e.mu.Unlock()

	pivot, err := e.pivots.Get(ctx)
	if err != nil {
		span.RecordError(err)
		return core.NewError(core.KindPermanent, "engine.Initialize", err)
	}
	e.pivot = pivot

	if err := e.broker.CancelAll(ctx, e.market); err != nil {
		span.RecordError(err)
		return core.NewError(core.KindPermanent, "engine.Initialize", err)
	}

	if err := e.refreshBalances(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	priceNow, err := e.broker.CurrentPrice(ctx, e.market)
	if err != nil {
		span.RecordError(err)
		return core.NewError(core.KindPermanent, "engine.Initialize", err)
	}
	if priceNow.Sign() <= 0 {
		return core.NewError(core.KindInvariantViolated, "engine.Initialize", core.ErrInvalidPrice)
	}

	if err := e.calibrate(ctx, priceNow); err != nil {
		return err
	}

	e.anchor = priceNow
	e.updatePivot(ctx)
	e.anchor = e.optimizeAnchor(e.anchor)

	e.mu.Lock()
	e.state = StateInitialized
	e.mu.Unlock()

	e.log.Info("engine initialized", "anchor", e.anchor.String(), "pivot", e.pivot.String())
	return nil
}

// calibrate is spec.md §4.5.1 step 3.
func (e *Engine) calibrate(ctx context.Context, priceNow decimal.Decimal) error {
	v := e.ratio.Volume(e.cash, e.quantity, priceNow, e.pivot)
	if v.Abs().LessThan(e.minNotional) {
		return nil
	}

	var order *core.Order
	var err error
	if v.Sign() > 0 {
		order, err = e.broker.PlaceMarket(ctx, e.market, core.SideBid, v)
	} else {
		order, err = e.broker.PlaceMarket(ctx, e.market, core.SideAsk, v.Abs().Div(priceNow))
	}
	if err != nil {
		return core.NewError(core.KindPermanent, "engine.calibrate", err)
	}
	e.ordersPlaced.Add(ctx, 1)

	if err := e.waitOrderClosed(ctx, order.ID); err != nil {
		return err
	}
	e.ordersFilled.Add(ctx, 1)

	if err := e.refreshBalances(ctx); err != nil {
		return err
	}
	return e.recordHistory(ctx, priceNow)
}

// waitOrderClosed polls a single order until it reaches a terminal
// state. It cancels the order and returns KindCancelled when the state
// is Stopping, and returns KindCancelled when ctx is done. Stop called
// while Initialize runs does not set Stopping (the state is still
// Terminated, so Stop only cancels all orders on the market), so such a
// Stop is not observed here and does not fail Initialize.
func (e *Engine) waitOrderClosed(ctx context.Context, id core.OrderID) error {
	for {
		if e.stoppingRequested() {
			_ = e.broker.Cancel(ctx, id)
			return core.NewError(core.KindCancelled, "engine.waitOrderClosed", fmt.Errorf("stop requested during calibration fill wait"))
		}

		order, err := e.broker.GetOrder(ctx, id)
		if err != nil {
			if core.IsKind(err, core.KindMissingOrder) {
				time.Sleep(fillPollInterval)
				continue
			}
			return core.NewError(core.KindPermanent, "engine.waitOrderClosed", err)
		}
		if order.State.Closed() {
			return nil
		}

		select {
		case <-ctx.Done():
			return core.NewError(core.KindCancelled, "engine.waitOrderClosed", ctx.Err())
		case <-time.After(fillPollInterval):
		}
	}
}

func (e *Engine) stoppingRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateStopping
}

// optimizeAnchor is spec.md §4.5.1 step 5.
func (e *Engine) optimizeAnchor(price decimal.Decimal) decimal.Decimal {
	best := price
	bestVol := e.ratio.Volume(e.cash, e.quantity, price, e.pivot).Abs()

	p := price
	for {
		next, err := e.grid.Prev(p)
		if err != nil {
			break
		}
		v := e.ratio.Volume(e.cash, e.quantity, next, e.pivot).Abs()
		if v.LessThan(bestVol) {
			bestVol, best, p = v, next, next
			continue
		}
		break
	}

	p = price
	for {
		next, err := e.grid.Next(p)
		if err != nil {
			break
		}
		v := e.ratio.Volume(e.cash, e.quantity, next, e.pivot).Abs()
		if v.LessThan(bestVol) {
			bestVol, best, p = v, next, next
			continue
		}
		break
	}

	return best
}

// Start runs the Running loop (spec.md §4.5.2) and blocks until the
// engine reaches Terminated, either because Stop was called or
// because a fatal in-loop failure occurred.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateInitialized {
		e.mu.Unlock()
		return core.NewError(core.KindNotInitialized, "engine.Start", core.ErrNotInitialized)
	}
	e.state = StateRunning
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	e.log.Info("engine started")
	e.runLoop(ctx)

	e.mu.Lock()
	e.state = StateTerminated
	done := e.doneCh
	e.mu.Unlock()
	if err := e.broker.CancelAll(ctx, e.market); err != nil {
		e.log.Error("cancel-all on loop exit failed", "error", err)
	}
	close(done)
	e.log.Info("engine terminated")
	return nil
}

func (e *Engine) runLoop(ctx context.Context) {
	for {
		if e.stoppingRequested() {
			return
		}

		start := time.Now()
		lower, upper, buyID, sellID, err := e.placeOrders(ctx)
		if err != nil {
			if core.IsKind(err, core.KindInvariantViolated) {
				e.mu.Lock()
				e.state = StateStopping
				e.mu.Unlock()
				if e.alerts != nil {
					e.alerts.Alert(ctx, "engine invariant violated", err.Error(), alert.Critical, map[string]string{"market": e.market})
				}
				return
			}
			e.log.Error("place_orders failed, backing off", "error", err)
			_ = e.broker.CancelAll(ctx, e.market)
			time.Sleep(pollInterval)
			continue
		}
		telemetry.GetGlobalMetrics().SetActiveOrders(e.market, 2)

		closed, bought, err := e.waitAnyClosed(ctx, buyID, sellID)
		if err != nil {
			e.log.Error("wait_any_closed failed", "error", err)
			continue
		}
		if !closed {
			return
		}
		e.ordersFilled.Add(ctx, 1)

		var otherID core.OrderID
		if bought {
			e.anchor = lower
			otherID = sellID
		} else {
			e.anchor = upper
			otherID = buyID
		}

		e.updatePivot(ctx)
		if err := e.refreshBalances(ctx); err != nil {
			e.log.Error("balance refresh failed", "error", err)
			continue
		}
		if err := e.recordHistory(ctx, e.anchor); err != nil {
			e.log.Error("history append failed", "error", err)
		}

		telemetry.GetGlobalMetrics().SetActiveOrders(e.market, 0)
		e.pool.Submit(func() {
			if err := e.broker.Cancel(ctx, otherID); err != nil {
				e.log.Warn("cancel of losing side failed", "order", string(otherID), "error", err)
			}
		})

		e.latencyHist.Record(ctx, time.Since(start).Seconds())
	}
}

// placeOrders is spec.md §4.5.2(a).
func (e *Engine) placeOrders(ctx context.Context) (lower, upper decimal.Decimal, buyID, sellID core.OrderID, err error) {
	lower, vBid, err := e.findSide(ctx, e.grid.Prev, func(v decimal.Decimal) bool { return v.GreaterThanOrEqual(e.minNotional) })
	if err != nil {
		return decimal.Zero, decimal.Zero, "", "", err
	}
	order, err := e.broker.PlaceLimit(ctx, e.market, core.SideBid, lower, vBid.Div(lower))
	if err != nil {
		return decimal.Zero, decimal.Zero, "", "", core.NewError(core.KindPermanent, "engine.placeOrders", err)
	}
	buyID = order.ID
	e.ordersPlaced.Add(ctx, 1)

	upper, vAsk, err := e.findSide(ctx, stepNext(e.grid), func(v decimal.Decimal) bool { return v.Neg().GreaterThanOrEqual(e.minNotional) })
	if err != nil {
		return decimal.Zero, decimal.Zero, "", "", err
	}
	order2, err := e.broker.PlaceLimit(ctx, e.market, core.SideAsk, upper, vAsk.Neg().Div(upper))
	if err != nil {
		return decimal.Zero, decimal.Zero, "", "", core.NewError(core.KindPermanent, "engine.placeOrders", err)
	}
	sellID = order2.ID
	e.ordersPlaced.Add(ctx, 1)

	return lower, upper, buyID, sellID, nil
}

func stepNext(g *pricing.Grid) func(decimal.Decimal) (decimal.Decimal, error) {
	return g.Next
}

// findSide walks the grid in the given step direction starting from
// anchor until the volume/profitability gate of spec.md §4.5.2(a) is
// satisfied, returning the price and the volume observed there.
func (e *Engine) findSide(ctx context.Context, step func(decimal.Decimal) (decimal.Decimal, error), satisfies func(decimal.Decimal) bool) (decimal.Decimal, decimal.Decimal, error) {
	p := e.anchor
	for {
		next, err := step(p)
		if err != nil {
			return decimal.Zero, decimal.Zero, core.NewError(core.KindPermanent, "engine.findSide", err)
		}
		p = next
		v := e.ratio.Volume(e.cash, e.quantity, p, e.pivot)
		if satisfies(v) && e.profitable(p) {
			return p, v, nil
		}
	}
}

func (e *Engine) profitable(p decimal.Decimal) bool {
	diff := e.anchor.Sub(p).Abs()
	return diff.Div(e.anchor).GreaterThanOrEqual(e.profitThreshold)
}

// waitAnyClosed is spec.md §4.5.2(b)/(d) and §4.5.3's tie-break rule.
func (e *Engine) waitAnyClosed(ctx context.Context, buyID, sellID core.OrderID) (closed bool, bought bool, err error) {
	for {
		if e.stoppingRequested() {
			return false, false, nil
		}

		if e.feed != nil {
			if price, ok := e.feed.Latest(); ok {
				e.log.Debug("advisory feed tick observed", "price", price.String())
			}
		}

		orders, err := e.broker.GetOrders(ctx, []core.OrderID{buyID, sellID})
		if err != nil {
			if core.IsKind(err, core.KindMissingOrder) {
				time.Sleep(pollInterval)
				continue
			}
			return false, false, core.NewError(core.KindPermanent, "engine.waitAnyClosed", err)
		}

		buyOrder := orders[buyID]
		sellOrder := orders[sellID]
		if buyOrder.State.Closed() {
			return true, true, nil
		}
		if sellOrder.State.Closed() {
			return true, false, nil
		}

		select {
		case <-ctx.Done():
			return false, false, core.NewError(core.KindCancelled, "engine.waitAnyClosed", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// updatePivot is spec.md §4.5.4.
func (e *Engine) updatePivot(ctx context.Context) {
	two := decimal.NewFromInt(2)
	switch {
	case e.anchor.GreaterThanOrEqual(e.pivot.Mul(two)):
		e.pivot = e.anchor.Div(two)
	case e.pivot.GreaterThanOrEqual(e.anchor.Mul(two)):
		e.pivot = e.anchor.Mul(two)
	default:
		return
	}
	if err := e.pivots.Set(ctx, e.pivot); err != nil {
		e.log.Error("failed to persist pivot", "error", err)
	}
	pivotF, _ := e.pivot.Float64()
	telemetry.GetGlobalMetrics().SetPivot(e.market, pivotF)
}

func (e *Engine) refreshBalances(ctx context.Context) error {
	balances, err := e.broker.Balances(ctx)
	if err != nil {
		return core.NewError(core.KindPermanent, "engine.refreshBalances", err)
	}
	cash := balances[e.quote].Total()
	quantity := balances[e.base].Total()
	if cash.IsNegative() || quantity.IsNegative() {
		return core.NewError(core.KindInvariantViolated, "engine.refreshBalances", fmt.Errorf("negative balance: cash=%s quantity=%s", cash, quantity))
	}
	e.cash = cash
	e.quantity = quantity
	return nil
}

func (e *Engine) recordHistory(ctx context.Context, price decimal.Decimal) error {
	balance := e.quantity.Mul(price).Add(e.cash)
	ratio := decimal.Zero
	if balance.Sign() > 0 {
		ratio = e.cash.Div(balance)
	}
	rec := core.TradeRecord{
		Timestamp: time.Now().UTC(),
		Balance:   balance,
		Price:     price,
		Ratio:     ratio,
	}

	balanceF, _ := balance.Float64()
	ratioF, _ := ratio.Float64()
	metrics := telemetry.GetGlobalMetrics()
	metrics.SetBalance(e.market, balanceF)
	metrics.SetRatio(e.market, ratioF)

	return e.history.Append(ctx, rec)
}

// Stop requests a graceful shutdown (spec.md §4.5, §4.5.5) and blocks
// until the engine reaches Terminated.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateRunning:
		e.state = StateStopping
		done := e.doneCh
		e.mu.Unlock()
		<-done
		return nil
	case StateTerminated:
		e.mu.Unlock()
		return e.broker.CancelAll(ctx, e.market)
	default:
		e.state = StateTerminated
		e.mu.Unlock()
		return e.broker.CancelAll(ctx, e.market)
	}
}
