package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_maker/internal/alert"
	"market_maker/internal/broker"
	"market_maker/internal/core"
	"market_maker/internal/history"
	"market_maker/internal/pivotstore"
)

type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{})                   {}
func (stubLogger) Info(string, ...interface{})                    {}
func (stubLogger) Warn(string, ...interface{})                    {}
func (stubLogger) Error(string, ...interface{})                   {}
func (stubLogger) Fatal(string, ...interface{})                   {}
func (stubLogger) WithField(string, interface{}) core.ILogger     { return stubLogger{} }
func (stubLogger) WithFields(map[string]interface{}) core.ILogger { return stubLogger{} }

const testMarket = "KRW-XRP"

func newTestEngine(t *testing.T, price, cash, quantity, pivot decimal.Decimal) (*Engine, *broker.MockBroker, *pivotstore.MemoryStore, *history.MemoryStore) {
	t.Helper()

	mb := broker.NewMockBrokerWithCurrencies(price, cash, quantity, "KRW", "XRP")
	pivots := pivotstore.NewMemoryStore(pivot)
	hist := history.NewMemoryStore()

	e, err := New(Config{
		Market:  testMarket,
		Broker:  mb,
		History: hist,
		Pivots:  pivots,
		Alerts:  alert.NewAlertManager(stubLogger{}),
		Logger:  stubLogger{},
	})
	require.NoError(t, err)
	return e, mb, pivots, hist
}

func TestSplitMarket(t *testing.T) {
	quote, base, err := splitMarket("KRW-XRP")
	require.NoError(t, err)
	require.Equal(t, "KRW", quote)
	require.Equal(t, "XRP", base)

	_, _, err = splitMarket("garbage")
	require.Error(t, err)
}

// S1: balances far from the ratio curve's target trigger a one-shot
// calibration trade during Initialize.
func TestInitialize_CalibratesWhenOffCurve(t *testing.T) {
	price := decimal.NewFromInt(1000)
	cash := decimal.NewFromInt(1_000_000)
	quantity := decimal.Zero
	pivot := decimal.NewFromInt(1000)

	e, mb, _, hist := newTestEngine(t, price, cash, quantity, pivot)
	mb.FillOnPlace = true

	require.NoError(t, e.Initialize(context.Background()))
	require.Equal(t, StateInitialized, e.State())

	// All cash and no quantity against a pivot equal to price is far
	// from the curve's target ratio, so a calibration buy should have
	// landed and been recorded.
	records, err := hist.Range(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

// S2: balances already on the curve require no calibration trade.
func TestInitialize_NoCalibrationWhenOnCurve(t *testing.T) {
	price := decimal.NewFromInt(1000)
	pivot := decimal.NewFromInt(1000)
	// Ratio(price, pivot) with price == pivot: delta=0, r = 1 - 0.5*2^0 = 0.5.
	// Pick cash/quantity so cash == 0.5 * value already.
	quantity := decimal.NewFromInt(500)
	cash := quantity.Mul(price) // value = cash + quantity*price = 2*cash, target cash = value*0.5 = cash

	e, _, _, hist := newTestEngine(t, price, cash, quantity, pivot)

	require.NoError(t, e.Initialize(context.Background()))
	require.Equal(t, StateInitialized, e.State())

	records, err := hist.Range(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, records)
}

// S3: once the anchor falls to half the pivot or below, the pivot is
// reset to twice the anchor: at exactly half that leaves it unchanged,
// below half it moves down.
func TestUpdatePivot_ClampsDown(t *testing.T) {
	e, _, pivots, _ := newTestEngine(t, decimal.NewFromInt(1000), decimal.Zero, decimal.Zero, decimal.NewFromInt(1000))
	e.anchor = decimal.NewFromInt(500)
	e.pivot = decimal.NewFromInt(1000)

	e.updatePivot(context.Background())
	require.True(t, e.pivot.Equal(decimal.NewFromInt(1000)))

	e.anchor = decimal.NewFromInt(400)
	e.updatePivot(context.Background())
	require.True(t, e.pivot.Equal(decimal.NewFromInt(800)))

	got, err := pivots.Get(context.Background())
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(800)))
}

// S4: once the anchor rises to twice the pivot or above, the pivot is
// reset to half the anchor, which moves it up.
func TestUpdatePivot_ClampsUp(t *testing.T) {
	e, _, pivots, _ := newTestEngine(t, decimal.NewFromInt(1000), decimal.Zero, decimal.Zero, decimal.NewFromInt(1000))
	e.pivot = decimal.NewFromInt(1000)
	e.anchor = decimal.NewFromInt(3000)

	e.updatePivot(context.Background())
	require.True(t, e.pivot.Equal(decimal.NewFromInt(1500)))

	got, err := pivots.Get(context.Background())
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(1500)))
}

func TestUpdatePivot_UnchangedWithinBand(t *testing.T) {
	e, _, pivots, _ := newTestEngine(t, decimal.NewFromInt(1000), decimal.Zero, decimal.Zero, decimal.NewFromInt(1000))
	e.pivot = decimal.NewFromInt(1000)
	e.anchor = decimal.NewFromInt(1500)

	e.updatePivot(context.Background())
	require.True(t, e.pivot.Equal(decimal.NewFromInt(1000)))

	// Set was never called beyond construction's initial value, so
	// reading back simply returns what we seeded the store with.
	got, err := pivots.Get(context.Background())
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(1000)))
}

// S5: findSide walks the grid until it finds a profitable, sufficiently
// large side, independent of direction.
func TestFindSide_WalksUntilSatisfied(t *testing.T) {
	e, _, _, _ := newTestEngine(t, decimal.NewFromInt(1000), decimal.NewFromInt(10_000_000), decimal.NewFromInt(1000), decimal.NewFromInt(1000))
	e.anchor = decimal.NewFromInt(1000)
	e.cash = decimal.NewFromInt(10_000_000)
	e.quantity = decimal.NewFromInt(1000)
	e.pivot = decimal.NewFromInt(1000)

	lower, vol, err := e.findSide(context.Background(), e.grid.Prev, func(v decimal.Decimal) bool {
		return v.GreaterThanOrEqual(DefaultMinNotional)
	})
	require.NoError(t, err)
	require.True(t, lower.LessThan(e.anchor))
	require.True(t, vol.GreaterThanOrEqual(DefaultMinNotional))

	upper, vol2, err := e.findSide(context.Background(), stepNext(e.grid), func(v decimal.Decimal) bool {
		return v.Neg().GreaterThanOrEqual(DefaultMinNotional)
	})
	require.NoError(t, err)
	require.True(t, upper.GreaterThan(e.anchor))
	require.True(t, vol2.Neg().GreaterThanOrEqual(DefaultMinNotional))
}

// S6: Stop from Running waits for the loop to observe the stop request
// and exit, leaving the engine Terminated with all orders cancelled.
func TestStop_GracefullyTerminatesRunningLoop(t *testing.T) {
	price := decimal.NewFromInt(1000)
	pivot := decimal.NewFromInt(1000)
	quantity := decimal.NewFromInt(500)
	cash := quantity.Mul(price) // on-curve: no calibration trade, so Initialize returns immediately.

	e, _, _, _ := newTestEngine(t, price, cash, quantity, pivot)

	require.NoError(t, e.Initialize(context.Background()))
	require.Equal(t, StateInitialized, e.State())

	startErr := make(chan error, 1)
	go func() {
		startErr <- e.Start(context.Background())
	}()

	require.Eventually(t, func() bool { return e.IsRunning() }, time.Second, time.Millisecond)

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, <-startErr)
	require.True(t, e.IsTerminated())
}

func TestProfitable(t *testing.T) {
	e, _, _, _ := newTestEngine(t, decimal.NewFromInt(1000), decimal.Zero, decimal.Zero, decimal.NewFromInt(1000))
	e.anchor = decimal.NewFromInt(1000)

	require.False(t, e.profitable(decimal.NewFromInt(1001)))
	require.True(t, e.profitable(decimal.NewFromInt(1010)))
}

func TestRecordHistory_ComputesRatio(t *testing.T) {
	e, _, _, hist := newTestEngine(t, decimal.NewFromInt(1000), decimal.NewFromInt(500_000), decimal.NewFromInt(500), decimal.NewFromInt(1000))
	e.cash = decimal.NewFromInt(500_000)
	e.quantity = decimal.NewFromInt(500)

	require.NoError(t, e.recordHistory(context.Background(), decimal.NewFromInt(1000)))

	records, err := hist.Range(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].Balance.Equal(decimal.NewFromInt(1_000_000)))
	require.True(t, records[0].Ratio.Equal(decimal.NewFromFloat(0.5)))
}
