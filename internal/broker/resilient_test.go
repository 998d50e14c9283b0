package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_maker/internal/config"
	"market_maker/internal/core"
)

type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{})                   {}
func (stubLogger) Info(string, ...interface{})                    {}
func (stubLogger) Warn(string, ...interface{})                    {}
func (stubLogger) Error(string, ...interface{})                   {}
func (stubLogger) Fatal(string, ...interface{})                   {}
func (stubLogger) WithField(string, interface{}) core.ILogger     { return stubLogger{} }
func (stubLogger) WithFields(map[string]interface{}) core.ILogger { return stubLogger{} }

func TestResilientBroker_DelegatesCurrentPrice(t *testing.T) {
	inner := NewMockBroker(decimal.NewFromInt(1000), decimal.NewFromInt(600000), decimal.Zero)
	rb := NewResilientBroker(inner, config.DefaultConfig().Timing, stubLogger{})

	price, err := rb.CurrentPrice(context.Background(), "KRW-XRP")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(1000)))
}

func TestResilientBroker_PlaceLimitAndCancel(t *testing.T) {
	inner := NewMockBroker(decimal.NewFromInt(1000), decimal.NewFromInt(600000), decimal.Zero)
	rb := NewResilientBroker(inner, config.DefaultConfig().Timing, stubLogger{})
	ctx := context.Background()

	order, err := rb.PlaceLimit(ctx, "KRW-XRP", core.SideBid, decimal.NewFromInt(999), decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Equal(t, core.OrderOpen, order.State)

	require.NoError(t, rb.Cancel(ctx, order.ID))

	got, err := rb.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, core.OrderCancelled, got.State)
}

func TestResilientBroker_GetOrdersMissingFails(t *testing.T) {
	inner := NewMockBroker(decimal.NewFromInt(1000), decimal.NewFromInt(600000), decimal.Zero)
	rb := NewResilientBroker(inner, config.DefaultConfig().Timing, stubLogger{})

	_, err := rb.GetOrders(context.Background(), []core.OrderID{"missing"})
	require.Error(t, err)
}

// rateLimitedBroker returns KindRateLimited for the first failBefore
// calls to CurrentPrice, then delegates to MockBroker.
type rateLimitedBroker struct {
	*MockBroker
	failBefore int
	calls      int
}

func (b *rateLimitedBroker) CurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	b.calls++
	if b.calls <= b.failBefore {
		return decimal.Zero, core.NewError(core.KindRateLimited, "test.CurrentPrice", core.ErrRateLimited)
	}
	return b.MockBroker.CurrentPrice(ctx, market)
}

func TestResilientBroker_RateLimitRetriesWithoutConsumingBudget(t *testing.T) {
	mb := NewMockBroker(decimal.NewFromInt(1000), decimal.NewFromInt(600000), decimal.Zero)
	cfg := config.DefaultConfig().Timing
	cfg.BrokerMaxRetries = 1
	cfg.RateLimitRetryDelayMS = 1

	// failBefore exceeds BrokerMaxRetries: if rate-limit retries spent
	// the bounded-retry budget, this call would give up and error out.
	inner := &rateLimitedBroker{MockBroker: mb, failBefore: 5}
	rb := NewResilientBroker(inner, cfg, stubLogger{})

	price, err := rb.CurrentPrice(context.Background(), "KRW-XRP")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, 6, inner.calls)
}
