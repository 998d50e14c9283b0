// Package broker wraps a core.Broker with the resilience layer the
// exchange boundary needs: rate limiting, retry with backoff, and a
// circuit breaker, so the engine itself never has to think about
// network flakiness.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market_maker/internal/config"
	"market_maker/internal/core"
)

// ResilientBroker decorates an inner core.Broker with rate limiting,
// retries, and circuit breaking. It implements core.Broker itself so
// the engine can hold it behind the same interface as any other
// broker.
type ResilientBroker struct {
	inner          core.Broker
	limiter        *rate.Limiter
	executor       failsafe.Executor[any]
	breaker        circuitbreaker.CircuitBreaker[any]
	rateLimitDelay time.Duration
	log            core.ILogger
}

// NewResilientBroker builds the decorator from the timing knobs in
// spec.md §6/§4.10.
func NewResilientBroker(inner core.Broker, cfg config.TimingConfig, log core.ILogger) *ResilientBroker {
	retryDelay := time.Duration(cfg.BrokerRetryDelayMS) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	rateLimitDelay := time.Duration(cfg.RateLimitRetryDelayMS) * time.Millisecond
	if rateLimitDelay < 500*time.Millisecond {
		rateLimitDelay = 500 * time.Millisecond
	}

	retryPolicy := retrypolicy.Builder[any]().
		HandleIf(func(_ any, err error) bool { return isTransient(err) }).
		WithBackoff(retryDelay, 10*time.Second).
		WithMaxRetries(cfg.BrokerMaxRetries).
		Build()

	breaker := circuitbreaker.Builder[any]().
		HandleIf(func(_ any, err error) bool { return isTransient(err) }).
		WithFailureThreshold(5).
		WithDelay(30 * time.Second).
		Build()

	return &ResilientBroker{
		inner:          inner,
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		executor:       failsafe.NewExecutor[any](retryPolicy, breaker),
		breaker:        breaker,
		rateLimitDelay: rateLimitDelay,
		log:            log,
	}
}

// CircuitBreakerOpen reports whether the broker's circuit breaker is
// currently rejecting calls, for the caller to surface as a gauge.
func (rb *ResilientBroker) CircuitBreakerOpen() bool {
	return rb.breaker.IsOpen()
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	return core.IsKind(err, core.KindTransient) || core.IsKind(err, core.KindMissingOrder)
}

// call runs fn through the rate limiter and the bounded retry/circuit
// breaker executor. A 429-equivalent (core.KindRateLimited) response is
// handled outside the executor entirely: spec.md §4.3 requires it to
// sleep at least rateLimitDelay and retry without spending one of the
// bounded retry attempts, so it loops here rather than going through
// retryPolicy's attempt count.
func call[T any](ctx context.Context, rb *ResilientBroker, op string, fn func() (T, error)) (T, error) {
	var zero T
	for {
		if err := rb.limiter.Wait(ctx); err != nil {
			return zero, core.NewError(core.KindCancelled, op, err)
		}

		res, err := rb.executor.GetWithExecution(func(_ failsafe.Execution[any]) (any, error) {
			v, err := fn()
			return v, err
		})
		if err != nil {
			if core.IsKind(err, core.KindRateLimited) {
				rb.log.Warn("rate limited, retrying without consuming retry budget", "op", op, "delay", rb.rateLimitDelay.String())
				select {
				case <-ctx.Done():
					return zero, core.NewError(core.KindCancelled, op, ctx.Err())
				case <-time.After(rb.rateLimitDelay):
				}
				continue
			}
			return zero, err
		}

		out, ok := res.(T)
		if !ok {
			return zero, core.NewError(core.KindPermanent, op, errors.New("unexpected broker result type"))
		}
		return out, nil
	}
}

func (rb *ResilientBroker) CurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	return call(ctx, rb, "broker.CurrentPrice", func() (decimal.Decimal, error) {
		return rb.inner.CurrentPrice(ctx, market)
	})
}

func (rb *ResilientBroker) Balances(ctx context.Context) (core.AccountBalances, error) {
	return call(ctx, rb, "broker.Balances", func() (core.AccountBalances, error) {
		return rb.inner.Balances(ctx)
	})
}

func (rb *ResilientBroker) PlaceLimit(ctx context.Context, market string, side core.OrderSide, price, volume decimal.Decimal) (*core.Order, error) {
	return call(ctx, rb, "broker.PlaceLimit", func() (*core.Order, error) {
		return rb.inner.PlaceLimit(ctx, market, side, price, volume)
	})
}

func (rb *ResilientBroker) PlaceMarket(ctx context.Context, market string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error) {
	return call(ctx, rb, "broker.PlaceMarket", func() (*core.Order, error) {
		return rb.inner.PlaceMarket(ctx, market, side, amount)
	})
}

func (rb *ResilientBroker) GetOrder(ctx context.Context, id core.OrderID) (*core.Order, error) {
	return call(ctx, rb, "broker.GetOrder", func() (*core.Order, error) {
		return rb.inner.GetOrder(ctx, id)
	})
}

func (rb *ResilientBroker) GetOrders(ctx context.Context, ids []core.OrderID) (map[core.OrderID]*core.Order, error) {
	return call(ctx, rb, "broker.GetOrders", func() (map[core.OrderID]*core.Order, error) {
		return rb.inner.GetOrders(ctx, ids)
	})
}

func (rb *ResilientBroker) Cancel(ctx context.Context, id core.OrderID) error {
	_, err := call(ctx, rb, "broker.Cancel", func() (struct{}, error) {
		return struct{}{}, rb.inner.Cancel(ctx, id)
	})
	return err
}

func (rb *ResilientBroker) CancelAll(ctx context.Context, market string) error {
	_, err := call(ctx, rb, "broker.CancelAll", func() (struct{}, error) {
		return struct{}{}, rb.inner.CancelAll(ctx, market)
	})
	return err
}

// NewClientOrderID mints a fresh idempotency key for a PlaceLimit /
// PlaceMarket call, grounded on the teacher's reliance on
// ClientOrderId for replay-safe order placement.
func NewClientOrderID() string {
	return uuid.NewString()
}
