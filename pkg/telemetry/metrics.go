package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricBalanceTotal       = "pivot_engine_balance_total"
	MetricRatioCurrent       = "pivot_engine_ratio_current"
	MetricPivotValue         = "pivot_engine_pivot_value"
	MetricOrdersActive       = "pivot_engine_orders_active"
	MetricOrdersPlacedTotal  = "pivot_engine_orders_placed_total"
	MetricOrdersFilledTotal  = "pivot_engine_orders_filled_total"
	MetricVolumeTotal        = "pivot_engine_volume_total"
	MetricLatencyExchange    = "pivot_engine_latency_exchange_ms"
	MetricLatencyTickToTrade = "pivot_engine_latency_tick_to_trade_ms"
	MetricCircuitBreakerOpen = "pivot_engine_circuit_breaker_open"
	MetricPivotUpdatesTotal  = "pivot_engine_pivot_updates_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	BalanceTotal       metric.Float64ObservableGauge
	RatioCurrent       metric.Float64ObservableGauge
	PivotValue         metric.Float64ObservableGauge
	OrdersActive       metric.Int64ObservableGauge
	OrdersPlacedTotal  metric.Int64Counter
	OrdersFilledTotal  metric.Int64Counter
	VolumeTotal        metric.Float64Counter
	LatencyExchange    metric.Float64Histogram
	LatencyTickToTrade metric.Float64Histogram
	CircuitBreakerOpen metric.Int64ObservableGauge
	PivotUpdatesTotal  metric.Int64Counter

	mu              sync.RWMutex
	balanceMap      map[string]float64
	ratioMap        map[string]float64
	pivotMap        map[string]float64
	activeOrdersMap map[string]int64
	cbOpenMap       map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			balanceMap:      make(map[string]float64),
			ratioMap:        make(map[string]float64),
			pivotMap:        make(map[string]float64),
			activeOrdersMap: make(map[string]int64),
			cbOpenMap:       make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled"))
	if err != nil {
		return err
	}

	m.VolumeTotal, err = meter.Float64Counter(MetricVolumeTotal, metric.WithDescription("Total trading volume in base asset"))
	if err != nil {
		return err
	}

	m.PivotUpdatesTotal, err = meter.Int64Counter(MetricPivotUpdatesTotal, metric.WithDescription("Total pivot updates applied"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of broker API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencyTickToTrade, err = meter.Float64Histogram(MetricLatencyTickToTrade, metric.WithDescription("Time from price poll to order action"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.BalanceTotal, err = meter.Float64ObservableGauge(MetricBalanceTotal, metric.WithDescription("Current total portfolio value in quote currency"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for market, val := range m.balanceMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("market", market)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RatioCurrent, err = meter.Float64ObservableGauge(MetricRatioCurrent, metric.WithDescription("Current realized cash fraction of total portfolio value"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for market, val := range m.ratioMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("market", market)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PivotValue, err = meter.Float64ObservableGauge(MetricPivotValue, metric.WithDescription("Current PIVOT anchor value"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for market, val := range m.pivotMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("market", market)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for market, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("market", market)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Broker circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for market, val := range m.cbOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("market", market)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetBalance(market string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceMap[market] = value
}

func (m *MetricsHolder) SetRatio(market string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratioMap[market] = value
}

func (m *MetricsHolder) SetPivot(market string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pivotMap[market] = value
}

func (m *MetricsHolder) SetActiveOrders(market string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[market] = count
}

func (m *MetricsHolder) SetCircuitBreakerOpen(market string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[market] = val
}

func (m *MetricsHolder) GetBalance() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.balanceMap))
	for k, v := range m.balanceMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.activeOrdersMap))
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}
