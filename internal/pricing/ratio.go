package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// minRatio and maxRatio bound the target cash fraction the curve can
// ever return.
var (
	minRatio = decimal.Zero
	maxRatio = decimal.RequireFromString("0.875")
)

// RatioModel is the pure, deterministic, stateless ratio/volume curve.
// It carries no state of its own; its methods are plain functions.
type RatioModel struct{}

// NewRatioModel returns the ratio/volume curve.
func NewRatioModel() *RatioModel { return &RatioModel{} }

// Ratio maps (price, pivot) to the target cash fraction in [0, 0.875].
// For price >= pivot the curve uses a 2δ exponent (biasing the engine
// to hold more cash on the upside); below pivot it uses δ. The ratio
// curve itself is evaluated in float64 — only price *stepping* needs
// decimal exactness.
func (m *RatioModel) Ratio(price, pivot decimal.Decimal) decimal.Decimal {
	p, _ := price.Float64()
	v, _ := pivot.Float64()

	var r float64
	if p >= v {
		delta := p/v - 1
		r = 1 - 0.5*math.Pow(2, -2*delta)
	} else {
		delta := v/p - 1
		r = 0.5 * math.Pow(2, -delta)
	}

	out := decimal.NewFromFloat(r)
	if out.LessThan(minRatio) {
		return minRatio
	}
	if out.GreaterThan(maxRatio) {
		return maxRatio
	}
	return out
}

// Volume returns the signed rebalancing notional at price given the
// current balance and pivot: positive means the engine should buy that
// much quote-currency notional, negative means sell its absolute value.
func (m *RatioModel) Volume(cash, quantity, price, pivot decimal.Decimal) decimal.Decimal {
	value := quantity.Mul(price).Add(cash)
	target := m.Ratio(price, pivot)
	return cash.Sub(value.Mul(target))
}
