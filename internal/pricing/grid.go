// Package pricing implements the exchange price-step grid and the
// ratio/volume curve the trading engine rebalances against.
package pricing

import (
	"market_maker/internal/core"

	"github.com/shopspring/decimal"
)

// band is one row of the tick table: prices >= Floor use Tick as their
// step. Bands are checked high to low.
type band struct {
	Floor decimal.Decimal
	Tick  decimal.Decimal
}

var bands = buildBands()

func buildBands() []band {
	raw := []struct {
		floor string
		tick  string
	}{
		{"2000000", "1000"},
		{"1000000", "500"},
		{"500000", "100"},
		{"100000", "50"},
		{"10000", "10"},
		{"1000", "1"},
		{"100", "0.1"},
		{"10", "0.01"},
		{"1", "0.001"},
		{"0.1", "0.0001"},
		{"0.01", "0.00001"},
		{"0.001", "0.000001"},
		{"0.0001", "0.0000001"},
		{"0", "0.00000001"},
	}
	out := make([]band, len(raw))
	for i, r := range raw {
		out[i] = band{Floor: decimal.RequireFromString(r.floor), Tick: decimal.RequireFromString(r.tick)}
	}
	return out
}

// epsilon is the downward shift used by Prev to land in the correct
// band at a boundary.
var epsilon = decimal.RequireFromString("0.000001")

// Grid maps prices to the exchange's tick grid with decimal-exact
// arithmetic.
type Grid struct{}

// NewGrid returns the exchange price-step grid.
func NewGrid() *Grid { return &Grid{} }

// Step returns the tick size for the band containing p. Fails with
// core.ErrInvalidPrice only if p <= 0.
func (g *Grid) Step(p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() {
		return decimal.Zero, core.NewError(core.KindPermanent, "grid.step", core.ErrInvalidPrice)
	}
	for _, b := range bands {
		if p.GreaterThanOrEqual(b.Floor) {
			return b.Tick, nil
		}
	}
	// Unreachable: the last band's floor is zero.
	return bands[len(bands)-1].Tick, nil
}

// Next returns p + step(p), decimal-exact.
func (g *Grid) Next(p decimal.Decimal) (decimal.Decimal, error) {
	step, err := g.Step(p)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Add(step), nil
}

// Prev returns p - step(p - epsilon); the epsilon shift ensures that at
// a band boundary, stepping down uses the lower band's tick.
func (g *Grid) Prev(p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() {
		return decimal.Zero, core.NewError(core.KindPermanent, "grid.prev", core.ErrInvalidPrice)
	}
	shifted := p.Sub(epsilon)
	step, err := g.Step(shifted)
	if err != nil {
		// shifted <= 0 only when p <= epsilon; fall back to p's own
		// step.
		step, err = g.Step(p)
		if err != nil {
			return decimal.Zero, err
		}
	}
	return p.Sub(step), nil
}
