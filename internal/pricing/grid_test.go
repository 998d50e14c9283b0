package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid_Step(t *testing.T) {
	g := NewGrid()

	tests := []struct {
		price string
		tick  string
	}{
		{"2500000", "1000"},
		{"1500000", "500"},
		{"750000", "100"},
		{"150000", "50"},
		{"15000", "10"},
		{"1500", "1"},
		{"150", "0.1"},
		{"15", "0.01"},
		{"1.5", "0.001"},
		{"0.15", "0.0001"},
		{"0.015", "0.00001"},
		{"0.0015", "0.000001"},
		{"0.00015", "0.0000001"},
		{"0.000015", "0.00000001"},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			step, err := g.Step(decimal.RequireFromString(tt.price))
			require.NoError(t, err)
			assert.True(t, step.Equal(decimal.RequireFromString(tt.tick)), "got %s want %s", step, tt.tick)
		})
	}
}

func TestGrid_Step_InvalidPrice(t *testing.T) {
	g := NewGrid()
	_, err := g.Step(decimal.Zero)
	assert.Error(t, err)
	_, err = g.Step(decimal.NewFromInt(-5))
	assert.Error(t, err)
}

func TestGrid_Next(t *testing.T) {
	g := NewGrid()
	next, err := g.Next(decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, next.Equal(decimal.NewFromInt(1001)), "got %s", next)
}

func TestGrid_Prev_BandBoundary(t *testing.T) {
	g := NewGrid()
	// 100 sits on the >=100 band (tick 0.1), but the band directly below
	// (>=10) uses tick 0.01. The epsilon shift must land in the lower
	// band so prev(100) == 99.99, not 99.9.
	prev, err := g.Prev(decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, prev.Equal(decimal.RequireFromString("99.99")), "got %s", prev)
}

func TestGrid_RoundTrip_InteriorOfBand(t *testing.T) {
	g := NewGrid()
	p := decimal.RequireFromString("500")

	next, err := g.Next(p)
	require.NoError(t, err)
	back, err := g.Prev(next)
	require.NoError(t, err)
	assert.True(t, back.Equal(p), "next(prev) round trip: got %s want %s", back, p)

	prev, err := g.Prev(p)
	require.NoError(t, err)
	fwd, err := g.Next(prev)
	require.NoError(t, err)
	assert.True(t, fwd.Equal(p), "prev(next) round trip: got %s want %s", fwd, p)
}
