package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickMid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bid      float64
		ask      float64
		expected float64
	}{
		{"simple", 1.0, 3.0, 2.0},
		{"same", 2.5, 2.5, 2.5},
		{"zero", 0.0, 0.0, 0.0},
		{"fractional", 1.1, 1.3, 1.2},
	}

	const tol = 1e-9

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Tick{Bid: tt.bid, Ask: tt.ask}
			got := p.Mid()
			if math.Abs(got-tt.expected) > tol {
				t.Fatalf("Mid() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestTickStore(t *testing.T) {
	t.Parallel()

	ts := NewTickStore()
	_, err := ts.Get("EURUSD")
	assert.ErrorIs(t, err, ErrNoTick)

	ts.Set(Tick{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002})
	got, err := ts.Get("EURUSD")
	require.NoError(t, err)
	assert.True(t, got.Valid())
	assert.InDelta(t, 0.0002, got.Spread(), 1e-12)
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	s, err := ParseSide(" buy ")
	require.NoError(t, err)
	assert.Equal(t, Buy, s)
	assert.Equal(t, Sell, s.Opposite())
	assert.Equal(t, -1.0, Sell.Sign())

	_, err = ParseSide("hold")
	assert.Error(t, err)
}

func TestPointFor(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.00001, PointFor(5), 1e-15)
	assert.InDelta(t, 0.01, PointFor(2), 1e-15)
	assert.InDelta(t, 1.0, PointFor(0), 1e-15)
}
