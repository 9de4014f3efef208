package risk

import (
	"testing"

	"github.com/rustyeddy/fxassist/market"
	"github.com/stretchr/testify/assert"
)

var (
	eurusd = market.Symbol{Name: "EURUSD", Digits: 5, Point: 0.00001}
	usdjpy = market.Symbol{Name: "USDJPY", Digits: 3, Point: 0.001}
	xauusd = market.Symbol{Name: "XAUUSD", Digits: 2, Point: 0.01}
	eur4   = market.Symbol{Name: "EURUSD4", Digits: 4, Point: 0.0001}
)

func TestPipMultiplier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		digits int
		want   float64
	}{
		{5, 10},
		{3, 10},
		{4, 1},
		{2, 1},
		{0, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PipMultiplier(tt.digits), "digits=%d", tt.digits)
	}
}

func TestPipSize(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0001, PipSize(eurusd), 1e-12)
	assert.InDelta(t, 0.0001, PipSize(eur4), 1e-12)
	assert.InDelta(t, 0.01, PipSize(usdjpy), 1e-12)
	assert.InDelta(t, 0.01, PipSize(xauusd), 1e-12)
}

func TestPipDistanceRoundTrip(t *testing.T) {
	t.Parallel()

	d := PipDistance(15, eurusd)
	assert.InDelta(t, 0.0015, d, 1e-12)
	assert.InDelta(t, 15, Pips(-d, eurusd), 1e-9)
	assert.Equal(t, 0.0, Pips(1, market.Symbol{}))
}

func TestRound(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.1001, Round(1.10005000001, 5-1))
	assert.Equal(t, 1.10012, Round(1.100115, 5))
	assert.Equal(t, 150.123, Round(150.12349, 3))
	assert.Equal(t, 1.1, Round(1.1000000000000001, 5))
}

func TestLevels(t *testing.T) {
	t.Parallel()

	stop, target := Levels(market.Buy, 1.10552, 10, 30, eurusd)
	assert.Equal(t, 1.10452, stop)
	assert.Equal(t, 1.10852, target)
	assert.Less(t, stop, 1.10552)
	assert.Greater(t, target, 1.10552)

	stop, target = Levels(market.Sell, 150.250, 10, 30, usdjpy)
	assert.Equal(t, 150.35, stop)
	assert.Equal(t, 149.95, target)

	stop, target = Levels(market.Buy, 2000.50, 10, 0, xauusd)
	assert.Equal(t, 2000.40, stop)
	assert.Equal(t, 0.0, target)
}

func TestRR(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 3.0, RR(1.1000, 1.0990, 1.1030), 1e-9)
	assert.Equal(t, 0.0, RR(1.1, 1.1, 1.2))
}
