package signal

import (
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/fxassist/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(n int) []market.Candle {
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Open: 1.1000, High: 1.1010, Low: 1.0990, Close: 1.1000, Time: t0.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

// pivots returns a window with an up pivot at hi and a down pivot at lo.
func pivots(hi, lo float64) []market.Candle {
	bars := window(20)
	bars[12].High = hi
	bars[14].Low = lo
	return bars
}

func TestUpdateBuyAboveUpPivot(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	ev := e.Update("EURUSD", pivots(1.1050, 1.0950), 1.1055, false)

	assert.Equal(t, Buy, ev.Signal)
	require.NotNil(t, ev.Up)
	assert.InDelta(t, 1.1050, *ev.Up, 1e-12)
	assert.True(t, ev.NewUp)
	assert.True(t, ev.NewDown)

	px, ok := ev.Trigger()
	assert.True(t, ok)
	assert.InDelta(t, 1.1050, px, 1e-12)
}

func TestUpdateSellBelowDownPivot(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	ev := e.Update("EURUSD", pivots(1.1050, 1.0950), 1.0940, false)
	assert.Equal(t, Sell, ev.Signal)

	side, ok := ev.Signal.Side()
	assert.True(t, ok)
	assert.Equal(t, market.Sell, side)
}

func TestUpdateBuyTakesPrecedence(t *testing.T) {
	t.Parallel()

	e := NewEngine()

	// Store an up pivot at 1.1015.
	bars := window(20)
	bars[12].High = 1.1015
	e.Update("X", bars, 1.1000, false)

	// Then a down pivot above it at 1.1030, with no new high.
	bars = window(20)
	for i := range bars {
		bars[i].High = 1.1050
		bars[i].Low = 1.1040
	}
	bars[14].Low = 1.1030
	ev := e.Update("X", bars, 1.1020, false)

	require.NotNil(t, ev.Up)
	require.NotNil(t, ev.Down)
	assert.InDelta(t, 1.1015, *ev.Up, 1e-12)
	assert.InDelta(t, 1.1030, *ev.Down, 1e-12)
	assert.Equal(t, Buy, ev.Signal)
}

func TestUpdateEqualityDoesNotTrigger(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	assert.Equal(t, None, e.Update("X", pivots(1.1050, 1.0950), 1.1050, false).Signal)
	assert.Equal(t, None, e.Update("X", pivots(1.1050, 1.0950), 1.0950, false).Signal)
}

func TestUpdateSuppressedWithOpenPosition(t *testing.T) {
	t.Parallel()

	prices := []float64{0.5, 1.0940, 1.1000, 1.1055, 2.0}
	for _, px := range prices {
		e := NewEngine()
		ev := e.Update("X", pivots(1.1050, 1.0950), px, true)
		assert.Equal(t, None, ev.Signal, "price %v", px)
		// pivots are still tracked while a position is open
		require.NotNil(t, ev.Up)
		require.NotNil(t, ev.Down)
	}
}

func TestPivotsPersistWithoutNewFractal(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Update("X", pivots(1.1050, 1.0950), 1.1000, false)

	// Too few bars: detector returns nothing, stored pivots survive.
	ev := e.Update("X", window(5), 1.1000, false)
	assert.False(t, ev.NewUp)
	assert.False(t, ev.NewDown)
	require.NotNil(t, ev.Up)
	require.NotNil(t, ev.Down)
	assert.InDelta(t, 1.1050, *ev.Up, 1e-12)
	assert.InDelta(t, 1.0950, *ev.Down, 1e-12)

	// Flat window: no pivots either.
	ev = e.Update("X", window(30), 1.1051, false)
	assert.Equal(t, Buy, ev.Signal)

	// New pivot overwrites.
	bars := window(20)
	bars[15].High = 1.1100
	ev = e.Update("X", bars, 1.1051, false)
	assert.InDelta(t, 1.1100, *ev.Up, 1e-12)
	assert.Equal(t, None, ev.Signal)

	st, ok := e.Snapshot("X")
	require.True(t, ok)
	assert.InDelta(t, 1.1100, *st.Up, 1e-12)
}

func TestUpdateWithoutPivots(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	ev := e.Update("X", window(30), 1.5, false)
	assert.Equal(t, None, ev.Signal)
	assert.Nil(t, ev.Up)
	assert.Nil(t, ev.Down)
	_, ok := ev.Trigger()
	assert.False(t, ok)
}

func TestClaimOncePerCrossing(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	ev := e.Update("X", pivots(1.1050, 1.0950), 1.1055, false)
	px, _ := ev.Trigger()

	assert.True(t, e.Claim("X", ev.Signal, px))
	assert.False(t, e.Claim("X", ev.Signal, px))

	// A new pivot on the same side is a new crossing.
	assert.True(t, e.Claim("X", Buy, 1.1100))
	// Sides are independent.
	assert.True(t, e.Claim("X", Sell, 1.0950))
	assert.False(t, e.Claim("X", None, 1.0))
}

func TestReleaseReopensCrossing(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	require.True(t, e.Claim("X", Buy, 1.1050))
	e.Release("X", Buy, 1.1049) // different pivot, no effect
	assert.False(t, e.Claim("X", Buy, 1.1050))

	e.Release("X", Buy, 1.1050)
	assert.True(t, e.Claim("X", Buy, 1.1050))
}

func TestClaimConcurrent(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Claim("X", Buy, 1.1050) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSnapshotAndForget(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	_, ok := e.Snapshot("X")
	assert.False(t, ok)

	e.Update("X", pivots(1.1050, 1.0950), 1.1, false)
	_, ok = e.Snapshot("X")
	assert.True(t, ok)

	e.Forget("X")
	_, ok = e.Snapshot("X")
	assert.False(t, ok)
}
