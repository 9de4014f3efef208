// Package fractal finds confirmed swing pivots in a bar window.
package fractal

import (
	"time"

	"github.com/rustyeddy/fxassist/market"
)

// MinBars is the shortest window Find will look at.
const MinBars = 10

// Kind tells a swing high from a swing low.
type Kind int

const (
	SwingHigh Kind = iota + 1
	SwingLow
)

func (k Kind) String() string {
	switch k {
	case SwingHigh:
		return "SWING_HIGH"
	case SwingLow:
		return "SWING_LOW"
	default:
		return "UNKNOWN"
	}
}

// Pivot is a confirmed local extremum.
type Pivot struct {
	Kind  Kind
	Price float64
	Index int // position in the window passed to Find
	Time  time.Time
}

// Find scans bars (oldest first) from the most recent confirmable bar
// backwards and returns the nearest swing high and swing low. A pivot at i
// needs two bars on each side strictly below (high) or above (low) it, so
// the last two bars are never candidates. Either result may be nil.
func Find(bars []market.Candle) (up, down *Pivot) {
	n := len(bars)
	if n < MinBars {
		return nil, nil
	}

	for i := n - 3; i >= 3; i-- {
		if up == nil && isSwingHigh(bars, i) {
			up = &Pivot{Kind: SwingHigh, Price: bars[i].High, Index: i, Time: bars[i].Time}
		}
		if down == nil && isSwingLow(bars, i) {
			down = &Pivot{Kind: SwingLow, Price: bars[i].Low, Index: i, Time: bars[i].Time}
		}
		if up != nil && down != nil {
			break
		}
	}
	return up, down
}

func isSwingHigh(b []market.Candle, i int) bool {
	h := b[i].High
	return h > b[i-1].High && h > b[i-2].High && h > b[i+1].High && h > b[i+2].High
}

func isSwingLow(b []market.Candle, i int) bool {
	l := b[i].Low
	return l < b[i-1].Low && l < b[i-2].Low && l < b[i+1].Low && l < b[i+2].Low
}
