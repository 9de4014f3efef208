// Package signal turns fractal pivots into breakout entries, one tracker
// per instrument.
package signal

import (
	"sync"

	"github.com/rustyeddy/fxassist/fractal"
	"github.com/rustyeddy/fxassist/market"
)

// Signal is the entry suggested for the current tick.
type Signal string

const (
	None Signal = "NONE"
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
)

// Side maps a directional signal to an order side. ok is false for None.
func (s Signal) Side() (market.Side, bool) {
	switch s {
	case Buy:
		return market.Buy, true
	case Sell:
		return market.Sell, true
	default:
		return "", false
	}
}

// State is a copy of the pivots last seen for an instrument.
type State struct {
	Up   *float64
	Down *float64
}

// Evaluation is the result of one Update.
type Evaluation struct {
	Signal Signal
	State
	NewUp   bool // the detector produced an up pivot this tick
	NewDown bool
}

// Trigger returns the pivot price the signal crossed.
func (ev Evaluation) Trigger() (float64, bool) {
	switch ev.Signal {
	case Buy:
		if ev.Up != nil {
			return *ev.Up, true
		}
	case Sell:
		if ev.Down != nil {
			return *ev.Down, true
		}
	}
	return 0, false
}

type tracker struct {
	mu   sync.Mutex
	up   *float64
	down *float64

	// pivot values whose crossing has already been claimed for execution
	claimedUp   *float64
	claimedDown *float64
}

// Engine owns every instrument's pivot state. It is safe for concurrent use;
// work on one instrument never blocks another.
type Engine struct {
	mu       sync.Mutex
	trackers map[string]*tracker
}

func NewEngine() *Engine {
	return &Engine{trackers: make(map[string]*tracker)}
}

func (e *Engine) tracker(instrument string) *tracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trackers[instrument]
	if !ok {
		t = &tracker{}
		e.trackers[instrument] = t
	}
	return t
}

// Update feeds the latest bar window and price for an instrument.
//
// Pivots found in bars replace the stored ones; a window with no pivot
// leaves them alone. With no open position the price is compared against
// the stored pivots: above the up pivot is BUY, otherwise below the down
// pivot is SELL. Equality never triggers. With a position open the result
// is always None. The same crossing is reported on every tick until the
// pivot moves or a position opens; use Claim to act on it once.
func (e *Engine) Update(instrument string, bars []market.Candle, price float64, hasPosition bool) Evaluation {
	t := e.tracker(instrument)
	up, down := fractal.Find(bars)

	t.mu.Lock()
	defer t.mu.Unlock()

	ev := Evaluation{Signal: None}
	if up != nil {
		t.up = ptr(up.Price)
		ev.NewUp = true
	}
	if down != nil {
		t.down = ptr(down.Price)
		ev.NewDown = true
	}
	ev.State = t.snapshot()

	if hasPosition {
		return ev
	}
	switch {
	case t.up != nil && price > *t.up:
		ev.Signal = Buy
	case t.down != nil && price < *t.down:
		ev.Signal = Sell
	}
	return ev
}

// Claim marks the crossing of pivot by sig as consumed. It returns false
// when that crossing was already claimed, so a caller auto-trading on
// signals opens at most one order per pivot. A different pivot price on
// the same side starts a fresh crossing.
func (e *Engine) Claim(instrument string, sig Signal, pivot float64) bool {
	t := e.tracker(instrument)
	t.mu.Lock()
	defer t.mu.Unlock()

	var slot **float64
	switch sig {
	case Buy:
		slot = &t.claimedUp
	case Sell:
		slot = &t.claimedDown
	default:
		return false
	}
	if *slot != nil && **slot == pivot {
		return false
	}
	*slot = ptr(pivot)
	return true
}

// Release undoes a Claim that could not be acted on, so the crossing is
// offered again on the next tick.
func (e *Engine) Release(instrument string, sig Signal, pivot float64) {
	t := e.tracker(instrument)
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case sig == Buy && t.claimedUp != nil && *t.claimedUp == pivot:
		t.claimedUp = nil
	case sig == Sell && t.claimedDown != nil && *t.claimedDown == pivot:
		t.claimedDown = nil
	}
}

// Snapshot returns the stored pivots; ok is false if the instrument has
// never been updated.
func (e *Engine) Snapshot(instrument string) (State, bool) {
	e.mu.Lock()
	t, ok := e.trackers[instrument]
	e.mu.Unlock()
	if !ok {
		return State{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(), true
}

// Forget drops the state of an instrument that is no longer tracked.
func (e *Engine) Forget(instrument string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.trackers, instrument)
}

func (t *tracker) snapshot() State {
	var s State
	if t.up != nil {
		s.Up = ptr(*t.up)
	}
	if t.down != nil {
		s.Down = ptr(*t.down)
	}
	return s
}

func ptr(v float64) *float64 { return &v }
