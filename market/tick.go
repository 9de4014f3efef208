package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoTick is returned by a TickStore that has never seen the symbol.
var ErrNoTick = errors.New("tick not found")

type TickSource interface {
	LatestTick(ctx context.Context, symbol string) (Tick, error)
}

type Tick struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
}

func (t Tick) Mid() float64 {
	if t.Bid == 0 && t.Ask == 0 {
		return 0
	}
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Valid reports whether the tick carries a usable two-sided quote.
func (t Tick) Valid() bool {
	return t.Bid > 0 && t.Ask > 0
}

type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Symbol] = t
}

func (ts *TickStore) Get(symbol string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoTick
	}
	return t, nil
}
