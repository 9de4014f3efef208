package market

import (
	"sync"
	"time"
)

// BarBuilder folds mid prices from ticks into fixed-width bars and keeps
// the most recent Limit of them per symbol.
type BarBuilder struct {
	mu    sync.Mutex
	frame time.Duration
	limit int
	bars  map[string][]Candle
}

func NewBarBuilder(frame time.Duration, limit int) *BarBuilder {
	if frame <= 0 {
		frame = time.Minute
	}
	if limit <= 0 {
		limit = 500
	}
	return &BarBuilder{
		frame: frame,
		limit: limit,
		bars:  make(map[string][]Candle),
	}
}

// Add folds t into the current bar for its symbol, opening a new bar when
// t falls in a later time bucket. Ticks older than the current bar are ignored.
func (b *BarBuilder) Add(t Tick) {
	px := t.Mid()
	if px == 0 {
		return
	}
	start := t.Time.Truncate(b.frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	bars := b.bars[t.Symbol]
	n := len(bars)
	switch {
	case n > 0 && bars[n-1].Time.Equal(start):
		c := &bars[n-1]
		if px > c.High {
			c.High = px
		}
		if px < c.Low {
			c.Low = px
		}
		c.Close = px
		c.Volume++
	case n > 0 && start.Before(bars[n-1].Time):
		return
	default:
		bars = append(bars, Candle{Open: px, High: px, Low: px, Close: px, Volume: 1, Time: start})
		if len(bars) > b.limit {
			bars = bars[len(bars)-b.limit:]
		}
	}
	b.bars[t.Symbol] = bars
}

// Seed replaces the bar history for a symbol.
func (b *BarBuilder) Seed(symbol string, cs []Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]Candle, len(cs))
	copy(cp, cs)
	b.bars[symbol] = cp
}

// Recent returns a copy of up to count most recent bars, oldest first.
func (b *BarBuilder) Recent(symbol string, count int) []Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	bars := b.bars[symbol]
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]Candle, len(bars))
	copy(out, bars)
	return out
}
