package sim

import (
	"time"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/market"
)

// Trade is a paper position, open or closed.
type Trade struct {
	Ticket     uint64
	Symbol     string
	Side       market.Side
	Volume     float64
	EntryPrice float64
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none
	OpenTime   time.Time

	// Realized
	ClosePrice float64
	CloseTime  time.Time
	RealizedPL float64 // account currency
	Reason     string
	Open       bool
}

func (t *Trade) position(profit float64) broker.Position {
	return broker.Position{
		Ticket:     t.Ticket,
		Symbol:     t.Symbol,
		Side:       t.Side,
		Volume:     t.Volume,
		OpenPrice:  t.EntryPrice,
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
		Profit:     profit,
		OpenTime:   t.OpenTime,
	}
}

// markPrice is the side of the quote a position is valued and closed at:
// longs at the bid, shorts at the ask.
func markPrice(side market.Side, tk market.Tick) float64 {
	if side == market.Buy {
		return tk.Bid
	}
	return tk.Ask
}

func hitStopLoss(t *Trade, price float64) bool {
	if t.StopLoss == 0 {
		return false
	}
	if t.Side == market.Buy {
		return price <= t.StopLoss
	}
	return price >= t.StopLoss
}

func hitTakeProfit(t *Trade, price float64) bool {
	if t.TakeProfit == 0 {
		return false
	}
	if t.Side == market.Buy {
		return price >= t.TakeProfit
	}
	return price <= t.TakeProfit
}

// validStops reports whether sl and tp sit on the correct sides of ref for
// a position on side. Zero means unset and is always valid.
func validStops(side market.Side, ref, sl, tp float64) bool {
	if side == market.Buy {
		return (sl == 0 || sl < ref) && (tp == 0 || tp > ref)
	}
	return (sl == 0 || sl > ref) && (tp == 0 || tp < ref)
}

// UnrealizedPL values volume lots of t at mark, converted into the
// account currency with quoteToAccount.
func UnrealizedPL(t Trade, volume, mark, contractSize, quoteToAccount float64) float64 {
	plQuote := t.Side.Sign() * (mark - t.EntryPrice) * volume * contractSize
	return plQuote * quoteToAccount
}
