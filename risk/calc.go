package risk

// Pip math for terminal symbols. A symbol quoted with 5 or 3 decimals
// carries a fractional pip, so one pip is ten points; otherwise one pip is
// one point.

import (
	"github.com/rustyeddy/fxassist/market"
	"github.com/shopspring/decimal"
)

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PipMultiplier returns the number of points in one pip for a quote
// precision of digits decimals.
func PipMultiplier(digits int) float64 {
	if digits == 5 || digits == 3 {
		return 10
	}
	return 1
}

// PipSize is the price size of one pip for sym.
func PipSize(sym market.Symbol) float64 {
	return PipMultiplier(sym.Digits) * sym.Point
}

// PipDistance converts a pip count into a price distance for sym.
func PipDistance(pips float64, sym market.Symbol) float64 {
	return pips * PipMultiplier(sym.Digits) * sym.Point
}

// Pips converts a price distance back into pips for sym.
func Pips(distance float64, sym market.Symbol) float64 {
	size := PipSize(sym)
	if size == 0 {
		return 0
	}
	return abs(distance) / size
}

// Round rounds price half away from zero to digits decimals.
func Round(price float64, digits int) float64 {
	f, _ := decimal.NewFromFloat(price).Round(int32(digits)).Float64()
	return f
}

// Levels returns stop and target for an entry on side, each rounded to the
// symbol's precision. A zero pip count yields a zero level (none).
func Levels(side market.Side, entry, slPips, tpPips float64, sym market.Symbol) (stop, target float64) {
	if slPips > 0 {
		stop = Round(entry-side.Sign()*PipDistance(slPips, sym), sym.Digits)
	}
	if tpPips > 0 {
		target = Round(entry+side.Sign()*PipDistance(tpPips, sym), sym.Digits)
	}
	return stop, target
}

// RR is reward over risk for an entry with stop and take profit; 0 when
// there is no risk.
func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}
