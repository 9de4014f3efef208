package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/fxassist/market"
)

// Gateway is everything the engine needs from a trading terminal. Calls
// are synchronous; implementations must be safe for concurrent use.
type Gateway interface {
	ResolveSymbol(ctx context.Context, instrument string) (market.Symbol, error)
	LatestTick(ctx context.Context, symbol string) (market.Tick, error)
	RecentBars(ctx context.Context, symbol string, count int) ([]market.Candle, error)
	OpenPositions(ctx context.Context, symbol string) ([]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyPosition(ctx context.Context, req ModifyRequest) (OrderResult, error)
	Account(ctx context.Context) (Account, error)

	// SelectSymbol adds (enable) or removes a symbol from the terminal's
	// quote subscriptions.
	SelectSymbol(ctx context.Context, symbol string, enable bool) error
}

type Account struct {
	Login    string  `json:"-"`
	Currency string  `json:"-"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Profit   float64 `json:"profit"`
}

// Position is an open position as reported by the terminal.
type Position struct {
	Ticket     uint64      `json:"ticket"`
	Symbol     string      `json:"-"`
	Side       market.Side `json:"type"`
	Volume     float64     `json:"volume"`
	OpenPrice  float64     `json:"price_open"`
	StopLoss   float64     `json:"sl"` // 0 = none
	TakeProfit float64     `json:"tp"` // 0 = none
	Profit     float64     `json:"profit"`
	OpenTime   time.Time   `json:"-"`
}

// Defaults the terminal expects on every deal request.
const (
	DefaultDeviation = 20
	DefaultMagic     = 234000
)

// OrderRequest is a market deal. A non-zero Position closes (part of) that
// position instead of opening a new one.
type OrderRequest struct {
	Symbol     string
	Side       market.Side
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Position   uint64
	Deviation  int
	Magic      int
	Comment    string
}

// ModifyRequest replaces the stop and target of an open position.
type ModifyRequest struct {
	Symbol     string
	Position   uint64
	StopLoss   float64
	TakeProfit float64
}

// OrderResult is the terminal's answer to a deal or modify request.
type OrderResult struct {
	Retcode int
	Ticket  uint64
	Price   float64
	Message string
}

// Done reports whether the terminal completed the request.
func (r OrderResult) Done() bool {
	return r.Retcode == RetcodeDone
}
