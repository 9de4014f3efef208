// Package execution turns a trade intent into one market order with
// pip-based stop and target.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/market"
	"github.com/rustyeddy/fxassist/metrics"
	"github.com/rustyeddy/fxassist/risk"
)

var (
	ErrInvalidVolume = errors.New("volume must be positive")
	ErrInvalidPips   = errors.New("stop and target pips must not be negative")
)

// Intent is a request to open a position.
type Intent struct {
	Instrument string
	Side       market.Side
	Volume     float64
	SLPips     float64
	TPPips     float64
	Comment    string
}

// Fill describes an order the terminal accepted.
type Fill struct {
	Instrument string
	Symbol     string
	Side       market.Side
	Volume     float64
	Ticket     uint64
	Price      float64 // assumed fill price (ask for buys, bid for sells)
	StopLoss   float64
	TakeProfit float64
	RR         float64
}

// Engine submits orders through a gateway. It holds no per-order state and
// is safe for concurrent use.
type Engine struct {
	gw  broker.Gateway
	log zerolog.Logger
}

func NewEngine(gw broker.Gateway, log zerolog.Logger) *Engine {
	return &Engine{gw: gw, log: log.With().Str("component", "execution").Logger()}
}

// Execute resolves the symbol, prices the order from the current quote and
// submits it exactly once. Errors are broker.ErrSymbolNotFound,
// broker.ErrQuoteUnavailable, a *broker.RejectedError when the terminal
// refuses the deal, or broker.ErrGatewayUnavailable.
func (e *Engine) Execute(ctx context.Context, in Intent) (Fill, error) {
	if !in.Side.Valid() {
		return Fill{}, fmt.Errorf("execute %s: invalid side %q", in.Instrument, in.Side)
	}
	if in.Volume <= 0 {
		return Fill{}, fmt.Errorf("execute %s: %w", in.Instrument, ErrInvalidVolume)
	}
	if in.SLPips < 0 || in.TPPips < 0 {
		return Fill{}, fmt.Errorf("execute %s: %w", in.Instrument, ErrInvalidPips)
	}

	sym, err := e.gw.ResolveSymbol(ctx, in.Instrument)
	if err != nil {
		e.log.Error().Err(err).Str("instrument", in.Instrument).Msg("symbol not resolved")
		return Fill{}, fmt.Errorf("execute %s: %w", in.Instrument, err)
	}

	tick, err := e.gw.LatestTick(ctx, sym.Name)
	if err != nil {
		return Fill{}, fmt.Errorf("execute %s: %w", in.Instrument, err)
	}
	price := tick.Ask
	if in.Side == market.Sell {
		price = tick.Bid
	}
	if price <= 0 {
		return Fill{}, fmt.Errorf("execute %s: %w", in.Instrument, broker.ErrQuoteUnavailable)
	}

	stop, target := risk.Levels(in.Side, price, in.SLPips, in.TPPips, sym)
	comment := in.Comment
	if comment == "" {
		comment = "fxassist"
	}

	e.log.Info().
		Str("instrument", in.Instrument).
		Str("symbol", sym.Name).
		Str("side", string(in.Side)).
		Float64("volume", in.Volume).
		Float64("price", price).
		Float64("sl", stop).
		Float64("tp", target).
		Msg("submitting order")

	res, err := e.gw.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:     sym.Name,
		Side:       in.Side,
		Volume:     in.Volume,
		Price:      price,
		StopLoss:   stop,
		TakeProfit: target,
		Deviation:  broker.DefaultDeviation,
		Magic:      broker.DefaultMagic,
		Comment:    comment,
	})
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(in.Instrument, string(in.Side), "error").Inc()
		e.log.Error().Err(err).Str("instrument", in.Instrument).Msg("order submission failed")
		return Fill{}, fmt.Errorf("execute %s: %w", in.Instrument, err)
	}
	if !res.Done() {
		metrics.OrdersTotal.WithLabelValues(in.Instrument, string(in.Side), "rejected").Inc()
		e.log.Error().
			Int("retcode", res.Retcode).
			Str("comment", res.Message).
			Str("instrument", in.Instrument).
			Msg("order rejected")
		return Fill{}, fmt.Errorf("execute %s: %w", in.Instrument, broker.Rejected("order", res))
	}

	metrics.OrdersTotal.WithLabelValues(in.Instrument, string(in.Side), "done").Inc()
	fill := Fill{
		Instrument: in.Instrument,
		Symbol:     sym.Name,
		Side:       in.Side,
		Volume:     in.Volume,
		Ticket:     res.Ticket,
		Price:      price,
		StopLoss:   stop,
		TakeProfit: target,
	}
	if stop != 0 && target != 0 {
		fill.RR = risk.RR(price, stop, target)
	}
	e.log.Info().Uint64("ticket", res.Ticket).Str("instrument", in.Instrument).Msg("order filled")
	return fill, nil
}
