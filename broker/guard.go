package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/fxassist/market"
)

// DefaultTimeout bounds a single terminal round trip.
const DefaultTimeout = 5 * time.Second

// Guard wraps a Gateway so every call runs under a timeout and every
// failure maps onto this package's error taxonomy: domain errors pass
// through, anything else becomes ErrGatewayUnavailable.
type Guard struct {
	gw      Gateway
	timeout time.Duration
}

var _ Gateway = (*Guard)(nil)

func NewGuard(gw Gateway, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{gw: gw, timeout: timeout}
}

func (g *Guard) ResolveSymbol(ctx context.Context, instrument string) (market.Symbol, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	s, err := g.gw.ResolveSymbol(ctx, instrument)
	return s, mapErr("resolve symbol "+instrument, err)
}

func (g *Guard) LatestTick(ctx context.Context, symbol string) (market.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	t, err := g.gw.LatestTick(ctx, symbol)
	if err != nil {
		return t, mapErr("latest tick "+symbol, err)
	}
	if !t.Valid() {
		return t, fmt.Errorf("latest tick %s: %w", symbol, ErrQuoteUnavailable)
	}
	return t, nil
}

func (g *Guard) RecentBars(ctx context.Context, symbol string, count int) ([]market.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	bars, err := g.gw.RecentBars(ctx, symbol, count)
	return bars, mapErr("recent bars "+symbol, err)
}

func (g *Guard) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ps, err := g.gw.OpenPositions(ctx, symbol)
	return ps, mapErr("open positions "+symbol, err)
}

func (g *Guard) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.gw.SubmitOrder(ctx, req)
	return res, mapErr("submit order "+req.Symbol, err)
}

func (g *Guard) ModifyPosition(ctx context.Context, req ModifyRequest) (OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.gw.ModifyPosition(ctx, req)
	return res, mapErr("modify position "+req.Symbol, err)
}

func (g *Guard) Account(ctx context.Context) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	a, err := g.gw.Account(ctx)
	return a, mapErr("account", err)
}

func (g *Guard) SelectSymbol(ctx context.Context, symbol string, enable bool) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return mapErr("select symbol "+symbol, g.gw.SelectSymbol(ctx, symbol, enable))
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrSymbolNotFound),
		errors.Is(err, ErrQuoteUnavailable),
		errors.Is(err, ErrGatewayRejected),
		errors.Is(err, ErrGatewayUnavailable):
		return err
	case errors.Is(err, market.ErrNoTick):
		return fmt.Errorf("%s: %w", op, ErrQuoteUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
}
