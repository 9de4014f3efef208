// Package position adjusts and closes open positions on operator command:
// move the stop to breakeven, trail it, or flatten the instrument.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/market"
	"github.com/rustyeddy/fxassist/metrics"
	"github.com/rustyeddy/fxassist/risk"
)

var (
	ErrNoOpenPosition = errors.New("no open position")
	ErrInvalidGuard   = errors.New("price too close to the new stop")
	ErrNoStop         = fmt.Errorf("%w: position has no stop loss", ErrInvalidGuard)
)

// Outcome is the result of a command the terminal was reachable for.
// Kind is nil when OK, otherwise one of ErrNoOpenPosition, ErrInvalidGuard,
// ErrNoStop, broker.ErrSymbolNotFound, broker.ErrQuoteUnavailable or
// broker.ErrGatewayRejected.
type Outcome struct {
	OK     bool
	Reason string
	Kind   error
}

func ok(reason string) Outcome { return Outcome{OK: true, Reason: reason} }

func fail(kind error, reason string) Outcome {
	return Outcome{Kind: kind, Reason: reason}
}

// Earliest selects the position with the lowest ticket. Single-position
// commands act on it.
func Earliest(ps []broker.Position) (broker.Position, bool) {
	if len(ps) == 0 {
		return broker.Position{}, false
	}
	best := ps[0]
	for _, p := range ps[1:] {
		if p.Ticket < best.Ticket {
			best = p
		}
	}
	return best, true
}

// Manager runs position commands. Commands for one instrument are
// serialized; different instruments proceed in parallel.
type Manager struct {
	gw  broker.Gateway
	log zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(gw broker.Gateway, log zerolog.Logger) *Manager {
	return &Manager{
		gw:    gw,
		log:   log.With().Str("component", "position").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lock(instrument string) func() {
	m.mu.Lock()
	l, ok := m.locks[instrument]
	if !ok {
		l = &sync.Mutex{}
		m.locks[instrument] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Breakeven moves the stop of the selected position to its open price
// plus extraPips in the position's favour.
func (m *Manager) Breakeven(ctx context.Context, instrument string, extraPips float64) (Outcome, error) {
	out, err := m.adjust(ctx, "breakeven", instrument, func(p broker.Position, sym market.Symbol) (float64, Outcome, bool) {
		return p.OpenPrice + p.Side.Sign()*risk.PipDistance(extraPips, sym), Outcome{}, true
	})
	if out.OK {
		out.Reason = fmt.Sprintf("Position moved to breakeven +%g pips", extraPips)
	}
	return out, err
}

// Trail moves an existing stop pipsToAdd pips in the position's favour.
func (m *Manager) Trail(ctx context.Context, instrument string, pipsToAdd float64) (Outcome, error) {
	out, err := m.adjust(ctx, "trail", instrument, func(p broker.Position, sym market.Symbol) (float64, Outcome, bool) {
		if p.StopLoss == 0 {
			return 0, fail(ErrNoStop, "Position has no stop loss"), false
		}
		return p.StopLoss + p.Side.Sign()*risk.PipDistance(pipsToAdd, sym), Outcome{}, true
	})
	if out.OK {
		out.Reason = fmt.Sprintf("Stop moved +%g pips", pipsToAdd)
	}
	return out, err
}

// stopFunc computes the new stop for p, or an outcome to stop with.
type stopFunc func(p broker.Position, sym market.Symbol) (float64, Outcome, bool)

func (m *Manager) adjust(ctx context.Context, action, instrument string, next stopFunc) (out Outcome, err error) {
	defer func() { m.record(action, out, err) }()

	unlock := m.lock(instrument)
	defer unlock()

	sym, err := m.gw.ResolveSymbol(ctx, instrument)
	if err != nil {
		return classify(err, "Symbol not found")
	}
	ps, err := m.gw.OpenPositions(ctx, sym.Name)
	if err != nil {
		return classify(err, "")
	}
	p, found := Earliest(ps)
	if !found {
		return fail(ErrNoOpenPosition, "No open position"), nil
	}

	stop, o, proceed := next(p, sym)
	if !proceed {
		return o, nil
	}
	stop = risk.Round(stop, sym.Digits)

	tick, err := m.gw.LatestTick(ctx, sym.Name)
	if err != nil {
		return classify(err, "No quote")
	}
	if !guard(p.Side, tick, stop) {
		m.log.Warn().
			Str("instrument", instrument).
			Uint64("ticket", p.Ticket).
			Float64("stop", stop).
			Float64("bid", tick.Bid).
			Float64("ask", tick.Ask).
			Msgf("%s refused: price too close", action)
		return fail(ErrInvalidGuard, "Price too close to the new stop"), nil
	}

	res, err := m.gw.ModifyPosition(ctx, broker.ModifyRequest{
		Symbol:     sym.Name,
		Position:   p.Ticket,
		StopLoss:   stop,
		TakeProfit: p.TakeProfit,
	})
	if err != nil {
		return classify(err, "")
	}
	if !res.Done() {
		m.log.Error().
			Str("instrument", instrument).
			Uint64("ticket", p.Ticket).
			Int("retcode", res.Retcode).
			Str("comment", res.Message).
			Msgf("%s failed", action)
		return fail(broker.Rejected("modify", res), "Modify failed: "+message(res)), nil
	}

	m.log.Info().
		Str("instrument", instrument).
		Uint64("ticket", p.Ticket).
		Float64("stop", stop).
		Float64("stop_pips", risk.Pips(stop-p.OpenPrice, sym)).
		Msgf("%s applied", action)
	return ok(""), nil
}

// guard reports whether the market is still beyond the proposed stop: a
// long's bid above it, a short's ask below it.
func guard(side market.Side, tick market.Tick, stop float64) bool {
	if side == market.Buy {
		return tick.Bid > stop
	}
	return tick.Ask < stop
}

// Flatten closes every open position on the instrument with an opposite
// deal of equal volume. It stops at the first failure; positions closed
// before it stay closed.
func (m *Manager) Flatten(ctx context.Context, instrument string) (out Outcome, err error) {
	defer func() { m.record("flatten", out, err) }()

	unlock := m.lock(instrument)
	defer unlock()

	sym, err := m.gw.ResolveSymbol(ctx, instrument)
	if err != nil {
		return classify(err, "Symbol not found")
	}
	ps, err := m.gw.OpenPositions(ctx, sym.Name)
	if err != nil {
		return classify(err, "")
	}
	if len(ps) == 0 {
		return ok(fmt.Sprintf("No positions for %s", instrument)), nil
	}

	m.log.Info().Str("instrument", instrument).Int("count", len(ps)).Msg("flattening")
	for i, p := range ps {
		tick, err := m.gw.LatestTick(ctx, sym.Name)
		if err != nil {
			return classify(err, fmt.Sprintf("No quote after closing %d of %d", i, len(ps)))
		}
		side := p.Side.Opposite()
		price := tick.Bid
		if side == market.Buy {
			price = tick.Ask
		}

		res, err := m.gw.SubmitOrder(ctx, broker.OrderRequest{
			Symbol:    sym.Name,
			Side:      side,
			Volume:    p.Volume,
			Price:     price,
			Position:  p.Ticket,
			Deviation: broker.DefaultDeviation,
			Magic:     broker.DefaultMagic,
			Comment:   "flatten",
		})
		if err != nil {
			return classify(err, "")
		}
		if !res.Done() {
			m.log.Error().
				Str("instrument", instrument).
				Uint64("ticket", p.Ticket).
				Int("retcode", res.Retcode).
				Str("comment", res.Message).
				Msg("close failed")
			return fail(broker.Rejected("close", res),
				fmt.Sprintf("Close of #%d failed: %s", p.Ticket, message(res))), nil
		}
	}

	m.log.Info().Str("instrument", instrument).Msg("all positions closed")
	return ok(fmt.Sprintf("Positions for %s closed", instrument)), nil
}

// classify turns a gateway error into an outcome, or passes it through
// when the terminal could not be reached.
func classify(err error, reason string) (Outcome, error) {
	switch {
	case errors.Is(err, broker.ErrSymbolNotFound),
		errors.Is(err, broker.ErrQuoteUnavailable),
		errors.Is(err, broker.ErrGatewayRejected):
		if reason == "" {
			reason = err.Error()
		}
		return fail(err, reason), nil
	}
	return Outcome{}, err
}

func message(res broker.OrderResult) string {
	if res.Message != "" {
		return res.Message
	}
	return broker.RetcodeText(res.Retcode)
}

func (m *Manager) record(action string, out Outcome, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case !out.OK:
		result = "rejected"
	}
	metrics.PositionActionsTotal.WithLabelValues(action, result).Inc()
}
