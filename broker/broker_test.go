package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/fxassist/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSymbol(t *testing.T) {
	t.Parallel()

	names := []string{"EURUSD.m", "GBPUSD", "EURUSD", "USDJPY.pro"}

	tests := []struct {
		name       string
		instrument string
		want       string
		ok         bool
	}{
		{"exact beats prefix", "EURUSD", "EURUSD", true},
		{"prefix", "USDJPY", "USDJPY.pro", true},
		{"missing", "XAUUSD", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := MatchSymbol(names, tt.instrument)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRejectedError(t *testing.T) {
	t.Parallel()

	err := Rejected("order", OrderResult{Retcode: RetcodeInvalidStops})
	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.Contains(t, err.Error(), "invalid stops")

	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, RetcodeInvalidStops, rej.Retcode)

	err = Rejected("order", OrderResult{Retcode: 1, Message: "broker says no"})
	assert.Contains(t, err.Error(), "broker says no")
	assert.Equal(t, "unknown retcode", RetcodeText(1))
	assert.True(t, OrderResult{Retcode: RetcodeDone}.Done())
}

// slowGateway blocks until the context is done, or fails with err.
type slowGateway struct {
	Gateway
	err  error
	tick market.Tick
	raw  bool // return tick as-is
}

func (s slowGateway) LatestTick(ctx context.Context, symbol string) (market.Tick, error) {
	if s.err != nil {
		return market.Tick{}, s.err
	}
	if s.raw || s.tick.Valid() {
		return s.tick, nil
	}
	<-ctx.Done()
	return market.Tick{}, ctx.Err()
}

func (s slowGateway) ResolveSymbol(ctx context.Context, instrument string) (market.Symbol, error) {
	return market.Symbol{}, s.err
}

func TestGuardTimeoutMapsToUnavailable(t *testing.T) {
	t.Parallel()

	g := NewGuard(slowGateway{}, 10*time.Millisecond)
	_, err := g.LatestTick(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "EURUSD")
}

func TestGuardPassesDomainErrors(t *testing.T) {
	t.Parallel()

	g := NewGuard(slowGateway{err: ErrSymbolNotFound}, time.Second)
	_, err := g.ResolveSymbol(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
	assert.NotErrorIs(t, err, ErrGatewayUnavailable)

	g = NewGuard(slowGateway{err: market.ErrNoTick}, time.Second)
	_, err = g.LatestTick(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestGuardRejectsEmptyTick(t *testing.T) {
	t.Parallel()

	g := NewGuard(slowGateway{tick: market.Tick{Bid: 1.1, Ask: 1.1002}}, time.Second)
	tk, err := g.LatestTick(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.InDelta(t, 1.1001, tk.Mid(), 1e-9)

	g = NewGuard(slowGateway{tick: market.Tick{Bid: 1.1}, raw: true}, time.Second)
	_, err = g.LatestTick(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
}
