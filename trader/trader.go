// Package trader runs the polling loop: for every tracked instrument it
// reads the quote and recent bars, updates the signal engine, dispatches
// auto-trades and publishes a frame.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/execution"
	"github.com/rustyeddy/fxassist/metrics"
	"github.com/rustyeddy/fxassist/position"
	"github.com/rustyeddy/fxassist/registry"
	"github.com/rustyeddy/fxassist/signal"
)

const (
	DefaultInterval = time.Second
	DefaultBars     = 100
)

// Dispatcher queues fire-and-forget work. worker.Pool implements it.
type Dispatcher interface {
	Submit(name string, fn func(ctx context.Context) error) (jobID string, ok bool)
}

type Config struct {
	Interval time.Duration
	Bars     int // M1 bars fetched per instrument per tick
}

type Trader struct {
	cfg  Config
	gw   broker.Gateway
	reg  *registry.Registry
	sig  *signal.Engine
	exec *execution.Engine
	jobs Dispatcher
	pub  Publisher
	log  zerolog.Logger

	mu         sync.Mutex
	subscribed map[string]string // instrument -> terminal symbol

	last atomic.Pointer[Frame]
}

func New(cfg Config, gw broker.Gateway, reg *registry.Registry, sig *signal.Engine,
	exec *execution.Engine, jobs Dispatcher, pub Publisher, log zerolog.Logger) *Trader {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Bars <= 0 {
		cfg.Bars = DefaultBars
	}
	if pub == nil {
		pub = PublisherFunc(func(Frame) {})
	}
	return &Trader{
		cfg:        cfg,
		gw:         gw,
		reg:        reg,
		sig:        sig,
		exec:       exec,
		jobs:       jobs,
		pub:        pub,
		log:        log.With().Str("component", "trader").Logger(),
		subscribed: make(map[string]string),
	}
}

// Run ticks until ctx is done, then releases every symbol subscription it
// made.
func (t *Trader) Run(ctx context.Context) error {
	t.log.Info().Dur("interval", t.cfg.Interval).Msg("polling loop started")
	defer t.releaseAll()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			t.Tick(ctx)
		}
		select {
		case <-ctx.Done():
			t.log.Info().Msg("polling loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Last returns the most recent frame, if any.
func (t *Trader) Last() (Frame, bool) {
	f := t.last.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// Tick runs one pass over the registry and publishes the frame. A pass
// cut short by ctx is returned but not published. A panic anywhere in the
// pass is logged and counted, and the partial frame is returned.
func (t *Trader) Tick(ctx context.Context) (frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopFaultsTotal.WithLabelValues("", "panic").Inc()
			t.log.Error().Err(fmt.Errorf("panic: %v", r)).Msg("tick panicked")
		}
	}()

	settings := t.reg.All()
	t.dropRemoved(ctx, settings)

	frame = Frame{
		Time:        time.Now().UTC(),
		Instruments: make(map[string]InstrumentFrame, len(settings)),
	}

	if acct, err := t.gw.Account(ctx); err != nil {
		t.log.Warn().Err(err).Msg("account unavailable")
	} else {
		frame.Account = &acct
		metrics.Equity.Set(acct.Equity)
	}

	for name, s := range settings {
		if ctx.Err() != nil {
			break
		}
		if in, ok := t.safeProcess(ctx, name, s); ok {
			frame.Instruments[name] = in
		}
	}

	if ctx.Err() != nil {
		return frame
	}
	t.last.Store(&frame)
	t.pub.Publish(frame)
	return frame
}

// safeProcess keeps one instrument's panic from taking down the loop.
func (t *Trader) safeProcess(ctx context.Context, name string, s registry.Settings) (in InstrumentFrame, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopFaultsTotal.WithLabelValues(name, "panic").Inc()
			t.log.Error().Str("instrument", name).Err(fmt.Errorf("panic: %v", r)).Msg("instrument processing panicked")
			ok = false
		}
	}()
	return t.process(ctx, name, s)
}

func (t *Trader) process(ctx context.Context, name string, s registry.Settings) (InstrumentFrame, bool) {
	log := t.log.With().Str("instrument", name).Logger()

	sym, err := t.gw.ResolveSymbol(ctx, name)
	if err != nil {
		t.fault(log, name, "symbol", err)
		return InstrumentFrame{}, false
	}
	t.subscribe(ctx, name, sym.Name)

	tick, err := t.gw.LatestTick(ctx, sym.Name)
	if err != nil {
		t.fault(log, name, "quote", err)
		return InstrumentFrame{}, false
	}
	metrics.TicksTotal.WithLabelValues(name).Inc()

	bars, err := t.gw.RecentBars(ctx, sym.Name, t.cfg.Bars)
	if err != nil {
		t.fault(log, name, "bars", err)
		return InstrumentFrame{}, false
	}
	open, err := t.gw.OpenPositions(ctx, sym.Name)
	if err != nil {
		t.fault(log, name, "positions", err)
		return InstrumentFrame{}, false
	}
	pos, hasPos := position.Earliest(open)

	ev := t.sig.Update(name, bars, tick.Mid(), hasPos)

	in := InstrumentFrame{
		Bid:         tick.Bid,
		Ask:         tick.Ask,
		LastUp:      ev.Up,
		LastDown:    ev.Down,
		AutoTrading: s.AutoTrading,
		LotSize:     s.LotSize,
		SLPips:      s.SLPips,
		TPPips:      s.TPPips,
	}
	if hasPos {
		in.Position = &pos
	}
	if ev.Signal == signal.None {
		return in, true
	}

	sigStr := string(ev.Signal)
	in.Signal = &sigStr
	metrics.SignalsTotal.WithLabelValues(name, sigStr).Inc()
	log.Debug().Str("signal", sigStr).Float64("price", tick.Mid()).Msg("signal")

	if s.AutoTrading {
		t.dispatch(log, name, ev, s)
	}
	return in, true
}

// dispatch queues one order per claimed crossing.
func (t *Trader) dispatch(log zerolog.Logger, name string, ev signal.Evaluation, s registry.Settings) {
	pivot, ok := ev.Trigger()
	if !ok || !t.sig.Claim(name, ev.Signal, pivot) {
		return
	}
	side, _ := ev.Signal.Side()
	intent := execution.Intent{
		Instrument: name,
		Side:       side,
		Volume:     s.LotSize,
		SLPips:     s.SLPips,
		TPPips:     s.TPPips,
		Comment:    "fxassist " + string(ev.Signal),
	}

	jobID, queued := t.jobs.Submit("order "+name, func(ctx context.Context) error {
		_, err := t.exec.Execute(ctx, intent)
		if errors.Is(err, broker.ErrSymbolNotFound) || errors.Is(err, broker.ErrQuoteUnavailable) {
			// nothing reached the terminal
			t.sig.Release(name, ev.Signal, pivot)
		}
		return err
	})
	if !queued {
		t.sig.Release(name, ev.Signal, pivot)
		return
	}
	log.Info().
		Str("signal", string(ev.Signal)).
		Float64("pivot", pivot).
		Str("job_id", jobID).
		Msg("auto-trade dispatched")
}

func (t *Trader) fault(log zerolog.Logger, name, kind string, err error) {
	metrics.LoopFaultsTotal.WithLabelValues(name, kind).Inc()
	ev := log.Warn()
	if errors.Is(err, broker.ErrQuoteUnavailable) {
		ev = log.Debug()
	}
	ev.Err(err).Str("stage", kind).Msg("instrument skipped this tick")
}

func (t *Trader) subscribe(ctx context.Context, instrument, symbol string) {
	t.mu.Lock()
	prev, ok := t.subscribed[instrument]
	t.mu.Unlock()
	if ok && prev == symbol {
		return
	}
	if err := t.gw.SelectSymbol(ctx, symbol, true); err != nil {
		t.log.Warn().Err(err).Str("symbol", symbol).Msg("symbol select failed")
		return
	}
	t.mu.Lock()
	t.subscribed[instrument] = symbol
	t.mu.Unlock()
}

// dropRemoved forgets and unsubscribes instruments no longer tracked.
func (t *Trader) dropRemoved(ctx context.Context, tracked map[string]registry.Settings) {
	t.mu.Lock()
	var gone map[string]string
	for in, sym := range t.subscribed {
		if _, ok := tracked[in]; !ok {
			if gone == nil {
				gone = map[string]string{}
			}
			gone[in] = sym
			delete(t.subscribed, in)
		}
	}
	t.mu.Unlock()

	for in, sym := range gone {
		t.sig.Forget(in)
		if err := t.gw.SelectSymbol(ctx, sym, false); err != nil {
			t.log.Warn().Err(err).Str("symbol", sym).Msg("symbol release failed")
		}
	}
}

func (t *Trader) releaseAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.mu.Lock()
	subs := t.subscribed
	t.subscribed = make(map[string]string)
	t.mu.Unlock()

	for _, sym := range subs {
		if err := t.gw.SelectSymbol(ctx, sym, false); err != nil {
			t.log.Warn().Err(err).Str("symbol", sym).Msg("symbol release failed")
		}
	}
	t.log.Info().Int("symbols", len(subs)).Msg("subscriptions released")
}
