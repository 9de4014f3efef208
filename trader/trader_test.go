package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/broker/sim"
	"github.com/rustyeddy/fxassist/execution"
	"github.com/rustyeddy/fxassist/market"
	"github.com/rustyeddy/fxassist/registry"
	"github.com/rustyeddy/fxassist/signal"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

// breakoutBars has a single swing high at 1.1050 and no swing low.
func breakoutBars() []market.Candle {
	bars := make([]market.Candle, 15)
	for i := range bars {
		bars[i] = market.Candle{Open: 1.1035, High: 1.1040, Low: 1.1030, Close: 1.1035, Time: t0.Add(time.Duration(i) * time.Minute)}
	}
	bars[10].High = 1.1050
	return bars
}

// syncJobs runs jobs inline; refuse makes it behave like a full queue.
type syncJobs struct {
	mu     sync.Mutex
	refuse bool
	runs   int
}

func (s *syncJobs) Submit(name string, fn func(ctx context.Context) error) (string, bool) {
	s.mu.Lock()
	refuse := s.refuse
	if !refuse {
		s.runs++
	}
	s.mu.Unlock()
	if refuse {
		return "", false
	}
	_ = fn(context.Background())
	return "job", true
}

func (s *syncJobs) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type fixture struct {
	paper *sim.Engine
	reg   *registry.Registry
	sig   *signal.Engine
	jobs  *syncJobs
	tr    *Trader
}

func newFixture(t *testing.T, gw broker.Gateway, paper *sim.Engine) *fixture {
	t.Helper()
	reg, err := registry.Open(registry.NewFileStore(filepath.Join(t.TempDir(), "reg.json")), zerolog.Nop())
	require.NoError(t, err)

	f := &fixture{paper: paper, reg: reg, sig: signal.NewEngine(), jobs: &syncJobs{}}
	f.tr = New(Config{Interval: 10 * time.Millisecond}, gw, reg, f.sig,
		execution.NewEngine(gw, zerolog.Nop()), f.jobs, nil, zerolog.Nop())
	return f
}

func newPaper(t *testing.T) *sim.Engine {
	t.Helper()
	e := sim.NewEngine(broker.Account{Currency: "USD", Balance: 10000}, nil)
	e.SeedBars("EURUSD", breakoutBars())
	return e
}

func quote(t *testing.T, e *sim.Engine, sym string, bid, ask float64) {
	t.Helper()
	require.NoError(t, e.UpdatePrice(market.Tick{Symbol: sym, Bid: bid, Ask: ask, Time: t0.Add(20 * time.Minute)}))
}

func TestTickSignalsWithoutTrading(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	f := newFixture(t, paper, paper)
	quote(t, paper, "EURUSD", 1.1054, 1.1056)

	frame := f.tr.Tick(context.Background())

	in, ok := frame.Instruments["EURUSD"]
	require.True(t, ok)
	require.NotNil(t, in.Signal)
	assert.Equal(t, "BUY", *in.Signal)
	require.NotNil(t, in.LastUp)
	assert.Equal(t, 1.1050, *in.LastUp)
	assert.Nil(t, in.LastDown)
	assert.Nil(t, in.Position)
	assert.False(t, in.AutoTrading)
	assert.Equal(t, 0.01, in.LotSize)
	assert.Zero(t, f.jobs.count())

	require.NotNil(t, frame.Account)
	assert.Equal(t, 10000.0, frame.Account.Balance)
	assert.True(t, paper.Selected("EURUSD"))
}

func TestTickAutoTradesOncePerCrossing(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	f := newFixture(t, paper, paper)
	require.NoError(t, f.reg.SetAutoTrading("EURUSD", true))
	quote(t, paper, "EURUSD", 1.1054, 1.1056)

	f.tr.Tick(context.Background())
	require.Equal(t, 1, f.jobs.count())

	ps, err := paper.OpenPositions(context.Background(), "EURUSD")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, market.Buy, ps[0].Side)
	assert.Equal(t, 0.01, ps[0].Volume)
	assert.Equal(t, 1.1046, ps[0].StopLoss)
	assert.Equal(t, 1.1086, ps[0].TakeProfit)

	// with the position open the signal is suppressed
	frame := f.tr.Tick(context.Background())
	in := frame.Instruments["EURUSD"]
	assert.Nil(t, in.Signal)
	require.NotNil(t, in.Position)
	assert.Equal(t, ps[0].Ticket, in.Position.Ticket)

	// closing the position does not re-arm the same crossing
	_, err = paper.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "EURUSD", Side: market.Sell, Volume: 0.01, Position: ps[0].Ticket,
	})
	require.NoError(t, err)
	frame = f.tr.Tick(context.Background())
	require.NotNil(t, frame.Instruments["EURUSD"].Signal)
	assert.Equal(t, 1, f.jobs.count())
}

func TestDroppedJobReleasesClaim(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	f := newFixture(t, paper, paper)
	require.NoError(t, f.reg.SetAutoTrading("EURUSD", true))
	quote(t, paper, "EURUSD", 1.1054, 1.1056)

	f.jobs.refuse = true
	f.tr.Tick(context.Background())
	assert.Zero(t, f.jobs.count())

	f.jobs.mu.Lock()
	f.jobs.refuse = false
	f.jobs.mu.Unlock()
	f.tr.Tick(context.Background())
	assert.Equal(t, 1, f.jobs.count())
}

// panicky blows up while fetching bars for one symbol.
type panicky struct {
	*sim.Engine
	symbol string
}

func (p panicky) RecentBars(ctx context.Context, symbol string, count int) ([]market.Candle, error) {
	if symbol == p.symbol {
		panic("bad bars")
	}
	return p.Engine.RecentBars(ctx, symbol, count)
}

func TestTickRecoversPerInstrument(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	f := newFixture(t, panicky{Engine: paper, symbol: "GBPUSD"}, paper)
	_, err := f.reg.Add("GBPUSD")
	require.NoError(t, err)
	_, err = f.reg.Add("USDCHF") // no terminal symbol
	require.NoError(t, err)
	quote(t, paper, "EURUSD", 1.1040, 1.1042)
	quote(t, paper, "GBPUSD", 1.2500, 1.2502)

	frame := f.tr.Tick(context.Background())
	assert.Contains(t, frame.Instruments, "EURUSD")
	assert.NotContains(t, frame.Instruments, "GBPUSD")
	assert.NotContains(t, frame.Instruments, "USDCHF")
}

// brokenAccount panics on every account read.
type brokenAccount struct {
	*sim.Engine
	calls *atomic.Int32
}

func (b brokenAccount) Account(ctx context.Context) (broker.Account, error) {
	b.calls.Add(1)
	panic("account feed down")
}

func TestRunSurvivesAccountPanic(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	calls := &atomic.Int32{}
	f := newFixture(t, brokenAccount{Engine: paper, calls: calls}, paper)
	quote(t, paper, "EURUSD", 1.1040, 1.1042)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.tr.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

// flakyResolve fails the nth symbol lookup with ErrSymbolNotFound.
type flakyResolve struct {
	*sim.Engine
	n     int32
	calls *atomic.Int32
}

func (f flakyResolve) ResolveSymbol(ctx context.Context, name string) (market.Symbol, error) {
	if f.calls.Add(1) == f.n {
		return market.Symbol{}, fmt.Errorf("resolve %s: %w", name, broker.ErrSymbolNotFound)
	}
	return f.Engine.ResolveSymbol(ctx, name)
}

func TestFailedOrderBeforeSubmitReleasesClaim(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	// call 1 is the loop's lookup, call 2 is the order's
	f := newFixture(t, flakyResolve{Engine: paper, n: 2, calls: &atomic.Int32{}}, paper)
	require.NoError(t, f.reg.SetAutoTrading("EURUSD", true))
	quote(t, paper, "EURUSD", 1.1054, 1.1056)

	f.tr.Tick(context.Background())
	assert.Equal(t, 1, f.jobs.count())
	ps, err := paper.OpenPositions(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Empty(t, ps)

	f.tr.Tick(context.Background())
	assert.Equal(t, 2, f.jobs.count())
	ps, err = paper.OpenPositions(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestRemovedInstrumentIsReleased(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	f := newFixture(t, paper, paper)
	quote(t, paper, "EURUSD", 1.1040, 1.1042)

	f.tr.Tick(context.Background())
	require.True(t, paper.Selected("EURUSD"))
	_, ok := f.sig.Snapshot("EURUSD")
	require.True(t, ok)

	require.NoError(t, f.reg.Remove("EURUSD"))
	frame := f.tr.Tick(context.Background())
	assert.Empty(t, frame.Instruments)
	assert.False(t, paper.Selected("EURUSD"))
	_, ok = f.sig.Snapshot("EURUSD")
	assert.False(t, ok)
}

func TestRunPublishesAndReleases(t *testing.T) {
	t.Parallel()
	paper := newPaper(t)
	quote(t, paper, "EURUSD", 1.1040, 1.1042)

	reg, err := registry.Open(registry.NewFileStore(filepath.Join(t.TempDir(), "reg.yaml")), zerolog.Nop())
	require.NoError(t, err)

	frames := make(chan Frame, 16)
	pub := PublisherFunc(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	tr := New(Config{Interval: 5 * time.Millisecond}, paper, reg, signal.NewEngine(),
		execution.NewEngine(paper, zerolog.Nop()), &syncJobs{}, pub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatal("no frame published")
		}
	}
	assert.True(t, paper.Selected("EURUSD"))

	cancel()
	require.NoError(t, <-done)
	assert.False(t, paper.Selected("EURUSD"))

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Contains(t, last.Instruments, "EURUSD")
}

func TestFrameJSON(t *testing.T) {
	t.Parallel()
	buy := "BUY"
	up := 1.105
	f := Frame{
		Account: &broker.Account{Balance: 100, Equity: 101, Profit: 1},
		Instruments: map[string]InstrumentFrame{
			"EURUSD": {Bid: 1.1, Ask: 1.1002, Signal: &buy, LastUp: &up, LotSize: 0.01, SLPips: 10, TPPips: 30},
		},
	}
	b, err := json.Marshal(f)
	require.NoError(t, err)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, map[string]any{"balance": 100.0, "equity": 101.0, "profit": 1.0}, got["account"])
	eu := got["EURUSD"]
	assert.Equal(t, "BUY", eu["signal"])
	assert.Equal(t, 1.105, eu["last_up_fractal"])
	assert.Nil(t, eu["last_down_fractal"])
	assert.Contains(t, eu, "last_down_fractal")
	assert.Nil(t, eu["position"])
	assert.Equal(t, false, eu["auto_trading"])
}
