package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/market"
)

// ErrUnknownSymbol is returned by UpdatePrice for a symbol the engine has
// no contract details for.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Engine is an in-memory paper terminal. It satisfies broker.Gateway.
type Engine struct {
	mu       sync.Mutex
	acct     broker.Account
	symbols  map[string]market.Symbol
	selected map[string]bool
	ticks    *market.TickStore
	bars     *market.BarBuilder
	trades   map[uint64]*Trade
	nextID   uint64
	onClose  []func(Trade)
}

var _ broker.Gateway = (*Engine)(nil)

// NewEngine builds a paper terminal for the given symbols.
// A nil map uses market.Symbols.
func NewEngine(acct broker.Account, symbols map[string]market.Symbol) *Engine {
	if symbols == nil {
		symbols = market.Symbols
	}
	if acct.Equity == 0 {
		acct.Equity = acct.Balance
	}
	specs := make(map[string]market.Symbol, len(symbols))
	for name, s := range symbols {
		if s.Name == "" {
			s.Name = name
		}
		if s.Point == 0 {
			s.Point = market.PointFor(s.Digits)
		}
		specs[s.Name] = s
	}
	frame, err := market.TFDuration(market.BarTimeframe)
	if err != nil {
		frame = time.Minute
	}
	return &Engine{
		acct:     acct,
		symbols:  specs,
		selected: make(map[string]bool),
		ticks:    market.NewTickStore(),
		bars:     market.NewBarBuilder(frame, 500),
		trades:   make(map[uint64]*Trade),
	}
}

// OnClose registers fn to be called, outside the engine lock, whenever a
// position is fully closed.
func (e *Engine) OnClose(fn func(Trade)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = append(e.onClose, fn)
}

// SeedBars installs bar history for symbol, e.g. from a warm-up file.
func (e *Engine) SeedBars(symbol string, bars []market.Candle) {
	e.bars.Seed(symbol, bars)
}

// Selected reports whether symbol is in the quote subscriptions.
func (e *Engine) Selected(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected[symbol]
}

// UpdatePrice stores the tick, folds it into the current bar, fires any
// stop or target it crosses and revalues the account.
func (e *Engine) UpdatePrice(p market.Tick) error {
	e.mu.Lock()
	if _, ok := e.symbols[p.Symbol]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("update price: %w: %q", ErrUnknownSymbol, p.Symbol)
	}

	e.ticks.Set(p)
	e.bars.Add(p)

	var closed []Trade
	for _, t := range e.sortedLocked(p.Symbol) {
		mark := markPrice(t.Side, p)

		reason := ""
		switch {
		case hitStopLoss(t, mark):
			reason = "StopLoss"
		case hitTakeProfit(t, mark):
			reason = "TakeProfit"
		}
		if reason == "" {
			continue
		}
		if err := e.closeTradeLocked(t, t.Volume, mark, p.Time, reason); err != nil {
			e.mu.Unlock()
			return err
		}
		closed = append(closed, *t)
	}

	err := e.revalueLocked()
	listeners := e.onClose
	e.mu.Unlock()

	notify(listeners, closed)
	return err
}

func (e *Engine) ResolveSymbol(ctx context.Context, instrument string) (market.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return market.Symbol{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.symbols))
	for n := range e.symbols {
		names = append(names, n)
	}
	sort.Strings(names)

	name, ok := broker.MatchSymbol(names, instrument)
	if !ok {
		return market.Symbol{}, fmt.Errorf("%w: %q", broker.ErrSymbolNotFound, instrument)
	}
	return e.symbols[name], nil
}

func (e *Engine) LatestTick(ctx context.Context, symbol string) (market.Tick, error) {
	if err := ctx.Err(); err != nil {
		return market.Tick{}, err
	}
	return e.ticks.Get(symbol)
}

func (e *Engine) RecentBars(ctx context.Context, symbol string, count int) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.bars.Recent(symbol, count), nil
}

// OpenPositions lists open positions for symbol, or every open position
// when symbol is empty, ordered by ticket.
func (e *Engine) OpenPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	open := e.sortedLocked(symbol)
	out := make([]broker.Position, 0, len(open))
	for _, t := range open {
		pl, err := e.floatingLocked(t)
		if err != nil {
			return nil, err
		}
		out = append(out, t.position(pl))
	}
	return out, nil
}

// SubmitOrder fills a market deal at the current quote. A request naming
// a position closes that much of it; otherwise a new position opens.
func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderResult{}, err
	}

	e.mu.Lock()
	if req.Volume <= 0 {
		e.mu.Unlock()
		return reject(broker.RetcodeInvalidVolume), nil
	}
	if !req.Side.Valid() {
		e.mu.Unlock()
		return reject(broker.RetcodeInvalid), nil
	}
	if _, ok := e.symbols[req.Symbol]; !ok {
		e.mu.Unlock()
		return reject(broker.RetcodeInvalid), nil
	}
	p, err := e.ticks.Get(req.Symbol)
	if err != nil || !p.Valid() {
		e.mu.Unlock()
		return reject(broker.RetcodeNoQuotes), nil
	}

	if req.Position != 0 {
		res, closed, err := e.reduceLocked(req, p)
		listeners := e.onClose
		e.mu.Unlock()
		if closed != nil {
			notify(listeners, []Trade{*closed})
		}
		return res, err
	}
	defer e.mu.Unlock()

	fill := p.Ask
	if req.Side == market.Sell {
		fill = p.Bid
	}
	if !validStops(req.Side, fill, req.StopLoss, req.TakeProfit) {
		return reject(broker.RetcodeInvalidStops), nil
	}

	e.nextID++
	t := &Trade{
		Ticket:     e.nextID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		EntryPrice: fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   p.Time,
		Open:       true,
	}
	e.trades[t.Ticket] = t

	if err := e.revalueLocked(); err != nil {
		return broker.OrderResult{}, err
	}
	return broker.OrderResult{
		Retcode: broker.RetcodeDone,
		Ticket:  t.Ticket,
		Price:   fill,
		Message: broker.RetcodeText(broker.RetcodeDone),
	}, nil
}

// reduceLocked closes req.Volume of the named position with an opposite
// deal. The closed trade is returned when the position is fully closed.
func (e *Engine) reduceLocked(req broker.OrderRequest, p market.Tick) (broker.OrderResult, *Trade, error) {
	t, ok := e.trades[req.Position]
	if !ok || !t.Open || t.Symbol != req.Symbol {
		return reject(broker.RetcodePositionClosed), nil, nil
	}
	if req.Side != t.Side.Opposite() {
		return reject(broker.RetcodeInvalid), nil, nil
	}

	mark := markPrice(t.Side, p)
	vol := req.Volume
	if vol > t.Volume {
		vol = t.Volume
	}
	if err := e.closeTradeLocked(t, vol, mark, p.Time, "Close"); err != nil {
		return broker.OrderResult{}, nil, err
	}
	if err := e.revalueLocked(); err != nil {
		return broker.OrderResult{}, nil, err
	}

	res := broker.OrderResult{
		Retcode: broker.RetcodeDone,
		Ticket:  t.Ticket,
		Price:   mark,
		Message: broker.RetcodeText(broker.RetcodeDone),
	}
	if t.Open {
		return res, nil, nil
	}
	cp := *t
	return res, &cp, nil
}

// ModifyPosition replaces the stop and target of an open position. Both
// must sit on the correct side of the current mark.
func (e *Engine) ModifyPosition(ctx context.Context, req broker.ModifyRequest) (broker.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[req.Position]
	if !ok || !t.Open {
		return reject(broker.RetcodePositionClosed), nil
	}
	p, err := e.ticks.Get(t.Symbol)
	if err != nil || !p.Valid() {
		return reject(broker.RetcodeNoQuotes), nil
	}
	if !validStops(t.Side, markPrice(t.Side, p), req.StopLoss, req.TakeProfit) {
		return reject(broker.RetcodeInvalidStops), nil
	}

	t.StopLoss = req.StopLoss
	t.TakeProfit = req.TakeProfit
	return broker.OrderResult{
		Retcode: broker.RetcodeDone,
		Ticket:  t.Ticket,
		Message: broker.RetcodeText(broker.RetcodeDone),
	}, nil
}

func (e *Engine) Account(ctx context.Context) (broker.Account, error) {
	if err := ctx.Err(); err != nil {
		return broker.Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.revalueLocked(); err != nil {
		return broker.Account{}, err
	}
	return e.acct, nil
}

func (e *Engine) SelectSymbol(ctx context.Context, symbol string, enable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.symbols[symbol]; !ok {
		return fmt.Errorf("%w: %q", broker.ErrSymbolNotFound, symbol)
	}
	if enable {
		e.selected[symbol] = true
	} else {
		delete(e.selected, symbol)
	}
	return nil
}

// sortedLocked returns the open trades for symbol (all symbols when empty)
// in ticket order.
func (e *Engine) sortedLocked(symbol string) []*Trade {
	out := make([]*Trade, 0, len(e.trades))
	for _, t := range e.trades {
		if t.Open && (symbol == "" || t.Symbol == symbol) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

func (e *Engine) rateLocked(sym market.Symbol) (float64, error) {
	p, _ := e.ticks.Get(sym.Name)
	return market.QuoteToAccountRate(sym, e.acct.Currency, p.Mid())
}

func (e *Engine) floatingLocked(t *Trade) (float64, error) {
	p, err := e.ticks.Get(t.Symbol)
	if err != nil {
		return 0, nil
	}
	sym := e.symbols[t.Symbol]
	rate, err := e.rateLocked(sym)
	if err != nil {
		return 0, err
	}
	return UnrealizedPL(*t, t.Volume, markPrice(t.Side, p), sym.ContractSize, rate), nil
}

// closeTradeLocked realizes vol lots of t at closePrice. The trade closes
// once its remaining volume is spent.
func (e *Engine) closeTradeLocked(t *Trade, vol, closePrice float64, closeTime time.Time, reason string) error {
	sym := e.symbols[t.Symbol]
	rate, err := e.rateLocked(sym)
	if err != nil {
		return err
	}

	pl := UnrealizedPL(*t, vol, closePrice, sym.ContractSize, rate)
	e.acct.Balance += pl
	t.RealizedPL += pl
	t.Volume -= vol

	if t.Volume > 1e-9 {
		return nil
	}
	t.Volume = 0
	t.ClosePrice = closePrice
	t.CloseTime = closeTime
	t.Reason = reason
	t.Open = false
	return nil
}

func (e *Engine) revalueLocked() error {
	var floating float64
	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		pl, err := e.floatingLocked(t)
		if err != nil {
			return err
		}
		floating += pl
	}
	e.acct.Profit = floating
	e.acct.Equity = e.acct.Balance + floating
	return nil
}

func reject(code int) broker.OrderResult {
	return broker.OrderResult{Retcode: code, Message: broker.RetcodeText(code)}
}

func notify(listeners []func(Trade), closed []Trade) {
	for _, t := range closed {
		for _, fn := range listeners {
			fn(t)
		}
	}
}
