// Package replay feeds recorded ticks from a CSV file into the paper
// gateway, optionally paced in real time.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/broker/sim"
	"github.com/rustyeddy/fxassist/market"
)

// Options controls how replay behaves.
type Options struct {
	// Speed scales the recorded gaps between rows: 1 is real time, 60 is a
	// minute per second. 0 replays as fast as possible.
	Speed float64
	// Loop restarts from the top until ctx is done. Later passes are shifted
	// forward in time so bars keep growing.
	Loop bool
	// TickThenEvent applies the row's price before its event, so OPEN fills
	// and CLOSE_ALL exits at that row's quote.
	TickThenEvent bool
}

// Stats summarises a finished replay.
type Stats struct {
	Rows   int
	Events int
	Passes int
	Last   time.Time
}

// CSV replays ticks from a CSV file and applies optional scripted events.
//
// CSV formats supported:
//
//  1. Basic ticks:
//     time,instrument,bid,ask
//
//  2. Ticks + events:
//     time,instrument,bid,ask,event,arg1,arg2,arg3,arg4,arg5
//
// Events (case-insensitive):
//
//	OPEN:       arg1=instrument arg2=side arg3=volume
//	OPEN_SLTP:  arg1=instrument arg2=side arg3=volume arg4=stopLoss arg5=takeProfit
//	CLOSE_ALL:  arg1=instrument (optional, all when empty)
//
// time is RFC 3339 or unix seconds.
func CSV(ctx context.Context, csvPath string, engine *sim.Engine, opts Options, log zerolog.Logger) (Stats, error) {
	p := &player{engine: engine, opts: opts, log: log.With().Str("component", "replay").Logger()}

	for {
		if err := p.pass(ctx, csvPath); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return p.stats, nil
			}
			return p.stats, err
		}
		p.stats.Passes++
		p.log.Info().Int("rows", p.stats.Rows).Int("pass", p.stats.Passes).Msg("replay pass finished")
		if !opts.Loop || ctx.Err() != nil {
			return p.stats, nil
		}
		// restart one minute after the last recorded tick
		p.offset = p.stats.Last.Add(time.Minute).Sub(p.first)
		p.prev = time.Time{}
	}
}

type player struct {
	engine *sim.Engine
	opts   Options
	log    zerolog.Logger

	first  time.Time     // first recorded time of the file
	offset time.Duration // shift applied to the current pass
	prev   time.Time     // previous row time in this pass
	stats  Stats
}

func (p *player) pass(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	line := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}
		if err := p.row(ctx, row); err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
	}
}

func (p *player) row(ctx context.Context, row []string) error {
	// Minimum tick columns: time,instrument,bid,ask
	if len(row) < 4 {
		return fmt.Errorf("bad row (need at least 4 cols time,instrument,bid,ask): %v", row)
	}

	t, err := parseTime(strings.TrimSpace(row[0]))
	if err != nil {
		return err
	}
	if p.first.IsZero() {
		p.first = t
	}
	if err := p.wait(ctx, t); err != nil {
		return err
	}

	bid, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return fmt.Errorf("bad ask %q: %w", row[3], err)
	}

	tick := market.Tick{
		Symbol: strings.ToUpper(strings.TrimSpace(row[1])),
		Time:   t.Add(p.offset),
		Bid:    bid,
		Ask:    ask,
	}

	// Optional event columns: event,arg1,arg2,...
	event := ""
	var args []string
	if len(row) >= 5 {
		event = strings.TrimSpace(row[4])
	}
	if len(row) >= 6 {
		args = row[5:]
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}

	p.stats.Rows++
	p.stats.Last = tick.Time

	if event == "" {
		return p.engine.UpdatePrice(tick)
	}
	p.stats.Events++
	if p.opts.TickThenEvent {
		if err := p.engine.UpdatePrice(tick); err != nil {
			return err
		}
		return p.event(ctx, event, args)
	}
	// Event first, then tick (rare, but supported)
	if err := p.event(ctx, event, args); err != nil {
		return err
	}
	return p.engine.UpdatePrice(tick)
}

// wait sleeps for the scaled gap since the previous row.
func (p *player) wait(ctx context.Context, t time.Time) error {
	prev := p.prev
	p.prev = t
	if p.opts.Speed <= 0 || prev.IsZero() || !t.After(prev) {
		return ctx.Err()
	}
	d := time.Duration(float64(t.Sub(prev)) / p.opts.Speed)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *player) event(ctx context.Context, event string, args []string) error {
	switch strings.ToUpper(event) {
	case "OPEN":
		// OPEN,EURUSD,BUY,0.10
		req, err := parseOpenArgs(args, 3)
		if err != nil {
			return fmt.Errorf("OPEN: %w", err)
		}
		return p.submit(ctx, req)

	case "OPEN_SLTP":
		// OPEN_SLTP,EURUSD,BUY,0.10,1.0980,1.1050
		req, err := parseOpenArgs(args, 5)
		if err != nil {
			return fmt.Errorf("OPEN_SLTP: %w", err)
		}
		if req.StopLoss, err = strconv.ParseFloat(args[3], 64); err != nil {
			return fmt.Errorf("OPEN_SLTP: bad stopLoss %q: %w", args[3], err)
		}
		if req.TakeProfit, err = strconv.ParseFloat(args[4], 64); err != nil {
			return fmt.Errorf("OPEN_SLTP: bad takeProfit %q: %w", args[4], err)
		}
		return p.submit(ctx, req)

	case "CLOSE_ALL":
		// CLOSE_ALL[,EURUSD]
		symbol := ""
		if len(args) >= 1 {
			symbol = strings.ToUpper(args[0])
		}
		return p.closeAll(ctx, symbol)

	default:
		return fmt.Errorf("unknown event %q", event)
	}
}

func (p *player) submit(ctx context.Context, req broker.OrderRequest) error {
	req.Comment = "replay"
	res, err := p.engine.SubmitOrder(ctx, req)
	if err != nil {
		return err
	}
	if !res.Done() {
		return broker.Rejected("replay order", res)
	}
	p.log.Debug().Str("symbol", req.Symbol).Uint64("ticket", res.Ticket).Msg("scripted order filled")
	return nil
}

func (p *player) closeAll(ctx context.Context, symbol string) error {
	open, err := p.engine.OpenPositions(ctx, symbol)
	if err != nil {
		return err
	}
	for _, pos := range open {
		res, err := p.engine.SubmitOrder(ctx, broker.OrderRequest{
			Symbol:   pos.Symbol,
			Side:     pos.Side.Opposite(),
			Volume:   pos.Volume,
			Position: pos.Ticket,
			Comment:  "replay close",
		})
		if err != nil {
			return err
		}
		if !res.Done() {
			return broker.Rejected("replay close", res)
		}
	}
	return nil
}

func parseOpenArgs(args []string, need int) (broker.OrderRequest, error) {
	if len(args) < need {
		return broker.OrderRequest{}, fmt.Errorf("need %d args, got %d", need, len(args))
	}
	if args[0] == "" {
		return broker.OrderRequest{}, fmt.Errorf("instrument is empty")
	}
	side, err := market.ParseSide(args[1])
	if err != nil {
		return broker.OrderRequest{}, err
	}
	vol, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return broker.OrderRequest{}, fmt.Errorf("bad volume %q: %w", args[2], err)
	}
	if vol <= 0 {
		return broker.OrderRequest{}, fmt.Errorf("volume must be positive")
	}
	return broker.OrderRequest{Symbol: strings.ToUpper(args[0]), Side: side, Volume: vol}, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return time.Unix(sec, 0).UTC(), nil
}
