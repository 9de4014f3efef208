package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/fxassist/api"
	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/broker/bridge"
	"github.com/rustyeddy/fxassist/broker/sim"
	"github.com/rustyeddy/fxassist/config"
	"github.com/rustyeddy/fxassist/execution"
	"github.com/rustyeddy/fxassist/internal/logging"
	"github.com/rustyeddy/fxassist/position"
	"github.com/rustyeddy/fxassist/registry"
	"github.com/rustyeddy/fxassist/replay"
	fxsignal "github.com/rustyeddy/fxassist/signal"
	"github.com/rustyeddy/fxassist/stream"
	"github.com/rustyeddy/fxassist/trader"
	"github.com/rustyeddy/fxassist/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the polling loop and the dashboard API",
	Long: `Run the trading assistant until interrupted.

Every loop interval each tracked instrument is polled, fractals are
recomputed, breakout signals are published to /ws/market_data and, for
instruments with auto trading enabled, the breakout order is placed.

Example:
  fxassist run -c fxassist.yaml
  fxassist run --log-level debug`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

// app is the assembled process: gateway, registry, loop, workers and HTTP.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	paper *sim.Engine // nil with the bridge gateway
	store registry.Store
	reg   *registry.Registry
	pool  *worker.Pool
	hub   *stream.Hub
	loop  *trader.Trader
	http  http.Handler
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	timeout, err := cfg.Gateway.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("gateway timeout: %w", err)
	}
	interval, err := cfg.Loop.IntervalDuration()
	if err != nil {
		return nil, fmt.Errorf("loop interval: %w", err)
	}

	var raw broker.Gateway
	switch cfg.Gateway.Kind {
	case "bridge":
		_ = godotenv.Load() // best-effort, may carry bridge.TokenEnv
		raw = bridge.New(cfg.Gateway.URL, cfg.Gateway.Token, timeout)
		log.Info().Str("url", cfg.Gateway.URL).Msg("using bridge gateway")
	default:
		a.paper = sim.NewEngine(broker.Account{
			Currency: cfg.Paper.Currency,
			Balance:  cfg.Paper.Balance,
		}, nil)
		a.paper.OnClose(func(t sim.Trade) {
			log.Info().
				Uint64("ticket", t.Ticket).
				Str("symbol", t.Symbol).
				Str("reason", t.Reason).
				Float64("close", t.ClosePrice).
				Float64("pl", t.RealizedPL).
				Msg("paper trade closed")
		})
		raw = a.paper
		log.Info().Float64("balance", cfg.Paper.Balance).Str("currency", cfg.Paper.Currency).Msg("using paper gateway")
	}
	gw := broker.NewGuard(raw, timeout)

	if a.store, err = registry.OpenStore(cfg.Registry.Store, cfg.Registry.Path); err != nil {
		return nil, err
	}
	if a.reg, err = registry.Open(a.store, log); err != nil {
		closeStore(a.store)
		return nil, err
	}

	exec := execution.NewEngine(gw, log)
	a.pool = worker.New(cfg.Loop.Workers, cfg.Loop.Queue, log)
	a.hub = stream.NewHub(log)
	a.loop = trader.New(trader.Config{Interval: interval, Bars: cfg.Loop.Bars},
		gw, a.reg, fxsignal.NewEngine(), exec, a.pool, a.hub, log)
	a.http = api.NewHandler(a.reg, gw, exec, position.NewManager(gw, log), a.hub,
		api.LoopStatus{Last: a.loop.Last, Pending: a.pool.Pending}, log)
	return a, nil
}

// run blocks until ctx is done or a component fails.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.pool.Run(ctx) })
	g.Go(func() error { return a.loop.Run(ctx) })
	g.Go(func() error { return api.Serve(ctx, a.cfg.HTTP.Addr, a.http, a.log) })

	if a.paper != nil && a.cfg.Paper.ReplayFile != "" {
		g.Go(func() error {
			stats, err := replay.CSV(ctx, a.cfg.Paper.ReplayFile, a.paper, replay.Options{
				Speed:         a.cfg.Paper.Speed,
				Loop:          a.cfg.Paper.Loop,
				TickThenEvent: true,
			}, a.log)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			a.log.Info().Int("rows", stats.Rows).Int("passes", stats.Passes).Msg("replay finished")
			return nil
		})
	} else if a.paper != nil {
		a.log.Warn().Msg("paper gateway has no replay file; instruments will have no quotes")
	}

	err := g.Wait()
	a.hub.Close()
	return err
}

func (a *app) close() {
	closeStore(a.store)
}
