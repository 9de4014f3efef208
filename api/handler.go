// Package api is the HTTP command surface used by the dashboard.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/execution"
	"github.com/rustyeddy/fxassist/market"
	"github.com/rustyeddy/fxassist/metrics"
	"github.com/rustyeddy/fxassist/position"
	"github.com/rustyeddy/fxassist/registry"
	"github.com/rustyeddy/fxassist/stream"
	"github.com/rustyeddy/fxassist/trader"
)

const apiBasePath = "/api"

var errMissingInstrument = errors.New("instrument is required")

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// LoopStatus reads the polling loop's state for GET /api/status. Either
// func may be nil.
type LoopStatus struct {
	Last    func() (trader.Frame, bool)
	Pending func() int
}

type Handler struct {
	router    *gin.Engine
	reg       *registry.Registry
	gw        broker.Gateway
	exec      *execution.Engine
	positions *position.Manager
	hub       *stream.Hub
	loop      LoopStatus
	log       zerolog.Logger
}

func NewHandler(reg *registry.Registry, gw broker.Gateway, exec *execution.Engine,
	positions *position.Manager, hub *stream.Hub, loop LoopStatus, log zerolog.Logger) *Handler {
	router := gin.New()

	h := &Handler{
		router:    router,
		reg:       reg,
		gw:        gw,
		exec:      exec,
		positions: positions,
		hub:       hub,
		loop:      loop,
		log:       log.With().Str("component", "api").Logger(),
	}
	router.Use(gin.Recovery(), h.requestLogger(), dashboardCORS())
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	api := h.router.Group(apiBasePath)
	{
		api.GET("/instruments", h.listInstruments)
		api.GET("/status", h.status)
		api.POST("/add_instrument", h.addInstrument)
		api.POST("/remove_instrument", h.removeInstrument)
		api.POST("/trading_mode", h.setTradingMode)
		api.POST("/lot_size", h.setLotSize)
		api.POST("/sl_tp", h.setStops)
		api.POST("/manual_trade", h.manualTrade)
		api.POST("/breakeven", h.breakeven)
		api.POST("/trail_stop", h.trailStop)
		api.POST("/flatten", h.flatten)
	}
	if h.hub != nil {
		h.router.GET("/ws/market_data", gin.WrapF(h.hub.ServeWS))
	}
	h.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

type instrumentPayload struct {
	Instrument string `json:"instrument"`
}

type tradingModePayload struct {
	Instrument string `json:"instrument"`
	Enabled    bool   `json:"enabled"`
}

type lotSizePayload struct {
	Instrument string  `json:"instrument"`
	Volume     float64 `json:"volume"`
}

type stopsPayload struct {
	Instrument string  `json:"instrument"`
	SLPips     float64 `json:"sl_pips"`
	TPPips     float64 `json:"tp_pips"`
}

type manualTradePayload struct {
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
}

type breakevenPayload struct {
	Instrument string   `json:"instrument"`
	ExtraPips  *float64 `json:"extra_pips"`
}

type trailPayload struct {
	Instrument string   `json:"instrument"`
	PipsToAdd  *float64 `json:"pips_to_add"`
}

func bind(c *gin.Context, v any, instrument func() string) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return false
	}
	if strings.TrimSpace(instrument()) == "" {
		writeError(c, http.StatusBadRequest, errMissingInstrument)
		return false
	}
	return true
}

func (h *Handler) listInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.All())
}

type statusResponse struct {
	Instruments int           `json:"instruments"`
	Clients     int           `json:"clients"`
	PendingJobs int           `json:"pending_jobs"`
	LastTick    *time.Time    `json:"last_tick"`
	Frame       *trader.Frame `json:"frame"`
}

func (h *Handler) status(c *gin.Context) {
	resp := statusResponse{Instruments: len(h.reg.All())}
	if h.hub != nil {
		resp.Clients = h.hub.Clients()
	}
	if h.loop.Pending != nil {
		resp.PendingJobs = h.loop.Pending()
	}
	if h.loop.Last != nil {
		if f, ok := h.loop.Last(); ok {
			resp.LastTick = &f.Time
			resp.Frame = &f
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) addInstrument(c *gin.Context) {
	var p instrumentPayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	name := registry.Normalize(p.Instrument)
	if _, ok := h.reg.Get(name); ok {
		writeDetail(c, http.StatusBadRequest, "Instrument already exists")
		return
	}

	ctx := c.Request.Context()
	sym, err := h.gw.ResolveSymbol(ctx, name)
	if err != nil {
		h.gatewayError(c, err, fmt.Sprintf("Symbol '%s' not found at the broker", name))
		return
	}
	if err := h.gw.SelectSymbol(ctx, sym.Name, true); err != nil {
		h.log.Warn().Err(err).Str("symbol", sym.Name).Msg("symbol select failed")
	}
	if _, err := h.gw.LatestTick(ctx, sym.Name); err != nil {
		h.log.Warn().Err(err).Str("symbol", sym.Name).Msg("no data for new instrument")
		writeDetail(c, http.StatusBadRequest,
			fmt.Sprintf("Cannot get data for '%s'. Make sure it is in Market Watch", sym.Name))
		return
	}

	if _, err := h.reg.Add(name); err != nil {
		h.registryError(c, err)
		return
	}
	writeMessage(c, fmt.Sprintf("Instrument %s added", name))
}

func (h *Handler) removeInstrument(c *gin.Context) {
	var p instrumentPayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	name := registry.Normalize(p.Instrument)
	if err := h.reg.Remove(name); err != nil {
		h.registryError(c, err)
		return
	}
	writeMessage(c, fmt.Sprintf("Instrument %s removed", name))
}

func (h *Handler) setTradingMode(c *gin.Context) {
	var p tradingModePayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	if err := h.reg.SetAutoTrading(p.Instrument, p.Enabled); err != nil {
		h.registryError(c, err)
		return
	}
	status := "DISABLED"
	if p.Enabled {
		status = "ENABLED"
	}
	h.log.Info().Str("instrument", p.Instrument).Bool("enabled", p.Enabled).Msg("auto trading toggled")
	writeMessage(c, fmt.Sprintf("Auto trading for %s is now %s", registry.Normalize(p.Instrument), status))
}

func (h *Handler) setLotSize(c *gin.Context) {
	var p lotSizePayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	if err := h.reg.SetLotSize(p.Instrument, p.Volume); err != nil {
		h.registryError(c, err)
		return
	}
	writeMessage(c, fmt.Sprintf("Lot size for %s updated", registry.Normalize(p.Instrument)))
}

func (h *Handler) setStops(c *gin.Context) {
	var p stopsPayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	if err := h.reg.SetStops(p.Instrument, p.SLPips, p.TPPips); err != nil {
		h.registryError(c, err)
		return
	}
	writeMessage(c, fmt.Sprintf("SL/TP for %s updated", registry.Normalize(p.Instrument)))
}

func (h *Handler) manualTrade(c *gin.Context) {
	var p manualTradePayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	side, err := market.ParseSide(p.Side)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	name := registry.Normalize(p.Instrument)
	s, ok := h.reg.Get(name)
	if !ok {
		s = registry.DefaultSettings()
	}

	fill, err := h.exec.Execute(c.Request.Context(), execution.Intent{
		Instrument: name,
		Side:       side,
		Volume:     p.Volume,
		SLPips:     s.SLPips,
		TPPips:     s.TPPips,
		Comment:    "fxassist manual",
	})
	switch {
	case err == nil:
		h.log.Info().Str("instrument", name).Uint64("ticket", fill.Ticket).Msg("manual order filled")
		writeMessage(c, fmt.Sprintf("Manual %s order executed", side))
	case errors.Is(err, execution.ErrInvalidVolume), errors.Is(err, execution.ErrInvalidPips):
		writeError(c, http.StatusBadRequest, err)
	case errors.Is(err, broker.ErrSymbolNotFound):
		writeDetail(c, http.StatusNotFound, fmt.Sprintf("Symbol '%s' not found at the broker", name))
	default:
		writeDetail(c, http.StatusInternalServerError, "Manual order failed: "+err.Error())
	}
}

func (h *Handler) breakeven(c *gin.Context) {
	var p breakevenPayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	extra := 1.0
	if p.ExtraPips != nil {
		extra = *p.ExtraPips
	}
	out, err := h.positions.Breakeven(c.Request.Context(), registry.Normalize(p.Instrument), extra)
	h.outcome(c, out, err, http.StatusBadRequest)
}

func (h *Handler) trailStop(c *gin.Context) {
	var p trailPayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	pips := 1.0
	if p.PipsToAdd != nil {
		pips = *p.PipsToAdd
	}
	out, err := h.positions.Trail(c.Request.Context(), registry.Normalize(p.Instrument), pips)
	h.outcome(c, out, err, http.StatusBadRequest)
}

func (h *Handler) flatten(c *gin.Context) {
	var p instrumentPayload
	if !bind(c, &p, func() string { return p.Instrument }) {
		return
	}
	out, err := h.positions.Flatten(c.Request.Context(), registry.Normalize(p.Instrument))
	h.outcome(c, out, err, http.StatusInternalServerError)
}

// outcome writes a position command result. failStatus is used for
// refusals other than an unknown symbol.
func (h *Handler) outcome(c *gin.Context, out position.Outcome, err error, failStatus int) {
	switch {
	case err != nil:
		writeDetail(c, http.StatusInternalServerError, "Gateway unavailable: "+err.Error())
	case out.OK:
		writeMessage(c, out.Reason)
	case errors.Is(out.Kind, broker.ErrSymbolNotFound):
		writeDetail(c, http.StatusNotFound, out.Reason)
	default:
		writeDetail(c, failStatus, out.Reason)
	}
}

func (h *Handler) registryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeDetail(c, http.StatusNotFound, "Instrument not found")
	case errors.Is(err, registry.ErrExists):
		writeDetail(c, http.StatusBadRequest, "Instrument already exists")
	case errors.Is(err, registry.ErrInvalidLotSize):
		writeDetail(c, http.StatusBadRequest, "Invalid lot size")
	case errors.Is(err, registry.ErrInvalidPips), errors.Is(err, registry.ErrEmptyInstrument):
		writeError(c, http.StatusBadRequest, err)
	default:
		h.log.Error().Err(err).Msg("registry update")
		writeError(c, http.StatusInternalServerError, err)
	}
}

func (h *Handler) gatewayError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, broker.ErrSymbolNotFound) {
		writeDetail(c, http.StatusNotFound, notFound)
		return
	}
	writeDetail(c, http.StatusInternalServerError, "Gateway unavailable: "+err.Error())
}

func writeMessage(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func writeDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func writeError(c *gin.Context, status int, err error) {
	writeDetail(c, status, err.Error())
}

// dashboardCORS allows any origin, as the dashboard is served separately.
func dashboardCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := h.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = h.log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// Serve runs the handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		return nil
	}
}
