// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxassist_ticks_total", Help: "Instrument ticks processed by the polling loop"},
		[]string{"instrument"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxassist_signals_total", Help: "Directional signals emitted"},
		[]string{"instrument", "signal"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxassist_orders_total", Help: "Orders submitted, by result (done|rejected|error)"},
		[]string{"instrument", "side", "result"},
	)
	PositionActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxassist_position_actions_total", Help: "Breakeven, trail and flatten commands, by result"},
		[]string{"action", "result"},
	)
	JobsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fxassist_jobs_dropped_total", Help: "Jobs refused because the worker queue was full"},
	)
	LoopFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxassist_loop_faults_total", Help: "Tick failures caught by the polling loop, instrument is empty for whole-tick faults"},
		[]string{"instrument", "kind"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fxassist_account_equity", Help: "Account equity at the last tick"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, SignalsTotal, OrdersTotal, PositionActionsTotal, JobsDroppedTotal, LoopFaultsTotal, Equity)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
