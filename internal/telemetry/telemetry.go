package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Expert evaluation outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeNoData  = "no_data"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	decisionsTotal    *prometheus.CounterVec
	tradesTotal       *prometheus.CounterVec
	expertEvaluations *prometheus.CounterVec
	expertDuration    *prometheus.HistogramVec
	daysProcessed     prometheus.Counter
	dayDuration       prometheus.Histogram
	backtestsTotal    *prometheus.CounterVec
	backtestDuration  prometheus.Histogram
	portfolioValue    prometheus.Gauge
	openPositions     prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_decisions_total",
				Help: "Total number of aggregated decisions",
			},
			[]string{"ticker", "action"},
		),
		tradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_trades_total",
				Help: "Total number of trade orders by outcome",
			},
			[]string{"action", "status"},
		),
		expertEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_expert_evaluations_total",
				Help: "Total number of expert evaluations by outcome",
			},
			[]string{"expert", "outcome"},
		),
		expertDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_expert_duration_seconds",
				Help:    "Expert evaluation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"expert"},
		),
		daysProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quorum_trading_days_total",
				Help: "Total number of trading days processed",
			},
		),
		dayDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quorum_trading_day_duration_seconds",
				Help:    "Wall-clock duration of one trading day in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		backtestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_backtests_total",
				Help: "Total number of backtests",
			},
			[]string{"status"},
		),
		backtestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quorum_backtest_duration_seconds",
				Help:    "Backtest duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		portfolioValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quorum_portfolio_value",
				Help: "Current total portfolio value",
			},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quorum_open_positions",
				Help: "Number of open positions",
			},
		),
	}

	reg.MustRegister(r.decisionsTotal)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.expertEvaluations)
	reg.MustRegister(r.expertDuration)
	reg.MustRegister(r.daysProcessed)
	reg.MustRegister(r.dayDuration)
	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.portfolioValue)
	reg.MustRegister(r.openPositions)

	return r
}

// RecordDecision records an aggregated decision.
func (r *Registry) RecordDecision(ticker, action string) {
	r.decisionsTotal.WithLabelValues(ticker, action).Inc()
}

// RecordTrade records an executed or rejected trade order.
func (r *Registry) RecordTrade(action string, executed bool) {
	status := "rejected"
	if executed {
		status = "executed"
	}
	r.tradesTotal.WithLabelValues(action, status).Inc()
}

// RecordExpert records one expert evaluation.
func (r *Registry) RecordExpert(expert, outcome string, duration float64) {
	r.expertEvaluations.WithLabelValues(expert, outcome).Inc()
	r.expertDuration.WithLabelValues(expert).Observe(duration)
}

// RecordDay records a completed trading day.
func (r *Registry) RecordDay(duration float64) {
	r.daysProcessed.Inc()
	r.dayDuration.Observe(duration)
}

// RecordBacktest records a backtest completion.
func (r *Registry) RecordBacktest(status string, duration float64) {
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
}

// SetPortfolioValue updates the portfolio value gauge.
func (r *Registry) SetPortfolioValue(value float64) {
	r.portfolioValue.Set(value)
}

// SetOpenPositions updates the open position count gauge.
func (r *Registry) SetOpenPositions(count int) {
	r.openPositions.Set(float64(count))
}
