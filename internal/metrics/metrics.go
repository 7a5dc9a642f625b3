// Package metrics exposes the Prometheus instruments updated by the
// control loop. Registered in init() and served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Control loop cycles completed",
		},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Signals scored, by action",
		},
		[]string{"action"}, // BUY|SELL|WAIT
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_rejections_total",
			Help: "Signals rejected by the risk gate, by reason",
		},
		[]string{"reason"},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Trades counted by result (open|win|loss)",
		},
		[]string{"result"},
	)

	exitReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position exits split by reason and side",
		},
		[]string{"reason", "side"},
	)

	pairFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_pair_failures_total",
			Help: "Per-pair cycle failures, by symbol",
		},
		[]string{"symbol"},
	)

	loopBackoffsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_loop_backoffs_total",
			Help: "Loop-level failures that triggered a backoff",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Positions currently open",
		},
	)

	balanceQuote = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_balance_quote",
			Help: "Free quote balance at the last refresh",
		},
	)

	// One labeled series per lifecycle state, flipped between 0/1 so
	// dashboards can show the state without a mapping table.
	lifecycleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_lifecycle_state",
			Help: "Controller lifecycle state indicator",
		},
		[]string{"state"},
	)

	reconcileCorrectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_reconcile_corrections_total",
			Help: "Running-flag corrections applied by reconciliation",
		},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal, signalsTotal, rejectionsTotal)
	prometheus.MustRegister(tradesTotal, exitReasonsTotal, pairFailuresTotal)
	prometheus.MustRegister(loopBackoffsTotal, openPositions, balanceQuote)
	prometheus.MustRegister(lifecycleState, reconcileCorrectionsTotal)
}

func IncCycle() { cyclesTotal.Inc() }

func IncSignal(action string) { signalsTotal.WithLabelValues(action).Inc() }

func IncRejection(reason string) { rejectionsTotal.WithLabelValues(reason).Inc() }

func IncTradeOpened() { tradesTotal.WithLabelValues("open").Inc() }

// IncTradeClosed books the exit under both the result and reason views.
func IncTradeClosed(reason, side string, profit float64) {
	result := "win"
	if profit < 0 {
		result = "loss"
	}
	tradesTotal.WithLabelValues(result).Inc()
	exitReasonsTotal.WithLabelValues(reason, side).Inc()
}

func IncPairFailure(symbol string) { pairFailuresTotal.WithLabelValues(symbol).Inc() }

func IncLoopBackoff() { loopBackoffsTotal.Inc() }

func SetOpenPositions(n int) { openPositions.Set(float64(n)) }

func SetBalance(v float64) { balanceQuote.Set(v) }

var lifecycleStates = []string{"STOPPED", "STARTING", "RUNNING", "STOPPING", "ERROR"}

func SetLifecycleState(state string) {
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		lifecycleState.WithLabelValues(s).Set(v)
	}
}

func AddReconcileCorrections(n int) {
	if n > 0 {
		reconcileCorrectionsTotal.Add(float64(n))
	}
}
