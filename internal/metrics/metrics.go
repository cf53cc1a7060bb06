// Package metrics exposes Prometheus counters/gauges for the kernel's
// order-flow and risk events. Plain package-level vars registered in
// init() and exported helper functions — no struct, no DI — so existing
// constructors (execution.New, risk.NewManager, portfolio.New) keep their
// signatures and every call site, including tests, is untouched.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_orders_submitted_total",
			Help: "Orders submitted to a venue, by instrument and side.",
		},
		[]string{"instrument", "side"},
	)

	ordersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_orders_filled_total",
			Help: "Fill events applied, by instrument and side.",
		},
		[]string{"instrument", "side"},
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_orders_rejected_total",
			Help: "Orders rejected by the venue, by instrument.",
		},
		[]string{"instrument"},
	)

	ordersDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_orders_denied_total",
			Help: "Orders denied pre-trade by the risk gateway, by reason.",
		},
		[]string{"reason"},
	)

	tradingHalts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kernel_trading_halts_total",
			Help: "Number of times the risk engine has entered HALTED state.",
		},
	)

	accountEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kernel_account_equity",
			Help: "Latest computed account equity, by account and currency.",
		},
		[]string{"account", "currency"},
	)
)

func init() {
	prometheus.MustRegister(ordersSubmitted, ordersFilled, ordersRejected)
	prometheus.MustRegister(ordersDenied, tradingHalts)
	prometheus.MustRegister(accountEquity)
}

// IncOrdersSubmitted records an order accepted for routing to a venue.
func IncOrdersSubmitted(instrument, side string) {
	ordersSubmitted.WithLabelValues(instrument, side).Inc()
}

// IncOrdersFilled records a fill event applied to the Cache.
func IncOrdersFilled(instrument, side string) {
	ordersFilled.WithLabelValues(instrument, side).Inc()
}

// IncOrdersRejected records a venue rejection.
func IncOrdersRejected(instrument string) {
	ordersRejected.WithLabelValues(instrument).Inc()
}

// IncOrdersDenied records a pre-trade denial, tagged with the gate that
// denied it (e.g. "max_notional", "price_band", "throttle").
func IncOrdersDenied(reason string) {
	ordersDenied.WithLabelValues(reason).Inc()
}

// IncTradingHalt records a transition into HALTED trading state.
func IncTradingHalt() {
	tradingHalts.Inc()
}

// SetEquity publishes the latest computed equity for an account/currency.
func SetEquity(account, currency string, value float64) {
	accountEquity.WithLabelValues(account, currency).Set(value)
}
