// Package metrics registers the Prometheus collectors the bot updates while
// trading. Served by the web server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTradesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_opened_total",
			Help: "Market buys successfully executed",
		},
		[]string{"market"},
	)

	mtxTradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_closed_total",
			Help: "Positions closed, split by reason (target-reached, stop-loss, external)",
		},
		[]string{"market", "reason"},
	)

	mtxMonitorTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_monitor_ticks_total",
			Help: "Price monitor iterations",
		},
		[]string{"market"},
	)

	mtxPriceFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_price_fetch_errors_total",
			Help: "Price polls that failed and were retried next tick",
		},
		[]string{"market"},
	)

	mtxCloseRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_close_retries_total",
			Help: "Failed close attempts scheduled for retry",
		},
		[]string{"market"},
	)

	mtxActiveTrade = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_active_trade",
			Help: "1 while a position is open, 0 otherwise",
		},
		[]string{"market"},
	)

	mtxProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_profit_usd",
			Help: "Last computed profit of the open position in USD",
		},
		[]string{"market"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTradesOpened,
		mtxTradesClosed,
		mtxMonitorTicks,
		mtxPriceFetchErrors,
		mtxCloseRetries,
		mtxActiveTrade,
		mtxProfit,
	)
}

func TradeOpened(market string) {
	mtxTradesOpened.WithLabelValues(market).Inc()
	mtxActiveTrade.WithLabelValues(market).Set(1)
}

func TradeClosed(market, reason string) {
	mtxTradesClosed.WithLabelValues(market, reason).Inc()
	mtxActiveTrade.WithLabelValues(market).Set(0)
	mtxProfit.WithLabelValues(market).Set(0)
}

func MonitorTick(market string) {
	mtxMonitorTicks.WithLabelValues(market).Inc()
}

func PriceFetchError(market string) {
	mtxPriceFetchErrors.WithLabelValues(market).Inc()
}

func CloseRetry(market string) {
	mtxCloseRetries.WithLabelValues(market).Inc()
}

func SetProfit(market string, usd float64) {
	mtxProfit.WithLabelValues(market).Set(usd)
}
