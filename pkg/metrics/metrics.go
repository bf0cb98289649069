// Package metrics exposes exchange counters on the default Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bomex_orders_total",
		Help: "Orders submitted, partitioned by outcome",
	}, []string{"result"}) // rested/filled/rejected/closed

	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bomex_trades_total",
		Help: "Trades executed",
	})
	TradedVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bomex_traded_volume_total",
		Help: "Sum of traded sizes",
	})
	CancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bomex_cancels_total",
		Help: "Cancel requests, partitioned by whether an order was removed",
	}, []string{"found"})

	RestingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bomex_resting_orders",
		Help: "Orders currently resting in the book",
	})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bomex_settlements_total",
		Help: "Instrument settlements, partitioned by outcome",
	}, []string{"outcome"}) // settled/skipped
	SettlementPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bomex_settlement_price",
		Help: "Most recent settlement price",
	})
	OracleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bomex_oracle_fetch_seconds",
		Help:    "Duration of a settlement price fetch including retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms -> ~25s
	})

	MailboxRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bomex_mailbox_rejected_total",
		Help: "Requests dropped because the exchange mailbox was full",
	})

	WSConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bomex_ws_conns",
		Help: "Active websocket connections",
	})
	WSDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bomex_ws_dropped_total",
		Help: "Websocket messages dropped",
	}, []string{"why"}) // slow_client/rate_limited
)

// Result labels for OrdersTotal.
const (
	OrderRested   = "rested"
	OrderFilled   = "filled"
	OrderRejected = "rejected"
	OrderClosed   = "closed"
)

// Outcome labels for SettlementsTotal.
const (
	SettlementSettled = "settled"
	SettlementSkipped = "skipped"
)
