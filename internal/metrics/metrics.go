// Package metrics exposes Prometheus instrumentation for the execution
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts orders by symbol, side and final status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_orders_total",
		Help: "Total orders processed by symbol, side and status.",
	}, []string{"symbol", "side", "status"})

	// ExitsTotal counts position exits by symbol and reason.
	ExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_exits_total",
		Help: "Total position exits by symbol and reason.",
	}, []string{"symbol", "reason"})

	// OpenOrders tracks currently monitored orders.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_open_orders",
		Help: "Number of orders currently being monitored.",
	})

	// RealizedPnl is the cumulative realized P&L.
	RealizedPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_realized_pnl",
		Help: "Cumulative realized P&L across all orders.",
	})

	// UnrealizedPnl is the current unrealized P&L.
	UnrealizedPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_unrealized_pnl",
		Help: "Unrealized P&L across open positions.",
	})

	// TrailingUpdates counts trailing stop ratchets.
	TrailingUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_trailing_updates_total",
		Help: "Trailing stop ratchet applications by symbol.",
	}, []string{"symbol"})

	// BrokerCallLatency measures broker adapter call latency.
	BrokerCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exec_broker_call_seconds",
		Help:    "Broker adapter call latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// BrokerErrors counts failed broker adapter calls.
	BrokerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_broker_errors_total",
		Help: "Failed broker adapter calls by operation.",
	}, []string{"op"})

	// ReconcileCorrections counts drift corrections applied from broker
	// truth during reconciliation.
	ReconcileCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_reconcile_corrections_total",
		Help: "Local state corrections applied during reconciliation.",
	})

	// TickLatency measures per-tick processing latency.
	TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exec_tick_seconds",
		Help:    "Per-tick processing latency.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	// EventsPublished counts bus events by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_events_published_total",
		Help: "Lifecycle events published to the bus by type.",
	}, []string{"type"})
)
