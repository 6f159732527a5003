package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order reaching a status.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordExit records a position exit.
func (r *Recorder) RecordExit(symbol, reason string) {
	ExitsTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordOpenOrders updates the monitored-orders gauge.
func (r *Recorder) RecordOpenOrders(n int) {
	OpenOrders.Set(float64(n))
}

// RecordPnl updates the realized and unrealized P&L gauges.
func (r *Recorder) RecordPnl(realized, unrealized decimal.Decimal) {
	RealizedPnl.Set(realized.InexactFloat64())
	UnrealizedPnl.Set(unrealized.InexactFloat64())
}

// RecordTrailingUpdate records a trailing stop ratchet.
func (r *Recorder) RecordTrailingUpdate(symbol string) {
	TrailingUpdates.WithLabelValues(symbol).Inc()
}

// RecordBrokerError records a failed broker adapter call.
func (r *Recorder) RecordBrokerError(op string) {
	BrokerErrors.WithLabelValues(op).Inc()
}

// RecordReconcileCorrection records a drift correction.
func (r *Recorder) RecordReconcileCorrection() {
	ReconcileCorrections.Inc()
}

// RecordEvent records a bus event publication.
func (r *Recorder) RecordEvent(evType string) {
	EventsPublished.WithLabelValues(evType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveBrokerCall observes the elapsed time as broker call latency.
func (t *Timer) ObserveBrokerCall(op string) {
	BrokerCallLatency.WithLabelValues(op).Observe(t.Elapsed().Seconds())
}

// ObserveTick observes the elapsed time as tick processing latency.
func (t *Timer) ObserveTick() {
	TickLatency.Observe(t.Elapsed().Seconds())
}
