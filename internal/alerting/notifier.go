package alerting

import (
	"context"
	"log/slog"

	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/types"
)

// Notifier bridges the event bus to an alert channel, translating
// lifecycle events into graded alerts. Events below MinSeverity are
// dropped.
type Notifier struct {
	alerter     Alerter
	minSeverity Severity
	logger      *slog.Logger
}

// NewNotifier creates a notifier delivering through alerter.
func NewNotifier(alerter Alerter, minSeverity Severity, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{alerter: alerter, minSeverity: minSeverity, logger: logger}
}

// Attach subscribes the notifier to every event on the bus. Delivery
// failures are logged, never propagated to the publisher.
func (n *Notifier) Attach(b *bus.Bus) {
	b.SubscribeAll(func(ev types.Event) {
		severity, message, ok := classify(ev)
		if !ok || severity < n.minSeverity {
			return
		}
		fields := []any{"order_id", ev.OrderID, "reason", ev.Reason}
		for k, v := range ev.Payload {
			fields = append(fields, k, v)
		}
		if err := n.alerter.Alert(context.Background(), severity, message, fields...); err != nil {
			n.logger.Warn("alert delivery failed",
				"event_type", ev.Type,
				"order_id", ev.OrderID,
				"err", err,
			)
		}
	})
}

// classify maps one event to an alert. Routine bookkeeping events are
// not alertable at all.
func classify(ev types.Event) (Severity, string, bool) {
	switch ev.Type {
	case types.EventOrderRejected:
		if ev.Reason == "guardian_blocked" {
			return SeverityCritical, "order vetoed by safety gate", true
		}
		return SeverityHigh, "order rejected", true
	case types.EventStopHit:
		return SeverityWarning, "stop loss hit", true
	case types.EventTimeStop:
		return SeverityWarning, "time stop exit", true
	case types.EventTargetHit:
		return SeverityInfo, "take profit hit", true
	case types.EventOrderCancelled:
		return SeverityInfo, "order cancelled", true
	default:
		return SeverityInfo, "", false
	}
}
