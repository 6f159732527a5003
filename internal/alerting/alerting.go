// Package alerting delivers notable execution events to external
// channels such as the console or Telegram.
package alerting

import (
	"context"
	"fmt"
)

// Severity grades an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns a marker for the severity, used by chat channels.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter sends one alert to one channel.
type Alerter interface {
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	Name() string
}

// FormatFields renders slog-style key-value pairs as one line per pair.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += fmt.Sprintf("%s: %v", key, fields[i+1])
	}
	return out
}
