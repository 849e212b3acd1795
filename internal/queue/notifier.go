package queue

import (
	"context"

	"github.com/rs/zerolog"
)

// AlertLevel ranks the severity of a Notifier alert.
type AlertLevel int

const (
	// AlertWarning marks a rate-threshold breach or an unmapped event type.
	AlertWarning AlertLevel = iota
	// AlertCritical marks a permanent listener error or a DLQ depth breach.
	AlertCritical
)

// Notifier receives operational alerts raised by the consumer loop and DLQ
// tooling: unmapped events, permanent errors, rate-threshold breaches, and
// DLQ depth breaches.
type Notifier interface {
	Notify(ctx context.Context, level AlertLevel, message string, fields map[string]any)
}

// LogNotifier is the default Notifier: it logs every alert at a level
// matching its severity. Suitable when no external paging integration is
// wired; swap in an implementation backed by PagerDuty/Slack/etc without
// changing call sites.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, level AlertLevel, message string, fields map[string]any) {
	event := n.log.Warn()
	if level == AlertCritical {
		event = n.log.Error()
	}

	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(message)
}
