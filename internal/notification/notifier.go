// Package notification delivers regime alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"

	"github.com/rs/zerolog/log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

var levelRank = map[AlertLevel]int{AlertInfo: 0, AlertWarning: 1, AlertCritical: 2}

// AtLeast reports whether l is as severe as min.
func (l AlertLevel) AtLeast(min AlertLevel) bool {
	return levelRank[l] >= levelRank[min]
}

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Key     string     `json:"key,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	ev := log.Info()
	switch alert.Level {
	case AlertWarning:
		ev = log.Warn()
	case AlertCritical:
		ev = log.Error()
	}
	ev.Str("component", "notify").Str("key", alert.Key).Str("title", alert.Title).Msg(alert.Message)
	return nil
}
