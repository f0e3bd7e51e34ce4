package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"uptrend-engine/internal/events"
)

var criticalFlags = map[string]bool{"exit_position": true, "emergency_exit": true}

// Alerter turns regime events into alerts and delivers them to every
// notifier. It plugs into the sweep as an event publisher.
type Alerter struct {
	notifiers []Notifier
	min       AlertLevel
	retries   uint64
	interval  time.Duration
}

// NewAlerter creates an Alerter that drops alerts below min.
func NewAlerter(min AlertLevel, notifiers ...Notifier) *Alerter {
	return &Alerter{
		notifiers: notifiers,
		min:       min,
		retries:   2,
		interval:  500 * time.Millisecond,
	}
}

// Publish decodes a regime event and sends its alert.
func (a *Alerter) Publish(ctx context.Context, key string, payload []byte) error {
	var ev events.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("alert: decode event %s: %w", key, err)
	}
	alert := AlertFor(ev)
	if !alert.Level.AtLeast(a.min) {
		return nil
	}

	var errs []error
	for _, n := range a.notifiers {
		if err := a.send(ctx, n, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Alerter) Close() error { return nil }

func (a *Alerter) send(ctx context.Context, n Notifier, alert Alert) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.interval
	operation := func() error {
		err := n.Send(ctx, alert)
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, a.retries), ctx))
}

// AlertFor renders the alert of a regime event. Exit flags are critical,
// other flags are warnings and bare transitions are informational.
func AlertFor(ev events.Event) Alert {
	level := AlertInfo
	for _, f := range ev.Flags {
		if criticalFlags[f] {
			level = AlertCritical
			break
		}
		level = AlertWarning
	}

	var detail struct {
		Price      float64 `json:"price"`
		ExitReason string  `json:"exit_reason"`
	}
	_ = json.Unmarshal(ev.Payload, &detail)

	title := fmt.Sprintf("%s:%s %ds %s", ev.Exchange, ev.Token, ev.TF, ev.To)
	if ev.EventType == events.EventTransition {
		from := ev.From.String()
		if from == "" {
			from = "new"
		}
		title = fmt.Sprintf("%s:%s %ds %s -> %s", ev.Exchange, ev.Token, ev.TF, from, ev.To)
	}

	lines := []string{fmt.Sprintf("price %.2f at %s", detail.Price, ev.Timestamp.UTC().Format(time.RFC3339))}
	if len(ev.Flags) > 0 {
		lines = append(lines, "flags: "+strings.Join(ev.Flags, ", "))
	}
	if detail.ExitReason != "" {
		lines = append(lines, "exit reason: "+detail.ExitReason)
	}
	return Alert{Level: level, Title: title, Message: strings.Join(lines, "\n"), Key: ev.RegimeKey}
}
