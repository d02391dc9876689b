// Package notify delivers triggered alerts to one or more transports.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"go.uber.org/zap"
)

// Notifier delivers a triggered alert
type Notifier interface {
	Notify(ctx context.Context, alert models.TriggeredAlert) error
}

// Func adapts a function to the Notifier interface
type Func func(ctx context.Context, alert models.TriggeredAlert) error

// Notify calls f
func (f Func) Notify(ctx context.Context, alert models.TriggeredAlert) error {
	return f(ctx, alert)
}

type target struct {
	name     string
	notifier Notifier
}

// Multi fans an alert out to every registered transport. A failing
// transport does not stop delivery to the others.
type Multi struct {
	targets []target
	logger  *zap.Logger
}

// NewMulti creates an empty fan-out notifier
func NewMulti(logger *zap.Logger) *Multi {
	return &Multi{logger: logger}
}

// Add registers a transport under name; nil notifiers are skipped
func (m *Multi) Add(name string, n Notifier) {
	if n == nil {
		return
	}
	m.targets = append(m.targets, target{name: name, notifier: n})
}

// Len returns the number of registered transports
func (m *Multi) Len() int {
	return len(m.targets)
}

// Notify delivers to all transports and joins their errors
func (m *Multi) Notify(ctx context.Context, alert models.TriggeredAlert) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.notifier.Notify(ctx, alert); err != nil {
			metrics.NotificationFailures.WithLabelValues(t.name).Inc()
			m.logger.Warn("Alert delivery failed",
				zap.String("transport", t.name),
				zap.Int("alert_id", alert.AlertID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}
