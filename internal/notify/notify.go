package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"flowops/internal/domain"
	"flowops/internal/metrics"
)

// Publisher hands a notification to a transport. A nil error means the
// transport accepted it; delivery is not confirmed.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Named attaches a transport label used in logs and metrics.
type Named struct {
	Name string
	Publisher
}

// Fanout publishes every notification to all configured transports. One
// failing transport does not stop the others; the failures are joined.
type Fanout struct {
	targets []Named
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewFanout(logger *slog.Logger, m *metrics.Metrics, targets ...Named) (*Fanout, error) {
	if len(targets) == 0 {
		return nil, errors.New("notify: at least one publisher is required")
	}
	for _, t := range targets {
		if t.Publisher == nil {
			return nil, fmt.Errorf("notify: publisher %q must not be nil", t.Name)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{targets: targets, metrics: m, logger: logger}, nil
}

func (f *Fanout) Publish(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, t := range f.targets {
		err := t.Publish(ctx, n)
		f.metrics.NotificationPublished(t.Name, n.Action, err)
		if err != nil {
			f.logger.ErrorContext(ctx, "notification publish failed",
				"transport", t.Name, "tenant_id", n.TenantID, "action", n.Action, "err", err)
			errs = append(errs, fmt.Errorf("notify: %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops notifications. Used when no transport is configured locally.
type Discard struct{}

func (Discard) Publish(context.Context, domain.Notification) error { return nil }
