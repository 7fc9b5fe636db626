package notifier

import (
	"context"
	"log/slog"
	"time"

	"grant-scout/internal/domain/entity"
)

// FallbackNotifier records the alert in the log instead of delivering it.
// The returned notification is marked undelivered so callers can tell the
// user their alert did not go out.
type FallbackNotifier struct {
	delay time.Duration
}

// NewFallbackNotifier creates the fallback; zero or negative delay picks
// the default.
func NewFallbackNotifier(delay time.Duration) *FallbackNotifier {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &FallbackNotifier{delay: delay}
}

func (n *FallbackNotifier) Initialize(context.Context) error { return nil }

func (n *FallbackNotifier) CheckHealth(context.Context) error { return nil }

func (n *FallbackNotifier) Notify(ctx context.Context, notif entity.Notification) (*entity.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(n.delay):
	}

	slog.Warn("notification logged instead of delivered",
		slog.String("recipient", notif.Recipient),
		slog.String("subject", notif.Subject))

	notif.Delivered = false
	notif.SentAt = time.Now().UTC()
	return &notif, nil
}
