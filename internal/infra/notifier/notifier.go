// Package notifier delivers grant alerts. The webhook notifier paces
// outbound requests with a token bucket and retries transient delivery
// failures; the fallback notifier records the alert in the log and reports
// it as undelivered.
package notifier

import (
	"context"

	"grant-scout/internal/domain/entity"
)

// Notifier is the alert delivery capability.
type Notifier interface {
	Notify(ctx context.Context, n entity.Notification) (*entity.Notification, error)
}
