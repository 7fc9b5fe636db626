package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"grant-scout/internal/apperr"
	"grant-scout/internal/domain/entity"
	"grant-scout/internal/resilience/retry"
	"grant-scout/pkg/config"
)

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	WebhookURL string
	Timeout    time.Duration

	// RequestsPerSecond and Burst pace outbound deliveries. Most webhook
	// services allow about one message per second.
	RequestsPerSecond float64
	Burst             int
}

// LoadWebhookConfig reads webhook settings from the environment.
func LoadWebhookConfig() WebhookConfig {
	return WebhookConfig{
		WebhookURL:        config.GetEnvString("NOTIFY_WEBHOOK_URL", ""),
		Timeout:           config.GetEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		RequestsPerSecond: config.GetEnvFloat("NOTIFY_RATE", 1.0),
		Burst:             config.GetEnvInt("NOTIFY_BURST", 1),
	}
}

// WebhookNotifier posts alerts to a webhook endpoint.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
}

// NewWebhookNotifier creates a paced, retrying webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1.0
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &WebhookNotifier{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retryCfg:   retry.APIConfig(),
	}
}

// Initialize validates configuration; no network call is made so startup
// does not depend on the webhook service.
func (n *WebhookNotifier) Initialize(context.Context) error {
	if n.config.WebhookURL == "" {
		return apperr.New(apperr.KindValidation, "NOTIFY_WEBHOOK_URL is not set")
	}
	return nil
}

func (n *WebhookNotifier) CheckHealth(context.Context) error { return nil }

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	To      string `json:"to,omitempty"`
}

// Notify delivers the alert, waiting for pacing tokens and retrying
// transient failures. Rate-limit responses honor the server's Retry-After
// through the error taxonomy.
func (n *WebhookNotifier) Notify(ctx context.Context, notif entity.Notification) (*entity.Notification, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("notification pacing: %w", err)
	}

	err := retry.WithBackoff(ctx, n.retryCfg, func() error {
		return n.post(ctx, notif)
	})
	if err != nil {
		return nil, err
	}

	notif.Delivered = true
	notif.SentAt = time.Now().UTC()
	slog.Info("notification delivered",
		slog.String("recipient", notif.Recipient),
		slog.String("subject", notif.Subject))
	return &notif, nil
}

func (n *WebhookNotifier) post(ctx context.Context, notif entity.Notification) error {
	body, err := json.Marshal(webhookPayload{
		Subject: notif.Subject,
		Body:    notif.Body,
		To:      notif.Recipient,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "deliver notification", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &apperr.RateLimitError{ResetAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return apperr.New(apperr.KindTransient, fmt.Sprintf("webhook returned %d", resp.StatusCode))
	default:
		return apperr.New(apperr.KindInternal, fmt.Sprintf("webhook rejected notification with %d", resp.StatusCode))
	}
}

// parseRetryAfter reads a Retry-After header given in seconds. Absent or
// malformed values yield zero, which falls back to client-side backoff.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
