package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grant-scout/internal/apperr"
	"grant-scout/internal/domain/entity"
	"grant-scout/internal/resilience/retry"
)

func testNotifier(url string) *WebhookNotifier {
	n := NewWebhookNotifier(WebhookConfig{
		WebhookURL:        url,
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
	})
	n.retryCfg = retry.Config{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
	return n
}

func testNotification() entity.Notification {
	return entity.Notification{
		Recipient: "team@example.org",
		Subject:   "New grants matching your profile",
		Body:      "3 new grants close this month.",
	}
}

func TestNotify_Delivers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sent, err := testNotifier(srv.URL).Notify(context.Background(), testNotification())
	require.NoError(t, err)
	assert.True(t, sent.Delivered)
	assert.False(t, sent.SentAt.IsZero())
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNotify_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sent, err := testNotifier(srv.URL).Notify(context.Background(), testNotification())
	require.NoError(t, err)
	assert.True(t, sent.Delivered)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestNotify_RateLimitRetriedWithHint(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sent, err := testNotifier(srv.URL).Notify(context.Background(), testNotification())
	require.NoError(t, err)
	assert.True(t, sent.Delivered)
}

func TestNotify_ClientErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testNotifier(srv.URL).Notify(context.Background(), testNotification())
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "4xx must not be retried")
}

func TestInitialize_RequiresWebhookURL(t *testing.T) {
	n := NewWebhookNotifier(WebhookConfig{})
	err := n.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
}

func TestFallbackNotifier_MarkedUndelivered(t *testing.T) {
	fb := NewFallbackNotifier(time.Millisecond)
	sent, err := fb.Notify(context.Background(), testNotification())
	require.NoError(t, err)
	assert.False(t, sent.Delivered)
	assert.False(t, sent.SentAt.IsZero())
}
