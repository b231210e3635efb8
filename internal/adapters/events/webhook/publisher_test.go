package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/testutil"
)

func createdEvent() *domain.LifecycleEvent {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	in := &domain.Interaction{
		ID:             "int-1",
		Kind:           domain.KindPlanApproval,
		ConversationID: "conv-1",
		Request:        domain.PlanApprovalRequest{Plan: "migrate db"},
		Status:         domain.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(30 * time.Minute),
	}
	return domain.NewLifecycleEvent(domain.LifecycleRequestCreated, in, now)
}

func TestPublishPostsNotification(t *testing.T) {
	var got Notification
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := NewPublisher(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer hook"}})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), createdEvent()))
	assert.Equal(t, "Bearer hook", auth)
	assert.Equal(t, "int-1", got.InteractionID)
	assert.Equal(t, domain.KindPlanApproval, got.Kind)
	require.NotNil(t, got.ExpiresAt)
	assert.NoError(t, p.Close())
}

func TestPublishIgnoresResolved(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p, err := NewPublisher(Config{URL: srv.URL})
	require.NoError(t, err)

	evt := createdEvent()
	evt.Type = domain.LifecycleRequestResolved
	require.NoError(t, p.Publish(context.Background(), evt))
	assert.Zero(t, calls.Load())
}

func TestPublishDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := NewPublisher(Config{URL: srv.URL, Retries: 3})
	require.NoError(t, err)

	err = p.Publish(context.Background(), createdEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	r := testutil.NewVCRRecorder(t, "webhook_retry")

	p, err := NewPublisher(Config{
		URL:     "https://hooks.example.com/interactions",
		Retries: 1,
		Client:  testutil.VCRHTTPClient(r),
	})
	require.NoError(t, err)

	assert.NoError(t, p.Publish(context.Background(), createdEvent()))
}

func TestPublishBacksOffBetweenRetries(t *testing.T) {
	var calls atomic.Int32
	var (
		mu     sync.Mutex
		stamps []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := NewPublisher(Config{URL: srv.URL, Retries: 2, Backoff: 40 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), createdEvent()))
	require.Equal(t, int32(3), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 40*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 80*time.Millisecond)
}

func TestPublishStopsWaitingWhenContextDone(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "3")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewPublisher(Config{URL: srv.URL, Retries: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = p.Publish(ctx, createdEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}

func TestNewPublisherRequiresURL(t *testing.T) {
	_, err := NewPublisher(Config{})
	assert.Error(t, err)
}
