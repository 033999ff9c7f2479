package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyx/notifyx/internal/application/provider"
	"github.com/notifyx/notifyx/internal/application/queue"
	"github.com/notifyx/notifyx/internal/application/template"
	"github.com/notifyx/notifyx/internal/domain"
	"github.com/notifyx/notifyx/internal/infrastructure/storage"
)

// flakyProvider fails transiently for the first failures sends, then
// succeeds.
type flakyProvider struct {
	mu       sync.Mutex
	failures int
	calls    []time.Time
	rendered []domain.RenderResult
}

func (p *flakyProvider) Name() string            { return "flaky-email" }
func (p *flakyProvider) Channel() domain.Channel { return domain.ChannelEmail }

func (p *flakyProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	return domain.ValidationResult{Valid: true}
}

func (p *flakyProvider) Send(ctx context.Context, event domain.NotificationEvent, recipient domain.NotificationRecipient, rendered domain.RenderResult) domain.DeliveryResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, time.Now())
	p.rendered = append(p.rendered, rendered)
	if len(p.calls) <= p.failures {
		return domain.DeliveryResult{
			Success: false, ErrorCode: "HTTP_503",
			ErrorMessage: "upstream unavailable", Retryable: true,
		}
	}
	return domain.DeliveryResult{Success: true, ProviderMessageID: "pm-ok"}
}

func (p *flakyProvider) Health() domain.HealthStatus           { return domain.HealthStatusHealthy }
func (p *flakyProvider) Configure(config map[string]any) error { return nil }

func (p *flakyProvider) callTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.calls...)
}

func workerHarness(t *testing.T, failures, maxAttempts int, initialDelay time.Duration) (*queue.PriorityQueue, *queue.DeadLetterStore, *flakyProvider, *WorkerPool, *storage.MemoryStore) {
	t.Helper()
	dlq := queue.NewDeadLetterStore(0, nil)
	pq := queue.New(queue.Config{PollInterval: 2 * time.Millisecond}, dlq)

	providers := provider.NewRegistry(provider.BreakerConfig{
		FailureThreshold: 100, SuccessThreshold: 1, OpenTimeout: time.Minute,
	})
	flaky := &flakyProvider{failures: failures}
	providers.Register(flaky)

	store := storage.NewMemoryStore()
	pool := NewWorkerPool(pq, providers, template.NewService(nil), store.Notifications(),
		RetryConfig{
			MaxAttempts:  maxAttempts,
			InitialDelay: initialDelay,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			Jitter:       false,
		},
		WorkerConfig{MaxConcurrent: 2, DeliveryTimeout: time.Second},
	)
	return pq, dlq, flaky, pool, store
}

func enqueueWelcome(t *testing.T, pq *queue.PriorityQueue, store *storage.MemoryStore) domain.QueueMessage {
	t.Helper()
	event := welcomeEvent()
	require.NoError(t, store.Notifications().Save(context.Background(), domain.NotificationRecord{
		Event:  event,
		Status: domain.NotificationStatusQueued,
	}))
	msg := domain.QueueMessage{
		ID:         "m1",
		TenantID:   event.TenantID,
		Event:      event,
		Recipient:  event.Recipients[0],
		Channel:    domain.ChannelEmail,
		Priority:   event.Priority,
		EnqueuedAt: time.Now(),
		Attempt:    1,
	}
	require.True(t, pq.Enqueue(msg))
	return msg
}

func TestWorkerDeliversAndRendersTemplate(t *testing.T) {
	pq, dlq, flaky, pool, store := workerHarness(t, 0, 3, time.Millisecond)
	enqueueWelcome(t, pq, store)

	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	require.Eventually(t, func() bool { return len(flaky.callTimes()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return pq.InFlightCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.Zero(t, dlq.Len())
	assert.Equal(t, int64(1), pool.Stats().Delivered)

	flaky.mu.Lock()
	body := flaky.rendered[0].Body
	flaky.mu.Unlock()
	assert.Equal(t, "Hello A", body, "worker renders the template before sending")

	rec, err := store.Notifications().Get(context.Background(), "t", "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusDelivered, rec.Status)
	require.Len(t, rec.Deliveries, 1)
	assert.True(t, rec.Deliveries[0].Result.Success)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	pq, dlq, flaky, pool, store := workerHarness(t, 100, 3, 5*time.Millisecond)
	enqueueWelcome(t, pq, store)

	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	// Three attempts total with MaxAttempts=3, then the dead-letter
	// move.
	require.Eventually(t, func() bool { return dlq.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	calls := flaky.callTimes()
	require.Len(t, calls, 3)

	entries := dlq.List("t")
	require.Len(t, entries, 1)
	assert.Equal(t, "n1", entries[0].Message.Event.ID)
	assert.Equal(t, 3, entries[0].Message.Attempt)
	assert.Contains(t, entries[0].LastError, "upstream unavailable")

	// Backoff schedule: gap k >= initialDelay * 2^(k-1).
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 5*time.Millisecond)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 10*time.Millisecond)

	rec, err := store.Notifications().Get(context.Background(), "t", "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusFailed, rec.Status)
	assert.Len(t, rec.Deliveries, 3)
}

func TestWorkerRecoversAfterTransientFailure(t *testing.T) {
	pq, dlq, flaky, pool, store := workerHarness(t, 2, 3, time.Millisecond)
	enqueueWelcome(t, pq, store)

	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	require.Eventually(t, func() bool { return pool.Stats().Delivered == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, flaky.callTimes(), 3)
	assert.Zero(t, dlq.Len())
}

func TestWorkerPoolStopIsCooperative(t *testing.T) {
	pq, _, _, pool, _ := workerHarness(t, 0, 3, time.Millisecond)

	pool.Start(context.Background())
	assert.True(t, pool.Stop(time.Second), "idle pool stops within the deadline")

	// After stop, nothing dequeues.
	pq.Enqueue(domain.QueueMessage{ID: "late", TenantID: "t", Priority: domain.PriorityNormal, Attempt: 1})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, pq.TotalLength())
}
