package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyx/notifyx/internal/domain"
)

func testMessage(id string, priority domain.Priority) domain.QueueMessage {
	return domain.QueueMessage{
		ID:       id,
		TenantID: "t1",
		Event: domain.NotificationEvent{
			ID:       "n-" + id,
			TenantID: "t1",
			Priority: priority,
		},
		Recipient:  domain.NotificationRecipient{ID: "r1", Email: "a@x"},
		Channel:    domain.ChannelEmail,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		Attempt:    1,
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(DefaultConfig(), nil)

	require.True(t, q.Enqueue(testMessage("m1", domain.PriorityNormal)))
	require.True(t, q.Enqueue(testMessage("m2", domain.PriorityNormal)))
	require.True(t, q.Enqueue(testMessage("m3", domain.PriorityNormal)))

	for _, want := range []string{"m1", "m2", "m3"} {
		msg, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, msg.ID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestPriorityPreemption(t *testing.T) {
	q := New(DefaultConfig(), nil)

	// 1000 low-priority messages enqueued first.
	for i := 0; i < 1000; i++ {
		require.True(t, q.Enqueue(testMessage(fmt.Sprintf("low-%d", i), domain.PriorityLow)))
	}
	// One critical message arrives later.
	require.True(t, q.Enqueue(testMessage("critical-1", domain.PriorityCritical)))

	msg, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "critical-1", msg.ID, "critical must be dispatched before any remaining low")
}

func TestDequeueOrderAcrossPriorities(t *testing.T) {
	q := New(DefaultConfig(), nil)

	q.Enqueue(testMessage("low", domain.PriorityLow))
	q.Enqueue(testMessage("normal", domain.PriorityNormal))
	q.Enqueue(testMessage("high", domain.PriorityHigh))
	q.Enqueue(testMessage("critical", domain.PriorityCritical))

	var got []string
	for {
		msg, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, msg.ID)
	}
	assert.Equal(t, []string{"critical", "high", "normal", "low"}, got)
}

func TestAckRemovesInFlight(t *testing.T) {
	q := New(DefaultConfig(), nil)
	q.Enqueue(testMessage("m1", domain.PriorityNormal))

	msg, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 1, q.InFlightCount())

	require.NoError(t, q.Ack(msg.ID))
	assert.Equal(t, 0, q.InFlightCount())

	// Double ack is an error.
	assert.Error(t, q.Ack(msg.ID))
}

func TestNackRetryableRequeuesWithAttempt(t *testing.T) {
	q := New(DefaultConfig(), nil)
	q.Enqueue(testMessage("m1", domain.PriorityHigh))

	msg, _ := q.TryDequeue()
	require.NoError(t, q.Nack(msg.ID, true, "boom", nil))

	again, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "m1", again.ID)
	assert.Equal(t, 2, again.Attempt)
	assert.Equal(t, domain.PriorityHigh, again.Priority)
}

func TestNackPermanentMovesToDLQ(t *testing.T) {
	dlq := NewDeadLetterStore(0, nil)
	q := New(DefaultConfig(), dlq)
	q.Enqueue(testMessage("m1", domain.PriorityNormal))

	msg, _ := q.TryDequeue()
	require.NoError(t, q.Nack(msg.ID, false, "invalid recipient", nil))

	assert.Equal(t, 0, q.TotalLength())
	assert.Equal(t, 0, q.InFlightCount())
	require.Equal(t, 1, dlq.Len())

	entry, ok := dlq.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "invalid recipient", entry.LastError)
}

func TestScheduledMessageSkippedUntilDue(t *testing.T) {
	q := New(DefaultConfig(), nil)

	now := time.Now()
	q.SetClock(func() time.Time { return now })

	future := now.Add(time.Hour)
	scheduled := testMessage("later", domain.PriorityCritical)
	scheduled.ScheduledFor = &future
	q.Enqueue(scheduled)
	q.Enqueue(testMessage("now", domain.PriorityNormal))

	// The scheduled critical message is skipped despite higher priority.
	msg, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "now", msg.ID)

	_, ok = q.TryDequeue()
	assert.False(t, ok)

	// Advance the clock past the schedule.
	q.SetClock(func() time.Time { return future.Add(time.Second) })
	msg, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "later", msg.ID)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(Config{PollInterval: 5 * time.Millisecond}, nil)

	done := make(chan domain.QueueMessage, 1)
	go func() {
		msg, err := q.Dequeue(context.Background())
		if err == nil {
			done <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(testMessage("m1", domain.PriorityNormal))

	select {
	case msg := <-done:
		assert.Equal(t, "m1", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestDequeueRespectsContext(t *testing.T) {
	q := New(DefaultConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatsInvariant(t *testing.T) {
	dlq := NewDeadLetterStore(0, nil)
	q := New(DefaultConfig(), dlq)

	for i := 0; i < 10; i++ {
		q.Enqueue(testMessage(fmt.Sprintf("m%d", i), domain.PriorityNormal))
	}
	for i := 0; i < 4; i++ {
		msg, _ := q.TryDequeue()
		require.NoError(t, q.Ack(msg.ID))
	}
	msg, _ := q.TryDequeue()
	require.NoError(t, q.Nack(msg.ID, false, "dead", nil))
	q.TryDequeue() // leave one in flight

	stats := q.Stats()
	// dequeues - acks - DLQ moves = in flight, and pending matches the
	// sub-queue contents.
	assert.Equal(t, stats.TotalDequeued-stats.TotalAcked-stats.TotalDeadLetter, stats.InFlight)
	assert.Equal(t, int64(q.TotalLength()), stats.TotalPending())
	assert.Equal(t, int64(q.InFlightCount()), stats.InFlight)
}

func TestPurgeDropsPendingOnly(t *testing.T) {
	q := New(DefaultConfig(), nil)
	q.Enqueue(testMessage("m1", domain.PriorityNormal))
	q.Enqueue(testMessage("m2", domain.PriorityNormal))
	q.TryDequeue()

	assert.Equal(t, 1, q.Purge())
	assert.Equal(t, 0, q.TotalLength())
	assert.Equal(t, 1, q.InFlightCount())
}

func TestEnqueueCapacity(t *testing.T) {
	q := New(Config{MaxPending: 2}, nil)
	assert.True(t, q.Enqueue(testMessage("m1", domain.PriorityLow)))
	assert.True(t, q.Enqueue(testMessage("m2", domain.PriorityLow)))
	assert.False(t, q.Enqueue(testMessage("m3", domain.PriorityLow)))
	// Other sub-queues are unaffected.
	assert.True(t, q.Enqueue(testMessage("m4", domain.PriorityHigh)))
	assert.Equal(t, domain.HealthStatusUnhealthy, q.Health())
}
