package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyx/notifyx/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (r *recorder) handler() Handler {
	return func(event domain.RunEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
	}
}

func (r *recorder) all() []domain.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunEvent(nil), r.events...)
}

func TestSequenceIsMonotonicPerRun(t *testing.T) {
	bus := NewBus()
	rec := &recorder{}
	bus.SubscribeRun("sub1", "run1", rec.handler())

	bus.Publish(domain.RunEventCreated, "t1", "wf1", "run1", "", nil)
	bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	bus.Publish(domain.RunEventNodeStarted, "t1", "wf1", "run1", "n1", nil)

	// A different run has its own counter.
	other := bus.Publish(domain.RunEventCreated, "t1", "wf1", "run2", "", nil)
	assert.Equal(t, uint64(0), other.Seq)

	events := rec.all()
	require.Len(t, events, 3)
	for i, event := range events {
		assert.Equal(t, uint64(i), event.Seq)
	}
}

func TestGroupedDelivery(t *testing.T) {
	bus := NewBus()
	byTenant := &recorder{}
	byWorkflow := &recorder{}
	byRun := &recorder{}
	bus.SubscribeTenant("s-tenant", "t1", byTenant.handler())
	bus.SubscribeWorkflow("s-wf", "wf1", byWorkflow.handler())
	bus.SubscribeRun("s-run", "run1", byRun.handler())

	bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	bus.Publish(domain.RunEventStarted, "t1", "wf2", "run2", "", nil)
	bus.Publish(domain.RunEventStarted, "t2", "wf3", "run3", "", nil)

	assert.Len(t, byTenant.all(), 2)
	assert.Len(t, byWorkflow.all(), 1)
	assert.Len(t, byRun.all(), 1)
}

func TestSubscriberInMultipleGroupsReceivesOnce(t *testing.T) {
	bus := NewBus()
	rec := &recorder{}
	bus.SubscribeTenant("sub", "t1", rec.handler())
	bus.SubscribeRun("sub", "run1", rec.handler())

	bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	assert.Len(t, rec.all(), 1)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	rec := &recorder{}
	bus.SubscribeRun("sub", "run1", rec.handler())
	bus.SubscribeRun("sub", "run1", rec.handler())

	bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	assert.Len(t, rec.all(), 1)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	rec := &recorder{}
	bus.SubscribeRun("sub", "run1", rec.handler())
	bus.UnsubscribeRun("sub", "run1")
	// Unsubscribing twice is a no-op.
	bus.UnsubscribeRun("sub", "run1")

	bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	assert.Empty(t, rec.all())
}

func TestUnsubscribeAll(t *testing.T) {
	bus := NewBus()
	rec := &recorder{}
	bus.SubscribeTenant("sub", "t1", rec.handler())
	bus.SubscribeWorkflow("sub", "wf1", rec.handler())
	bus.SubscribeRun("sub", "run1", rec.handler())

	bus.UnsubscribeAll("sub")
	bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	assert.Empty(t, rec.all())
	assert.Zero(t, bus.SubscriberCount())
}

func TestReleaseRunResetsSequence(t *testing.T) {
	bus := NewBus()
	bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	bus.ReleaseRun("run1")

	event := bus.Publish(domain.RunEventStarted, "t1", "wf1", "run1", "", nil)
	assert.Equal(t, uint64(0), event.Seq)
}
