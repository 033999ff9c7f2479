// Package events publishes workflow run lifecycle events to grouped
// subscribers with per-run monotonic sequence numbers.
package events

import (
	"sync"
	"time"

	"github.com/notifyx/notifyx/internal/domain"
)

// Handler receives published run events. Delivery is at-least-once per
// subscriber; consumers deduplicate on the event's Seq.
type Handler func(event domain.RunEvent)

// Bus fans run events out to subscribers grouped by tenant, run and
// workflow. Subscribe and unsubscribe are idempotent: re-subscribing the
// same subscriber id replaces the handler, unsubscribing an unknown id
// is a no-op.
type Bus struct {
	mu         sync.RWMutex
	byTenant   map[string]map[string]Handler // tenantID -> subscriberID -> handler
	byRun      map[string]map[string]Handler
	byWorkflow map[string]map[string]Handler

	seqs map[string]uint64 // runID -> next sequence number
	now  func() time.Time
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		byTenant:   make(map[string]map[string]Handler),
		byRun:      make(map[string]map[string]Handler),
		byWorkflow: make(map[string]map[string]Handler),
		seqs:       make(map[string]uint64),
		now:        time.Now,
	}
}

// SubscribeTenant delivers every run event of one tenant.
func (b *Bus) SubscribeTenant(subscriberID, tenantID string, h Handler) {
	b.subscribe(b.byTenant, tenantID, subscriberID, h)
}

// UnsubscribeTenant removes a tenant subscription.
func (b *Bus) UnsubscribeTenant(subscriberID, tenantID string) {
	b.unsubscribe(b.byTenant, tenantID, subscriberID)
}

// SubscribeRun delivers the events of one run.
func (b *Bus) SubscribeRun(subscriberID, runID string, h Handler) {
	b.subscribe(b.byRun, runID, subscriberID, h)
}

// UnsubscribeRun removes a run subscription.
func (b *Bus) UnsubscribeRun(subscriberID, runID string) {
	b.unsubscribe(b.byRun, runID, subscriberID)
}

// SubscribeWorkflow delivers the events of every run of one workflow.
func (b *Bus) SubscribeWorkflow(subscriberID, workflowID string, h Handler) {
	b.subscribe(b.byWorkflow, workflowID, subscriberID, h)
}

// UnsubscribeWorkflow removes a workflow subscription.
func (b *Bus) UnsubscribeWorkflow(subscriberID, workflowID string) {
	b.unsubscribe(b.byWorkflow, workflowID, subscriberID)
}

// UnsubscribeAll removes every subscription held by one subscriber.
// Used when a realtime connection closes.
func (b *Bus) UnsubscribeAll(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, groups := range []map[string]map[string]Handler{b.byTenant, b.byRun, b.byWorkflow} {
		for key, subs := range groups {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(groups, key)
			}
		}
	}
}

func (b *Bus) subscribe(groups map[string]map[string]Handler, key, subscriberID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := groups[key]
	if !ok {
		subs = make(map[string]Handler)
		groups[key] = subs
	}
	subs[subscriberID] = h
}

func (b *Bus) unsubscribe(groups map[string]map[string]Handler, key, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := groups[key]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(groups, key)
		}
	}
}

// Publish assigns the run's next sequence number and delivers the event
// to every matching subscriber. A subscriber matched by more than one
// group receives the event once per Publish call.
func (b *Bus) Publish(
	eventType domain.RunEventType,
	tenantID, workflowID, runID, nodeID string,
	payload map[string]any,
) domain.RunEvent {
	b.mu.Lock()
	seq := b.seqs[runID]
	b.seqs[runID] = seq + 1

	event := domain.RunEvent{
		Type:       eventType,
		TenantID:   tenantID,
		WorkflowID: workflowID,
		RunID:      runID,
		NodeID:     nodeID,
		Seq:        seq,
		Timestamp:  b.now(),
		Payload:    payload,
	}

	handlers := make(map[string]Handler)
	for id, h := range b.byTenant[tenantID] {
		handlers[id] = h
	}
	for id, h := range b.byWorkflow[workflowID] {
		handlers[id] = h
	}
	for id, h := range b.byRun[runID] {
		handlers[id] = h
	}

	// Deliver while holding the lock so each subscriber observes its
	// events in sequence order. Handlers must not block; the websocket
	// bridge hands off to a buffered channel.
	for _, h := range handlers {
		h(event)
	}
	b.mu.Unlock()
	return event
}

// ReleaseRun drops the sequence counter of a terminal run.
func (b *Bus) ReleaseRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seqs, runID)
	delete(b.byRun, runID)
}

// SubscriberCount returns how many distinct subscriptions exist. Used by
// health reporting.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.byTenant {
		n += len(subs)
	}
	for _, subs := range b.byRun {
		n += len(subs)
	}
	for _, subs := range b.byWorkflow {
		n += len(subs)
	}
	return n
}
