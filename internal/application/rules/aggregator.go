package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/domain"
)

// FlushHandler receives the synthesized event when an aggregation window
// closes.
type FlushHandler func(event domain.NotificationEvent)

type bucket struct {
	mu       sync.Mutex
	tenantID string
	key      string
	events   []domain.NotificationEvent
	timer    *time.Timer
	flushed  bool
}

// Aggregator parks deferred events in (tenantId, key) buckets. When a
// bucket's window closes it flushes as a single synthesized event
// through the flush handler. Buckets are serialised per key.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[string]*bucket // "tenant\x00key"
	flush   FlushHandler
}

// NewAggregator creates an aggregator. The flush handler is set later by
// the orchestrator to avoid a construction cycle.
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: make(map[string]*bucket),
	}
}

// SetFlushHandler installs the handler invoked when windows close.
func (a *Aggregator) SetFlushHandler(handler FlushHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flush = handler
}

// Register adds an event to the (tenant, key) bucket, opening it with
// the given window if needed. The first event of a bucket starts the
// window; later events join it without extending the deadline.
func (a *Aggregator) Register(event domain.NotificationEvent, key string, window time.Duration) {
	id := event.TenantID + "\x00" + key

	a.mu.Lock()
	b, ok := a.buckets[id]
	if !ok {
		b = &bucket{tenantID: event.TenantID, key: key}
		a.buckets[id] = b
		b.timer = time.AfterFunc(window, func() { a.close(id) })
	}
	a.mu.Unlock()

	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		// Window closed while we were registering; open a fresh bucket.
		a.Register(event, key, window)
		return
	}
	b.events = append(b.events, event)
	b.mu.Unlock()
}

// close flushes one bucket and removes it.
func (a *Aggregator) close(id string) {
	a.mu.Lock()
	b, ok := a.buckets[id]
	if ok {
		delete(a.buckets, id)
	}
	flush := a.flush
	a.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	b.flushed = true
	events := b.events
	b.mu.Unlock()

	if len(events) == 0 || flush == nil {
		return
	}

	flush(synthesize(b.tenantID, b.key, events))
}

// FlushAll closes every open bucket immediately. Used on shutdown and in
// tests.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.buckets))
	for id, b := range a.buckets {
		b.timer.Stop()
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.close(id)
	}
}

// PendingBuckets returns how many buckets are currently open.
func (a *Aggregator) PendingBuckets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

// synthesize folds the bucketed events into one summary event. The
// synthesized event inherits the first event's routing and carries the
// aggregate size in metadata.
func synthesize(tenantID, key string, events []domain.NotificationEvent) domain.NotificationEvent {
	first := events[0]

	recipients := make([]domain.NotificationRecipient, 0, len(first.Recipients))
	seen := make(map[string]struct{})
	for _, ev := range events {
		for _, r := range ev.Recipients {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			recipients = append(recipients, r)
		}
	}

	out := domain.NotificationEvent{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		EventType:         first.EventType,
		Priority:          first.Priority,
		Subject:           fmt.Sprintf("%s (%d aggregated)", first.Subject, len(events)),
		Content:           first.Content,
		Recipients:        recipients,
		PreferredChannels: first.PreferredChannels,
		CorrelationID:     first.CorrelationID,
		Source:            first.Source,
		CreatedAt:         time.Now(),
		Metadata: map[string]any{
			"aggregate_key":   key,
			"aggregate_count": len(events),
		},
	}
	for k, v := range first.Metadata {
		if _, taken := out.Metadata[k]; !taken {
			out.Metadata[k] = v
		}
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("aggregate_key", key).
		Int("count", len(events)).
		Msg("aggregation window closed")
	return out
}
