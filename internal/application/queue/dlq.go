package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/domain"
)

// DeadLetterStore holds messages that exceeded their retry budget or hit
// a permanent error. Entries are kept in arrival order for operators and
// optionally mirrored to a persistent archive.
type DeadLetterStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.DLQEntry // keyed by message id
	order   []string

	maxEntries int
	archive    domain.DLQArchive

	now func() time.Time
}

// NewDeadLetterStore creates a dead-letter store bounded to maxEntries
// (0 = unbounded). archive may be nil.
func NewDeadLetterStore(maxEntries int, archive domain.DLQArchive) *DeadLetterStore {
	return &DeadLetterStore{
		entries:    make(map[string]*domain.DLQEntry),
		maxEntries: maxEntries,
		archive:    archive,
		now:        time.Now,
	}
}

// Add records a dead message. A message seen again updates attempts and
// last-seen instead of creating a second entry.
func (d *DeadLetterStore) Add(msg domain.QueueMessage, lastError string) {
	d.mu.Lock()
	now := d.now()
	entry, exists := d.entries[msg.ID]
	if exists {
		entry.Attempts = msg.Attempt
		entry.LastError = lastError
		entry.LastSeen = now
	} else {
		if d.maxEntries > 0 && len(d.order) >= d.maxEntries {
			oldest := d.order[0]
			d.order = d.order[1:]
			delete(d.entries, oldest)
		}
		entry = &domain.DLQEntry{
			Message:   msg,
			LastError: lastError,
			Attempts:  msg.Attempt,
			FirstSeen: now,
			LastSeen:  now,
		}
		d.entries[msg.ID] = entry
		d.order = append(d.order, msg.ID)
	}
	archived := *entry
	d.mu.Unlock()

	log.Warn().
		Str("message_id", msg.ID).
		Str("tenant_id", msg.TenantID).
		Str("correlation_id", msg.Event.CorrelationID).
		Int("attempts", archived.Attempts).
		Str("error", lastError).
		Msg("message moved to dead-letter store")

	if d.archive != nil {
		if err := d.archive.Append(context.Background(), archived); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to archive DLQ entry")
		}
	}
}

// List enumerates entries in arrival order. An empty tenantID lists all
// tenants (operator use).
func (d *DeadLetterStore) List(tenantID string) []domain.DLQEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.DLQEntry, 0, len(d.order))
	for _, id := range d.order {
		entry := d.entries[id]
		if tenantID != "" && entry.Message.TenantID != tenantID {
			continue
		}
		out = append(out, *entry)
	}
	return out
}

// Get returns the entry for one message id.
func (d *DeadLetterStore) Get(messageID string) (domain.DLQEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[messageID]
	if !ok {
		return domain.DLQEntry{}, false
	}
	return *entry, true
}

// Take removes and returns the entry for requeueing.
func (d *DeadLetterStore) Take(messageID string) (domain.DLQEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[messageID]
	if !ok {
		return domain.DLQEntry{}, false
	}
	delete(d.entries, messageID)
	for i, id := range d.order {
		if id == messageID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return *entry, true
}

// Len returns the number of entries held.
func (d *DeadLetterStore) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Clear drops all entries and returns how many were removed.
func (d *DeadLetterStore) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.entries)
	d.entries = make(map[string]*domain.DLQEntry)
	d.order = nil
	return n
}
