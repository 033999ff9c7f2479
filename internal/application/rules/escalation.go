package rules

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/domain"
)

// EscalationHandler receives the follow-up event when an escalation
// fires.
type EscalationHandler func(event domain.NotificationEvent)

// EscalationScheduler arms escalate actions: a follow-up event fires
// after the configured delay unless the original notification is
// acknowledged first.
type EscalationScheduler struct {
	mu      sync.Mutex
	pending map[string]map[string]*time.Timer // original id -> token -> timer
	handler EscalationHandler
}

// NewEscalationScheduler creates an escalation scheduler.
func NewEscalationScheduler() *EscalationScheduler {
	return &EscalationScheduler{
		pending: make(map[string]map[string]*time.Timer),
	}
}

// SetHandler installs the handler invoked when an escalation fires.
func (s *EscalationScheduler) SetHandler(handler EscalationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Schedule arms one escalation for the original event.
func (s *EscalationScheduler) Schedule(original domain.NotificationEvent, esc ScheduledEscalation) {
	followUp := original
	followUp.ID = uuid.NewString()
	followUp.Priority = escalatedPriority(original.Priority)
	if len(esc.ToRecipients) > 0 {
		followUp.Recipients = esc.ToRecipients
	}
	followUp.Metadata = map[string]any{}
	for k, v := range original.Metadata {
		followUp.Metadata[k] = v
	}
	followUp.Metadata["escalated_from"] = original.ID
	followUp.Metadata["escalation_rule"] = esc.RuleID

	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := time.AfterFunc(esc.After, func() {
		s.fire(original.ID, token, followUp)
	})
	if s.pending[original.ID] == nil {
		s.pending[original.ID] = make(map[string]*time.Timer)
	}
	s.pending[original.ID][token] = timer

	log.Debug().
		Str("notification_id", original.ID).
		Str("tenant_id", original.TenantID).
		Dur("after", esc.After).
		Msg("escalation armed")
}

func (s *EscalationScheduler) fire(originalID, token string, followUp domain.NotificationEvent) {
	s.mu.Lock()
	timers, stillPending := s.pending[originalID]
	if stillPending {
		delete(timers, token)
		if len(timers) == 0 {
			delete(s.pending, originalID)
		}
	}
	handler := s.handler
	s.mu.Unlock()

	// Cancelled between arming and firing.
	if !stillPending || handler == nil {
		return
	}
	handler(followUp)
}

// Cancel disarms every escalation pending for the original notification.
// Called on acknowledgement; cancelling an unknown id is a no-op, which
// keeps ack idempotent.
func (s *EscalationScheduler) Cancel(originalID string) {
	s.mu.Lock()
	timers := s.pending[originalID]
	delete(s.pending, originalID)
	s.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
	if len(timers) > 0 {
		log.Debug().Str("notification_id", originalID).Int("cancelled", len(timers)).Msg("escalations cancelled")
	}
}

// PendingCount returns the number of notifications with armed
// escalations.
func (s *EscalationScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// escalatedPriority bumps the priority one level for the follow-up.
func escalatedPriority(p domain.Priority) domain.Priority {
	switch p {
	case domain.PriorityLow:
		return domain.PriorityNormal
	case domain.PriorityNormal:
		return domain.PriorityHigh
	default:
		return domain.PriorityCritical
	}
}
