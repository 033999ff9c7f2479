package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationEvent is the unit of ingest. Events are immutable once
// accepted: rule transforms produce new events via the With* builders,
// never by mutating an existing one.
type NotificationEvent struct {
	ID                string                  `json:"id"`
	TenantID          string                  `json:"tenant_id"`
	EventType         string                  `json:"event_type"`
	Priority          Priority                `json:"priority"`
	Subject           string                  `json:"subject,omitempty"`
	Content           string                  `json:"content,omitempty"`
	Title             string                  `json:"title,omitempty"`
	IconURL           string                  `json:"icon_url,omitempty"`
	ActionURL         string                  `json:"action_url,omitempty"`
	Recipients        []NotificationRecipient `json:"recipients"`
	PreferredChannels []Channel               `json:"preferred_channels"`
	ScheduledFor      *time.Time              `json:"scheduled_for,omitempty"`
	CorrelationID     string                  `json:"correlation_id,omitempty"`
	Source            string                  `json:"source,omitempty"`
	Metadata          map[string]any          `json:"metadata,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	TemplateID        string                  `json:"template_id,omitempty"`
}

// NotificationRecipient is a delivery target. A recipient must carry at
// least one address field matching at least one of the event's preferred
// channels.
type NotificationRecipient struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Email       string         `json:"email,omitempty"`
	PhoneNumber string         `json:"phone_number,omitempty"`
	DeviceID    string         `json:"device_id,omitempty"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AddressFor returns the recipient address used by the given channel and
// whether the recipient is reachable on that channel at all.
func (r NotificationRecipient) AddressFor(channel Channel) (string, bool) {
	switch channel {
	case ChannelEmail:
		return r.Email, r.Email != ""
	case ChannelSMS:
		return r.PhoneNumber, r.PhoneNumber != ""
	case ChannelPush:
		return r.DeviceID, r.DeviceID != ""
	case ChannelWebhook:
		return r.WebhookURL, r.WebhookURL != ""
	case ChannelSlack:
		// Slack targets are addressed by recipient id (channel or user id)
		return r.ID, r.ID != ""
	default:
		return "", false
	}
}

// Validate checks the structural invariants of an event before ingest.
func (e NotificationEvent) Validate() error {
	if e.TenantID == "" {
		return NewValidationError("tenant_id", "tenant id is required")
	}
	if e.EventType == "" {
		return NewValidationError("event_type", "event type is required")
	}
	if !e.Priority.IsValid() {
		return NewValidationError("priority", "unknown priority: "+e.Priority.String())
	}
	if len(e.Recipients) == 0 {
		return NewValidationError("recipients", "at least one recipient is required")
	}
	if len(e.PreferredChannels) == 0 {
		return NewValidationError("preferred_channels", "at least one channel is required")
	}
	for _, ch := range e.PreferredChannels {
		if !ch.IsValid() {
			return NewValidationError("preferred_channels", "unknown channel: "+ch.String())
		}
	}
	for _, r := range e.Recipients {
		reachable := false
		for _, ch := range e.PreferredChannels {
			if _, ok := r.AddressFor(ch); ok {
				reachable = true
				break
			}
		}
		if !reachable {
			return NewValidationError("recipients",
				"recipient "+r.ID+" has no address for any preferred channel")
		}
	}
	return nil
}

// Normalize returns a copy with a generated id and created-at timestamp
// where absent. (tenantID, id) is the idempotency key downstream.
func (e NotificationEvent) Normalize(now time.Time) NotificationEvent {
	out := e
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	return out
}

// WithMetadata returns a copy of the event with the given keys merged into
// its metadata. The receiver is not modified.
func (e NotificationEvent) WithMetadata(extra map[string]any) NotificationEvent {
	out := e
	merged := make(map[string]any, len(e.Metadata)+len(extra))
	for k, v := range e.Metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	out.Metadata = merged
	return out
}

// WithChannels returns a copy of the event rerouted to the given channels.
func (e NotificationEvent) WithChannels(channels []Channel) NotificationEvent {
	out := e
	out.PreferredChannels = append([]Channel(nil), channels...)
	return out
}

// WithSchedule returns a copy of the event scheduled for the given time.
func (e NotificationEvent) WithSchedule(at time.Time) NotificationEvent {
	out := e
	out.ScheduledFor = &at
	return out
}

// NotificationStatus tracks the lifecycle of an ingested notification.
type NotificationStatus string

const (
	NotificationStatusPending      NotificationStatus = "pending"
	NotificationStatusQueued       NotificationStatus = "queued"
	NotificationStatusDelivered    NotificationStatus = "delivered"
	NotificationStatusSuppressed   NotificationStatus = "suppressed"
	NotificationStatusDeferred     NotificationStatus = "deferred"
	NotificationStatusRateLimited  NotificationStatus = "rate_limited"
	NotificationStatusFailed       NotificationStatus = "failed"
	NotificationStatusAcknowledged NotificationStatus = "acknowledged"
	NotificationStatusCancelled    NotificationStatus = "cancelled"
)

// IsValid checks if the NotificationStatus is valid
func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationStatusPending, NotificationStatusQueued, NotificationStatusDelivered,
		NotificationStatusSuppressed, NotificationStatusDeferred, NotificationStatusRateLimited,
		NotificationStatusFailed, NotificationStatusAcknowledged, NotificationStatusCancelled:
		return true
	default:
		return false
	}
}

// String returns string representation of NotificationStatus
func (s NotificationStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status admits no further transitions
// other than acknowledgement.
func (s NotificationStatus) IsTerminal() bool {
	switch s {
	case NotificationStatusDelivered, NotificationStatusSuppressed,
		NotificationStatusFailed, NotificationStatusAcknowledged, NotificationStatusCancelled:
		return true
	default:
		return false
	}
}
