// Package provider maps channels to delivery providers and guards sends
// with per-provider circuit breakers.
package provider

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/domain"
)

// Provider is a pluggable delivery sink for one channel.
type Provider interface {
	// Name identifies the provider in logs and results
	Name() string

	// Channel returns the channel this provider serves
	Channel() domain.Channel

	// Validate checks the (event, recipient) pair before sending
	Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult

	// Send delivers the rendered message to one recipient
	Send(ctx context.Context, event domain.NotificationEvent, recipient domain.NotificationRecipient, rendered domain.RenderResult) domain.DeliveryResult

	// Health reports the provider's current health
	Health() domain.HealthStatus

	// Configure applies channel configuration
	Configure(config map[string]any) error
}

// Registry maps channel -> ordered providers. Reads take the lock
// briefly to copy the slice header; provider lists are replaced, never
// mutated in place.
type Registry struct {
	mu         sync.RWMutex
	providers  map[domain.Channel][]Provider
	breakers   map[string]*CircuitBreaker
	breakerCfg BreakerConfig
}

// NewRegistry creates an empty provider registry.
func NewRegistry(breakerCfg BreakerConfig) *Registry {
	return &Registry{
		providers:  make(map[domain.Channel][]Provider),
		breakers:   make(map[string]*CircuitBreaker),
		breakerCfg: breakerCfg,
	}
}

// Register appends a provider for its channel.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.providers[p.Channel()]
	updated := make([]Provider, 0, len(existing)+1)
	updated = append(updated, existing...)
	updated = append(updated, p)
	r.providers[p.Channel()] = updated
	if _, ok := r.breakers[p.Name()]; !ok {
		r.breakers[p.Name()] = NewCircuitBreaker(r.breakerCfg)
	}
	log.Info().Str("provider", p.Name()).Str("channel", p.Channel().String()).Msg("provider registered")
}

// ProvidersFor returns the providers registered for a channel.
func (r *Registry) ProvidersFor(channel domain.Channel) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[channel]
}

// HasProvider reports whether any provider serves the channel.
func (r *Registry) HasProvider(channel domain.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers[channel]) > 0
}

// breaker returns the circuit breaker for a provider name.
func (r *Registry) breaker(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Deliver picks the first available provider for the message's channel,
// validates, and sends through its circuit breaker. Validation failures
// produce a permanent (non-retryable) result; an open circuit produces a
// transient one.
func (r *Registry) Deliver(
	ctx context.Context,
	msg domain.QueueMessage,
	rendered domain.RenderResult,
) domain.DeliveryResult {
	providers := r.ProvidersFor(msg.Channel)
	if len(providers) == 0 {
		return domain.DeliveryResult{
			Success:      false,
			ErrorCode:    "NO_PROVIDER",
			ErrorMessage: "no provider registered for channel " + msg.Channel.String(),
			Retryable:    false,
		}
	}

	var picked Provider
	for _, p := range providers {
		if p.Health() != domain.HealthStatusUnhealthy {
			picked = p
			break
		}
	}
	if picked == nil {
		// Everything unhealthy: try the first anyway rather than dropping
		// the message on a health-check false negative.
		picked = providers[0]
	}

	if validation := picked.Validate(msg.Event, msg.Recipient); !validation.Valid {
		return domain.DeliveryResult{
			Success:      false,
			ErrorCode:    "VALIDATION_FAILED",
			ErrorMessage: joinErrors(validation.Errors),
			Retryable:    false,
		}
	}

	cb := r.breaker(picked.Name())
	if cb != nil && !cb.Allow() {
		return domain.DeliveryResult{
			Success:      false,
			ErrorCode:    "CIRCUIT_OPEN",
			ErrorMessage: "circuit breaker open for provider " + picked.Name(),
			Retryable:    true,
		}
	}

	result := picked.Send(ctx, msg.Event, msg.Recipient, rendered)
	if cb != nil {
		// Only transient failures trip the breaker; permanent rejections
		// say nothing about provider availability.
		if result.Success || !result.Retryable {
			cb.RecordSuccess()
		} else {
			cb.RecordFailure()
		}
	}
	return result
}

// Health aggregates provider health per channel.
func (r *Registry) Health() map[string]domain.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.HealthStatus)
	for _, providers := range r.providers {
		for _, p := range providers {
			out[p.Name()] = p.Health()
		}
	}
	return out
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
