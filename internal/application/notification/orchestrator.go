// Package notification wires the delivery pipeline: ingest -> rules ->
// rate limit -> template -> enqueue -> workers -> providers -> ack.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/application/provider"
	"github.com/notifyx/notifyx/internal/application/queue"
	"github.com/notifyx/notifyx/internal/application/ratelimit"
	"github.com/notifyx/notifyx/internal/application/rules"
	"github.com/notifyx/notifyx/internal/application/template"
	"github.com/notifyx/notifyx/internal/domain"
)

// TargetOutcome is the admission result for one (recipient, channel)
// pair.
type TargetOutcome struct {
	RecipientID string         `json:"recipient_id"`
	Channel     domain.Channel `json:"channel"`
	Enqueued    bool           `json:"enqueued"`
	Reason      string         `json:"reason,omitempty"`
}

// SendOutcome summarises ingest of one event.
type SendOutcome struct {
	NotificationID string                    `json:"notification_id"`
	Status         domain.NotificationStatus `json:"status"`
	MatchedRules   []string                  `json:"matched_rules,omitempty"`
	Targets        []TargetOutcome           `json:"per_target_results,omitempty"`
}

// Config holds orchestrator policy knobs.
type Config struct {
	DefaultTenantID string

	// DeadLetterRateLimited routes limiter rejections to the DLQ so
	// operators can inspect them.
	DeadLetterRateLimited bool
}

// Orchestrator runs the notification pipeline of ingest, rule
// evaluation, rate limiting and fan-out into the priority queue.
type Orchestrator struct {
	queue       *queue.PriorityQueue
	dlq         *queue.DeadLetterStore
	rules       *rules.Engine
	escalations *rules.EscalationScheduler
	limiter     *ratelimit.Limiter
	templates   *template.Service
	providers   *provider.Registry
	repo        domain.NotificationRepository

	config Config
	now    func() time.Time
}

// NewOrchestrator wires the pipeline. repo may be nil for standalone
// use. The aggregator's flush handler and the escalation handler are
// installed here so deferred and escalated events re-enter Send.
func NewOrchestrator(
	q *queue.PriorityQueue,
	dlq *queue.DeadLetterStore,
	ruleEngine *rules.Engine,
	aggregator *rules.Aggregator,
	escalations *rules.EscalationScheduler,
	limiter *ratelimit.Limiter,
	templates *template.Service,
	providers *provider.Registry,
	repo domain.NotificationRepository,
	config Config,
) *Orchestrator {
	o := &Orchestrator{
		queue:       q,
		dlq:         dlq,
		rules:       ruleEngine,
		escalations: escalations,
		limiter:     limiter,
		templates:   templates,
		providers:   providers,
		repo:        repo,
		config:      config,
		now:         time.Now,
	}

	if aggregator != nil {
		aggregator.SetFlushHandler(func(event domain.NotificationEvent) {
			if _, err := o.Send(context.Background(), event); err != nil {
				log.Error().Err(err).
					Str("tenant_id", event.TenantID).
					Str("correlation_id", event.CorrelationID).
					Msg("failed to send aggregated event")
			}
		})
	}
	if escalations != nil {
		escalations.SetHandler(func(event domain.NotificationEvent) {
			if _, err := o.Send(context.Background(), event); err != nil {
				log.Error().Err(err).
					Str("tenant_id", event.TenantID).
					Str("correlation_id", event.CorrelationID).
					Msg("failed to send escalation event")
			}
		})
	}
	return o
}

// Send ingests one event and fans it out into the queue.
func (o *Orchestrator) Send(ctx context.Context, event domain.NotificationEvent) (SendOutcome, error) {
	if event.TenantID == "" {
		event.TenantID = o.config.DefaultTenantID
	}
	if err := event.Validate(); err != nil {
		return SendOutcome{}, err
	}
	event = event.Normalize(o.now())

	logger := log.With().
		Str("notification_id", event.ID).
		Str("tenant_id", event.TenantID).
		Str("correlation_id", event.CorrelationID).
		Logger()

	// Rule evaluation. Suppression and deferral short-circuit the
	// pipeline before the limiter is consulted.
	eval, err := o.rules.Evaluate(event)
	if err != nil {
		return SendOutcome{}, err
	}
	event = eval.Event

	switch eval.Verdict {
	case domain.VerdictSuppress:
		logger.Info().Strs("matched_rules", eval.MatchedRules).Msg("event suppressed by rule")
		o.record(ctx, event, domain.NotificationStatusSuppressed)
		return SendOutcome{
			NotificationID: event.ID,
			Status:         domain.NotificationStatusSuppressed,
			MatchedRules:   eval.MatchedRules,
		}, nil

	case domain.VerdictDefer:
		logger.Info().Strs("matched_rules", eval.MatchedRules).Msg("event deferred into aggregation bucket")
		o.record(ctx, event, domain.NotificationStatusDeferred)
		return SendOutcome{
			NotificationID: event.ID,
			Status:         domain.NotificationStatusDeferred,
			MatchedRules:   eval.MatchedRules,
		}, nil
	}

	// Rate limiting. Escalation and aggregation re-entries pass through
	// here as well: the limiter is the single admission point.
	recipientIDs := make([]string, 0, len(event.Recipients))
	for _, r := range event.Recipients {
		recipientIDs = append(recipientIDs, r.ID)
	}
	if err := o.limiter.Check(event.TenantID, recipientIDs); err != nil {
		o.queue.RecordRateLimited()
		logger.Warn().Msg("event rate limited")
		o.record(ctx, event, domain.NotificationStatusRateLimited)
		if o.config.DeadLetterRateLimited && o.dlq != nil {
			o.dlq.Add(domain.QueueMessage{
				ID:         uuid.NewString(),
				TenantID:   event.TenantID,
				Event:      event,
				Priority:   event.Priority,
				EnqueuedAt: o.now(),
				Attempt:    0,
			}, err.Error())
		}
		return SendOutcome{
			NotificationID: event.ID,
			Status:         domain.NotificationStatusRateLimited,
			MatchedRules:   eval.MatchedRules,
		}, nil
	}

	// Fan out one message per (recipient, channel) pair that has a
	// provider.
	outcome := SendOutcome{
		NotificationID: event.ID,
		Status:         domain.NotificationStatusQueued,
		MatchedRules:   eval.MatchedRules,
	}
	enqueued := 0
	for _, recipient := range event.Recipients {
		for _, channel := range event.PreferredChannels {
			target := TargetOutcome{RecipientID: recipient.ID, Channel: channel}

			if !o.providers.HasProvider(channel) {
				target.Reason = "no provider for channel"
				outcome.Targets = append(outcome.Targets, target)
				continue
			}
			if _, reachable := recipient.AddressFor(channel); !reachable {
				target.Reason = "recipient has no address for channel"
				outcome.Targets = append(outcome.Targets, target)
				continue
			}

			msg := domain.QueueMessage{
				ID:           uuid.NewString(),
				TenantID:     event.TenantID,
				Event:        event,
				Recipient:    recipient,
				Channel:      channel,
				Priority:     event.Priority,
				EnqueuedAt:   o.now(),
				ScheduledFor: event.ScheduledFor,
				Attempt:      1,
			}
			if !o.queue.Enqueue(msg) {
				target.Reason = "queue full"
				outcome.Targets = append(outcome.Targets, target)
				continue
			}
			target.Enqueued = true
			outcome.Targets = append(outcome.Targets, target)
			enqueued++
		}
	}

	if enqueued == 0 {
		outcome.Status = domain.NotificationStatusFailed
		logger.Warn().Msg("no deliverable target for event")
	} else {
		logger.Info().Int("targets", enqueued).Msg("event enqueued")
	}
	o.record(ctx, event, outcome.Status)

	// Arm escalations only for accepted events.
	if enqueued > 0 && o.escalations != nil {
		for _, esc := range eval.Escalations {
			o.escalations.Schedule(event, esc)
		}
	}

	return outcome, nil
}

// Ack acknowledges a notification and cancels its pending escalations.
// Acknowledging twice is a no-op. With a repository, an unknown id
// returns the repository's not-found error; without one, Ack only
// cancels escalations.
func (o *Orchestrator) Ack(ctx context.Context, tenantID, notificationID, by string) error {
	if o.escalations != nil {
		o.escalations.Cancel(notificationID)
	}
	if o.repo == nil {
		return nil
	}

	rec, err := o.repo.Get(ctx, tenantID, notificationID)
	if err != nil {
		return err
	}
	if rec.Status == domain.NotificationStatusAcknowledged {
		return nil
	}
	now := o.now()
	rec.Status = domain.NotificationStatusAcknowledged
	rec.AcknowledgedBy = by
	rec.AcknowledgedAt = &now
	rec.UpdatedAt = now
	return o.repo.Save(ctx, rec)
}

// Get returns the persisted record for one notification.
func (o *Orchestrator) Get(ctx context.Context, tenantID, notificationID string) (domain.NotificationRecord, error) {
	if o.repo == nil {
		return domain.NotificationRecord{}, domain.NewDomainError(domain.ErrCodeNotFound,
			"notification history is not persisted in this deployment", nil)
	}
	return o.repo.Get(ctx, tenantID, notificationID)
}

func (o *Orchestrator) record(ctx context.Context, event domain.NotificationEvent, status domain.NotificationStatus) {
	if o.repo == nil {
		return
	}
	rec := domain.NotificationRecord{
		Event:     event,
		Status:    status,
		UpdatedAt: o.now(),
	}
	if err := o.repo.Save(ctx, rec); err != nil {
		log.Error().Err(err).Str("notification_id", event.ID).Msg("failed to persist notification record")
	}
}
