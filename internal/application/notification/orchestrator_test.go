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
	"github.com/notifyx/notifyx/internal/application/ratelimit"
	"github.com/notifyx/notifyx/internal/application/rules"
	"github.com/notifyx/notifyx/internal/application/template"
	"github.com/notifyx/notifyx/internal/domain"
	"github.com/notifyx/notifyx/internal/infrastructure/storage"
)

// captureProvider records every send it receives.
type captureProvider struct {
	mu      sync.Mutex
	channel domain.Channel
	result  domain.DeliveryResult
	sent    []domain.RenderResult
}

func newCaptureProvider(channel domain.Channel) *captureProvider {
	return &captureProvider{
		channel: channel,
		result:  domain.DeliveryResult{Success: true, ProviderMessageID: "pm-1"},
	}
}

func (p *captureProvider) Name() string            { return "capture-" + p.channel.String() }
func (p *captureProvider) Channel() domain.Channel { return p.channel }

func (p *captureProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	if _, ok := recipient.AddressFor(p.channel); !ok {
		return domain.ValidationResult{Valid: false, Errors: []string{"no address"}}
	}
	return domain.ValidationResult{Valid: true}
}

func (p *captureProvider) Send(ctx context.Context, event domain.NotificationEvent, recipient domain.NotificationRecipient, rendered domain.RenderResult) domain.DeliveryResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, rendered)
	return p.result
}

func (p *captureProvider) Health() domain.HealthStatus           { return domain.HealthStatusHealthy }
func (p *captureProvider) Configure(config map[string]any) error { return nil }

func (p *captureProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// pipeline bundles a fully wired notification core for tests.
type pipeline struct {
	queue        *queue.PriorityQueue
	dlq          *queue.DeadLetterStore
	orchestrator *Orchestrator
	escalations  *rules.EscalationScheduler
	ruleEngine   *rules.Engine
	provider     *captureProvider
	store        *storage.MemoryStore
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	dlq := queue.NewDeadLetterStore(0, nil)
	pq := queue.New(queue.Config{PollInterval: 5 * time.Millisecond}, dlq)
	limiter := ratelimit.New(ratelimit.Config{
		Enabled:   true,
		Tenant:    ratelimit.Limits{PerMinute: 1000},
		Recipient: ratelimit.Limits{PerMinute: 1000},
	})
	store := storage.NewMemoryStore()
	templates := template.NewService(store.Templates())
	aggregator := rules.NewAggregator()
	escalations := rules.NewEscalationScheduler()
	ruleEngine := rules.NewEngine(store.Rules(), aggregator)

	providers := provider.NewRegistry(provider.DefaultBreakerConfig())
	capture := newCaptureProvider(domain.ChannelEmail)
	providers.Register(capture)

	orchestrator := NewOrchestrator(
		pq, dlq, ruleEngine, aggregator, escalations, limiter, templates, providers,
		store.Notifications(),
		Config{DefaultTenantID: "default"},
	)
	return &pipeline{
		queue:        pq,
		dlq:          dlq,
		orchestrator: orchestrator,
		escalations:  escalations,
		ruleEngine:   ruleEngine,
		provider:     capture,
		store:        store,
	}
}

func welcomeEvent() domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:        "n1",
		TenantID:  "t",
		EventType: "welcome",
		Priority:  domain.PriorityNormal,
		Subject:   "Hi",
		Content:   "Hello {{name}}",
		Recipients: []domain.NotificationRecipient{
			{ID: "r1", Email: "a@x", Metadata: map[string]any{"name": "A"}},
		},
		PreferredChannels: []domain.Channel{domain.ChannelEmail},
	}
}

func TestSendEnqueuesOneMessagePerTarget(t *testing.T) {
	p := newPipeline(t)

	outcome, err := p.orchestrator.Send(context.Background(), welcomeEvent())
	require.NoError(t, err)
	assert.Equal(t, "n1", outcome.NotificationID)
	assert.Equal(t, domain.NotificationStatusQueued, outcome.Status)
	require.Len(t, outcome.Targets, 1)
	assert.True(t, outcome.Targets[0].Enqueued)
	assert.Equal(t, 1, p.queue.TotalLength())
}

func TestSendValidatesEvent(t *testing.T) {
	p := newPipeline(t)

	event := welcomeEvent()
	event.Recipients = nil
	_, err := p.orchestrator.Send(context.Background(), event)
	require.Error(t, err)
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestSendAssignsIDWhenAbsent(t *testing.T) {
	p := newPipeline(t)

	event := welcomeEvent()
	event.ID = ""
	outcome, err := p.orchestrator.Send(context.Background(), event)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.NotificationID)
}

func TestSuppressedEventCreatesNoMessages(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.ruleEngine.Save(context.Background(), domain.Rule{
		TenantID: "t", ID: "mute", Priority: 10,
		Predicate: `eventType == "noise"`,
		Actions:   []domain.RuleAction{{Type: domain.RuleActionSuppress}},
		IsEnabled: true,
	}))

	event := welcomeEvent()
	event.EventType = "noise"
	outcome, err := p.orchestrator.Send(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusSuppressed, outcome.Status)
	assert.Zero(t, p.queue.TotalLength(), "suppressed events enqueue nothing")
	assert.Zero(t, p.provider.sentCount(), "suppressed events reach no provider")

	rec, err := p.store.Notifications().Get(context.Background(), "t", "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusSuppressed, rec.Status)
}

func TestRateLimitedOutcome(t *testing.T) {
	dlq := queue.NewDeadLetterStore(0, nil)
	pq := queue.New(queue.DefaultConfig(), dlq)
	limiter := ratelimit.New(ratelimit.Config{
		Enabled: true,
		Tenant:  ratelimit.Limits{PerMinute: 1},
	})
	store := storage.NewMemoryStore()
	aggregator := rules.NewAggregator()
	providers := provider.NewRegistry(provider.DefaultBreakerConfig())
	providers.Register(newCaptureProvider(domain.ChannelEmail))

	orchestrator := NewOrchestrator(
		pq, dlq, rules.NewEngine(store.Rules(), aggregator), aggregator,
		rules.NewEscalationScheduler(), limiter,
		template.NewService(nil), providers, store.Notifications(),
		Config{DefaultTenantID: "default"},
	)

	first := welcomeEvent()
	_, err := orchestrator.Send(context.Background(), first)
	require.NoError(t, err)

	second := welcomeEvent()
	second.ID = "n2"
	outcome, err := orchestrator.Send(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusRateLimited, outcome.Status)
	assert.Equal(t, 1, pq.TotalLength(), "rate limited event adds nothing to the queue")
	assert.Equal(t, int64(1), pq.Stats().TotalRateLimited)
}

func TestTargetWithoutProviderIsReported(t *testing.T) {
	p := newPipeline(t)

	event := welcomeEvent()
	event.PreferredChannels = []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}
	event.Recipients[0].PhoneNumber = "+15550001"

	outcome, err := p.orchestrator.Send(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, outcome.Targets, 2)

	byChannel := map[domain.Channel]TargetOutcome{}
	for _, target := range outcome.Targets {
		byChannel[target.Channel] = target
	}
	assert.True(t, byChannel[domain.ChannelEmail].Enqueued)
	assert.False(t, byChannel[domain.ChannelSMS].Enqueued)
	assert.Equal(t, "no provider for channel", byChannel[domain.ChannelSMS].Reason)
}

func TestAckIsIdempotentAndCancelsEscalations(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.ruleEngine.Save(context.Background(), domain.Rule{
		TenantID: "t", ID: "escalate", Priority: 10,
		Predicate: `eventType == "welcome"`,
		Actions: []domain.RuleAction{{
			Type:  domain.RuleActionEscalate,
			After: time.Hour,
		}},
		IsEnabled: true,
	}))

	_, err := p.orchestrator.Send(context.Background(), welcomeEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, p.escalations.PendingCount())

	require.NoError(t, p.orchestrator.Ack(context.Background(), "t", "n1", "ops"))
	assert.Zero(t, p.escalations.PendingCount())

	rec, err := p.store.Notifications().Get(context.Background(), "t", "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusAcknowledged, rec.Status)

	// Second ack is a no-op.
	require.NoError(t, p.orchestrator.Ack(context.Background(), "t", "n1", "ops"))
}

func TestDefaultTenantApplied(t *testing.T) {
	p := newPipeline(t)
	event := welcomeEvent()
	event.TenantID = ""

	outcome, err := p.orchestrator.Send(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusQueued, outcome.Status)

	msg, ok := p.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "default", msg.TenantID)
}
