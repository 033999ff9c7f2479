package notification

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/application/provider"
	"github.com/notifyx/notifyx/internal/application/queue"
	"github.com/notifyx/notifyx/internal/application/template"
	"github.com/notifyx/notifyx/internal/domain"
)

// RetryConfig controls the delivery retry schedule.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	Jitter       bool          `json:"jitter"`
}

// DefaultRetryConfig returns a sensible default retry schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// WorkerConfig controls the worker pool.
type WorkerConfig struct {
	// MaxConcurrent is the worker count. 0 defaults to the CPU count.
	MaxConcurrent int `json:"max_concurrent"`

	// DeliveryTimeout bounds a single provider call.
	DeliveryTimeout time.Duration `json:"delivery_timeout"`
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxConcurrent:   runtime.NumCPU(),
		DeliveryTimeout: 30 * time.Second,
	}
}

// WorkerPool runs N workers that dequeue the highest-priority message,
// render it, call the provider registry and record the outcome.
// Shutdown is cooperative: workers finish their in-flight message, stop
// dequeuing, and release their slot.
type WorkerPool struct {
	queue     *queue.PriorityQueue
	providers *provider.Registry
	templates *template.Service
	repo      domain.NotificationRepository

	retry  RetryConfig
	config WorkerConfig

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a worker pool. repo may be nil.
func NewWorkerPool(
	q *queue.PriorityQueue,
	providers *provider.Registry,
	templates *template.Service,
	repo domain.NotificationRepository,
	retry RetryConfig,
	config WorkerConfig,
) *WorkerPool {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultWorkerConfig().DeliveryTimeout
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &WorkerPool{
		queue:     q,
		providers: providers,
		templates: templates,
		repo:      repo,
		retry:     retry,
		config:    config,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.MaxConcurrent; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	log.Info().Int("workers", p.config.MaxConcurrent).Msg("worker pool started")
}

// Stop signals the workers and waits for them to exit. It returns false
// when the timeout elapsed before every worker released its slot.
func (p *WorkerPool) Stop(timeout time.Duration) bool {
	if !p.started.Load() || p.cancel == nil {
		return true
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("worker pool stopped")
		return true
	case <-time.After(timeout):
		log.Warn().Msg("worker pool stop timed out")
		return false
	}
}

// run is one worker's loop. Cancellation is checked between messages;
// the in-flight message is always brought to an ack or nack so the
// queue invariant holds.
func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		msg, err := p.queue.Dequeue(ctx)
		if err != nil {
			// Context cancelled: release the slot without dequeuing more.
			return
		}
		p.process(ctx, msg)
	}
}

// process delivers one message and records the outcome.
func (p *WorkerPool) process(ctx context.Context, msg domain.QueueMessage) {
	logger := log.With().
		Str("message_id", msg.ID).
		Str("notification_id", msg.Event.ID).
		Str("tenant_id", msg.TenantID).
		Str("correlation_id", msg.Event.CorrelationID).
		Str("channel", msg.Channel.String()).
		Int("attempt", msg.Attempt).
		Logger()

	if ctx.Err() != nil {
		// Shutting down mid-flight: ack as cancelled so the message does
		// not leak in the in-flight map.
		_ = p.queue.Ack(msg.ID)
		logger.Info().Msg("delivery cancelled during shutdown")
		return
	}

	rendered, err := p.templates.Render(msg.Event, msg.Recipient)
	if err != nil {
		// Template resolution failures are permanent for this message.
		p.recordDelivery(msg, domain.DeliveryResult{
			Success: false, ErrorCode: "TEMPLATE", ErrorMessage: err.Error(),
		})
		_ = p.queue.Nack(msg.ID, false, err.Error(), nil)
		p.failed.Add(1)
		logger.Error().Err(err).Msg("template rendering failed")
		return
	}
	for _, warning := range rendered.Warnings {
		logger.Warn().Str("warning", warning).Msg("template warning")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.DeliveryTimeout)
	result := p.providers.Deliver(callCtx, msg, rendered)
	cancel()

	p.recordDelivery(msg, result)

	if result.Success {
		_ = p.queue.Ack(msg.ID)
		p.delivered.Add(1)
		p.setStatus(msg, domain.NotificationStatusDelivered)
		logger.Info().Str("provider_message_id", result.ProviderMessageID).Msg("message delivered")
		return
	}

	if result.Retryable && msg.Attempt < p.retry.MaxAttempts {
		delay := p.backoff(msg.Attempt)
		next := time.Now().Add(delay)
		_ = p.queue.Nack(msg.ID, true, result.ErrorMessage, &next)
		logger.Warn().
			Dur("retry_in", delay).
			Str("error_code", result.ErrorCode).
			Msg("delivery failed, retry scheduled")
		return
	}

	_ = p.queue.Nack(msg.ID, false, result.ErrorMessage, nil)
	p.failed.Add(1)
	p.setStatus(msg, domain.NotificationStatusFailed)
	logger.Error().
		Str("error_code", result.ErrorCode).
		Str("error", result.ErrorMessage).
		Msg("delivery failed permanently")
}

// backoff computes the delay after the given completed attempt:
// min(maxDelay, initial * multiplier^(attempt-1)), with jitter of at
// most 20% when enabled.
func (p *WorkerPool) backoff(attempt int) time.Duration {
	delay := float64(p.retry.InitialDelay) * math.Pow(p.retry.Multiplier, float64(attempt-1))
	if delay > float64(p.retry.MaxDelay) {
		delay = float64(p.retry.MaxDelay)
	}
	if p.retry.Jitter {
		jitterAmount := delay * 0.2
		jitter := (float64(time.Now().UnixNano()%1000) / 1000) * jitterAmount
		delay += jitter
	}
	return time.Duration(delay)
}

func (p *WorkerPool) recordDelivery(msg domain.QueueMessage, result domain.DeliveryResult) {
	if p.repo == nil {
		return
	}
	d := domain.DeliveryRecord{
		RecipientID: msg.Recipient.ID,
		Channel:     msg.Channel,
		Attempt:     msg.Attempt,
		Result:      result,
		At:          time.Now(),
	}
	if err := p.repo.AppendDelivery(context.Background(), msg.TenantID, msg.Event.ID, d); err != nil {
		log.Error().Err(err).Str("notification_id", msg.Event.ID).Msg("failed to record delivery")
	}
}

func (p *WorkerPool) setStatus(msg domain.QueueMessage, status domain.NotificationStatus) {
	if p.repo == nil {
		return
	}
	if err := p.repo.SetStatus(context.Background(), msg.TenantID, msg.Event.ID, status); err != nil {
		log.Error().Err(err).Str("notification_id", msg.Event.ID).Msg("failed to update notification status")
	}
}

// StatsSnapshot reports worker counters.
type StatsSnapshot struct {
	Workers   int   `json:"workers"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// Stats returns a consistent copy of the worker counters.
func (p *WorkerPool) Stats() StatsSnapshot {
	return StatsSnapshot{
		Workers:   p.config.MaxConcurrent,
		Delivered: p.delivered.Load(),
		Failed:    p.failed.Load(),
	}
}
