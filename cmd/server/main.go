package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/application/engine"
	"github.com/notifyx/notifyx/internal/application/events"
	"github.com/notifyx/notifyx/internal/application/notification"
	"github.com/notifyx/notifyx/internal/application/provider"
	"github.com/notifyx/notifyx/internal/application/queue"
	"github.com/notifyx/notifyx/internal/application/ratelimit"
	"github.com/notifyx/notifyx/internal/application/registry"
	"github.com/notifyx/notifyx/internal/application/rules"
	"github.com/notifyx/notifyx/internal/application/template"
	"github.com/notifyx/notifyx/internal/domain"
	"github.com/notifyx/notifyx/internal/infrastructure/api/rest"
	"github.com/notifyx/notifyx/internal/infrastructure/config"
	"github.com/notifyx/notifyx/internal/infrastructure/crypto"
	"github.com/notifyx/notifyx/internal/infrastructure/logger"
	"github.com/notifyx/notifyx/internal/infrastructure/storage"
	"github.com/notifyx/notifyx/internal/infrastructure/websocket"
)

// repositories is the storage-backed slice of the service graph,
// satisfied by both MemoryStore and BunStore.
type repositories struct {
	workflows     domain.WorkflowRepository
	runs          domain.RunRepository
	templates     domain.TemplateRepository
	rules         domain.RuleRepository
	credentials   domain.CredentialRepository
	notifications domain.NotificationRepository
	dlqArchive    domain.DLQArchive
	db            engine.Querier
}

func main() {
	cfg := config.Load()
	logg := logger.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos := buildRepositories(ctx, cfg)

	// Notification core.
	dlq := queue.NewDeadLetterStore(cfg.Queue.DLQMaxEntries, repos.dlqArchive)
	pq := queue.New(queue.Config{
		MaxPending:   cfg.Queue.MaxPending,
		PollInterval: cfg.Queue.PollInterval,
	}, dlq)

	limiter := ratelimit.New(ratelimit.Config{
		Enabled: cfg.RateLimit.Enabled,
		Tenant: ratelimit.Limits{
			PerMinute: cfg.RateLimit.TenantPerMinute,
			PerHour:   cfg.RateLimit.TenantPerHour,
			PerDay:    cfg.RateLimit.TenantPerDay,
		},
		Recipient: ratelimit.Limits{
			PerMinute: cfg.RateLimit.RecipientPerMinute,
			PerHour:   cfg.RateLimit.RecipientPerHour,
			PerDay:    cfg.RateLimit.RecipientPerDay,
		},
	})

	templates := template.NewService(repos.templates)
	aggregator := rules.NewAggregator()
	escalations := rules.NewEscalationScheduler()
	ruleEngine := rules.NewEngine(repos.rules, aggregator)

	providers := provider.NewRegistry(provider.DefaultBreakerConfig())
	registerProviders(providers)

	orchestrator := notification.NewOrchestrator(
		pq, dlq, ruleEngine, aggregator, escalations, limiter, templates, providers,
		repos.notifications,
		notification.Config{DefaultTenantID: cfg.DefaultTenantID},
	)

	workers := notification.NewWorkerPool(
		pq, providers, templates, repos.notifications,
		notification.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       true,
		},
		notification.WorkerConfig{
			MaxConcurrent:   cfg.Worker.MaxConcurrent,
			DeliveryTimeout: cfg.Worker.DeliveryTimeout,
		},
	)
	workers.Start(ctx)

	// Workflow core.
	connectors := registry.NewRegistry()
	for _, manifest := range engine.BuiltinManifests() {
		if err := connectors.Register(manifest); err != nil {
			log.Fatal().Err(err).Str("connector", manifest.Ref()).Msg("failed to register builtin connector")
		}
	}
	resolver := registry.NewResolver(connectors)

	var credentialService *storage.CredentialService
	if cfg.EncryptionKey != "" {
		encryption, err := crypto.NewEncryptionServiceFromBase64(cfg.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid encryption key")
		}
		credentialService = storage.NewCredentialService(repos.credentials, encryption)
	} else {
		log.Warn().Msg("NOTIFYX__ENCRYPTIONKEY not set, credential-backed connectors disabled")
	}

	adapters := engine.NewAdapterRegistry()
	engine.RegisterBuiltinAdapters(adapters, orchestrator, repos.db)

	bus := events.NewBus()
	var credentialSource engine.CredentialSource
	var credentialChecker engine.CredentialChecker
	if credentialService != nil {
		credentialSource = credentialService
		credentialChecker = credentialService
	}
	wfEngine := engine.NewEngine(repos.workflows, repos.runs, bus, adapters, credentialSource, engine.DefaultConfig())
	validator := engine.NewValidator(connectors, credentialChecker)

	// Realtime push.
	wsAuth := websocket.NewJWTAuth(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	hub := websocket.NewHub(bus, wsAuth, &runAuthorizer{repos: repos}, logg)
	go hub.Run(ctx)

	server := rest.NewServer(rest.Services{
		Orchestrator: orchestrator,
		Workers:      workers,
		Queue:        pq,
		DLQ:          dlq,
		Limiter:      limiter,
		Templates:    templates,
		Rules:        ruleEngine,
		Providers:    providers,
		Workflows:    repos.workflows,
		Runs:         repos.runs,
		Engine:       wfEngine,
		Validator:    validator,
		Connectors:   connectors,
		Resolver:     resolver,
		Realtime:     hub,
	}, rest.AuthConfig{
		JWTSecret:   cfg.JWT.SecretKey,
		JWTIssuer:   cfg.JWT.Issuer,
		JWTAudience: cfg.JWT.Audience,
	}, logg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	workers.Stop(10 * time.Second)
	aggregator.FlushAll()
}

// buildRepositories selects the Postgres store when a DSN is
// configured, the in-memory store otherwise.
func buildRepositories(ctx context.Context, cfg *config.Config) repositories {
	if cfg.DatabaseDSN == "" {
		log.Info().Msg("no DATABASE_DSN, using in-memory storage")
		mem := storage.NewMemoryStore()
		return repositories{
			workflows:     mem,
			runs:          mem,
			templates:     mem.Templates(),
			rules:         mem.Rules(),
			credentials:   mem.Credentials(),
			notifications: mem.Notifications(),
			dlqArchive:    mem.DLQ(),
		}
	}

	store := storage.NewBunStore(cfg.DatabaseDSN)
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init database schema")
	}
	return repositories{
		workflows:     store,
		runs:          store,
		templates:     store.Templates(),
		rules:         store.Rules(),
		credentials:   store.Credentials(),
		notifications: store.Notifications(),
		dlqArchive:    store.DLQ(),
		db:            store.DB(),
	}
}

// registerProviders configures every provider that has channel config
// in the environment. Unconfigured providers stay unregistered so the
// orchestrator reports "no provider" for their channels.
func registerProviders(providers *provider.Registry) {
	if from := os.Getenv("NOTIFYX__EMAIL__FROMADDRESS"); from != "" {
		p := provider.NewEmailProvider()
		if err := p.Configure(map[string]any{
			"api_key":      os.Getenv("NOTIFYX__EMAIL__APIKEY"),
			"from_address": from,
		}); err == nil {
			providers.Register(p)
		}
	}
	if sid := os.Getenv("NOTIFYX__SMS__ACCOUNTSID"); sid != "" {
		p := provider.NewSMSProvider()
		if err := p.Configure(map[string]any{
			"account_sid": sid,
			"auth_token":  os.Getenv("NOTIFYX__SMS__AUTHTOKEN"),
			"from_number": os.Getenv("NOTIFYX__SMS__FROMNUMBER"),
		}); err == nil {
			providers.Register(p)
		}
	}
	if key := os.Getenv("NOTIFYX__PUSH__SERVERKEY"); key != "" {
		p := provider.NewPushProvider()
		if err := p.Configure(map[string]any{"server_key": key}); err == nil {
			providers.Register(p)
		}
	}
	if token := os.Getenv("NOTIFYX__SLACK__BOTTOKEN"); token != "" {
		p := provider.NewSlackProvider()
		if err := p.Configure(map[string]any{"bot_token": token}); err == nil {
			providers.Register(p)
		}
	}
	// Webhook delivery needs no upstream account.
	webhook := provider.NewWebhookProvider()
	_ = webhook.Configure(map[string]any{
		"signing_secret": os.Getenv("NOTIFYX__WEBHOOK__SIGNINGSECRET"),
	})
	providers.Register(webhook)
}

// runAuthorizer gates realtime subscriptions on repository lookups.
type runAuthorizer struct {
	repos repositories
}

func (a *runAuthorizer) CanAccessRun(ctx context.Context, tenantID, runID string) bool {
	_, err := a.repos.runs.GetRun(ctx, tenantID, runID)
	return err == nil
}

func (a *runAuthorizer) CanAccessWorkflow(ctx context.Context, tenantID, workflowID string) bool {
	_, err := a.repos.workflows.Get(ctx, tenantID, workflowID)
	return err == nil
}
