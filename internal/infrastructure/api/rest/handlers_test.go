package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	"github.com/notifyx/notifyx/internal/infrastructure/storage"
)

const testSecret = "handler-test-secret"

// nullProvider accepts everything and reports success without I/O.
type nullProvider struct{ channel domain.Channel }

func (p *nullProvider) Name() string            { return "null-" + p.channel.String() }
func (p *nullProvider) Channel() domain.Channel { return p.channel }
func (p *nullProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	return domain.ValidationResult{Valid: true}
}
func (p *nullProvider) Send(ctx context.Context, event domain.NotificationEvent, recipient domain.NotificationRecipient, rendered domain.RenderResult) domain.DeliveryResult {
	return domain.DeliveryResult{Success: true, ProviderMessageID: "null-1"}
}
func (p *nullProvider) Health() domain.HealthStatus           { return domain.HealthStatusHealthy }
func (p *nullProvider) Configure(config map[string]any) error { return nil }

type fixture struct {
	server *Server
	store  *storage.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()

	dlq := queue.NewDeadLetterStore(0, nil)
	pq := queue.New(queue.Config{PollInterval: 5 * time.Millisecond}, dlq)
	limiter := ratelimit.New(ratelimit.Config{
		Enabled: true,
		Tenant:  ratelimit.Limits{PerMinute: 1000},
	})
	templates := template.NewService(store.Templates())
	aggregator := rules.NewAggregator()
	ruleEngine := rules.NewEngine(store.Rules(), aggregator)

	providers := provider.NewRegistry(provider.DefaultBreakerConfig())
	providers.Register(&nullProvider{channel: domain.ChannelEmail})

	orchestrator := notification.NewOrchestrator(
		pq, dlq, ruleEngine, aggregator, rules.NewEscalationScheduler(),
		limiter, templates, providers, store.Notifications(),
		notification.Config{DefaultTenantID: "default"},
	)
	workers := notification.NewWorkerPool(pq, providers, templates, store.Notifications(),
		notification.DefaultRetryConfig(),
		notification.WorkerConfig{MaxConcurrent: 1, DeliveryTimeout: time.Second})

	connectors := registry.NewRegistry()
	for _, m := range engine.BuiltinManifests() {
		require.NoError(t, connectors.Register(m))
	}
	resolver := registry.NewResolver(connectors)

	adapters := engine.NewAdapterRegistry()
	engine.RegisterBuiltinAdapters(adapters, orchestrator, nil)
	bus := events.NewBus()
	wfEngine := engine.NewEngine(store, store, bus, adapters, nil, engine.Config{
		MaxParallelNodes:   2,
		DefaultNodeTimeout: time.Second,
		RunTimeout:         5 * time.Second,
	})

	server := NewServer(Services{
		Orchestrator: orchestrator,
		Workers:      workers,
		Queue:        pq,
		DLQ:          dlq,
		Limiter:      limiter,
		Templates:    templates,
		Rules:        ruleEngine,
		Providers:    providers,
		Workflows:    store,
		Runs:         store,
		Engine:       wfEngine,
		Validator:    engine.NewValidator(connectors, nil),
		Connectors:   connectors,
		Resolver:     resolver,
	}, AuthConfig{
		JWTSecret:   testSecret,
		JWTIssuer:   "notifyx",
		JWTAudience: "notifyx-api",
		APIKeys: StaticAPIKeys{
			"svc-key": {TenantID: "t1", UserID: "service", Roles: []string{domain.RoleTenantAdmin}},
		},
	}, zerolog.Nop())

	return &fixture{server: server, store: store}
}

func token(t *testing.T, tenantID string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"tenant_id": tenantID,
		"sub":       "user-1",
		"roles":     roles,
		"iss":       "notifyx",
		"aud":       "notifyx-api",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func notificationBody() map[string]any {
	return map[string]any{
		"event_type": "welcome",
		"priority":   "normal",
		"subject":    "Hi",
		"content":    "Hello {{name}}",
		"recipients": []map[string]any{
			{"id": "r1", "email": "a@x", "metadata": map[string]any{"name": "A"}},
		},
		"preferred_channels": []string{"email"},
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/notifications", "", notificationBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuthentication(t *testing.T) {
	f := newFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	r.Header.Set("X-API-Key", "svc-key")
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSendNotificationEndpoint(t *testing.T) {
	f := newFixture(t)
	bearer := token(t, "t1", domain.RoleTenantAdmin)

	w := f.do(t, http.MethodPost, "/api/notifications", bearer, notificationBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	outcome := decode[notification.SendOutcome](t, w)
	assert.NotEmpty(t, outcome.NotificationID)
	assert.Equal(t, domain.NotificationStatusQueued, outcome.Status)
	require.Len(t, outcome.Targets, 1)
	assert.True(t, outcome.Targets[0].Enqueued)

	// Status endpoint sees the persisted record.
	w = f.do(t, http.MethodGet, "/api/notifications/"+outcome.NotificationID, bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Ack is idempotent.
	w = f.do(t, http.MethodPost, "/api/notifications/"+outcome.NotificationID+"/ack", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/api/notifications/"+outcome.NotificationID+"/ack", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSendNotificationRequiresPermission(t *testing.T) {
	f := newFixture(t)
	bearer := token(t, "t1") // no roles, no permissions

	w := f.do(t, http.MethodPost, "/api/notifications", bearer, notificationBody())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSendNotificationValidation(t *testing.T) {
	f := newFixture(t)
	bearer := token(t, "t1", domain.RoleTenantAdmin)

	body := notificationBody()
	delete(body, "recipients")
	w := f.do(t, http.MethodPost, "/api/notifications", bearer, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func workflowBody() map[string]any {
	return map[string]any{
		"name": "demo",
		"nodes": []map[string]any{
			{"id": "trigger", "type": "trigger.manual", "is_enabled": true},
			{"id": "set", "type": "data.set", "is_enabled": true,
				"config": map[string]any{"assignments": map[string]any{"x": "1"}}},
		},
		"edges": []map[string]any{
			{"id": "e1", "from": "trigger", "to": "set"},
		},
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	f := newFixture(t)
	bearer := token(t, "t1", domain.RoleTenantAdmin)

	w := f.do(t, http.MethodPost, "/api/workflows", bearer, workflowBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[WorkflowResponse](t, w)
	workflowID := created.Workflow.ID
	require.NotEmpty(t, workflowID)
	assert.Equal(t, 1, created.Workflow.Version)

	w = f.do(t, http.MethodGet, "/api/workflows/"+workflowID, bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Update bumps the version.
	w = f.do(t, http.MethodPut, "/api/workflows/"+workflowID, bearer, workflowBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[WorkflowResponse](t, w)
	assert.Equal(t, 2, updated.Workflow.Version)

	// Export produces the import document with a lockfile.
	w = f.do(t, http.MethodGet, "/api/workflows/"+workflowID+"/export", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported := decode[ImportDocument](t, w)
	assert.Equal(t, workflowID, exported.Workflow.ID)
	assert.NotEmpty(t, exported.Lockfile["trigger.manual"])

	w = f.do(t, http.MethodDelete, "/api/workflows/"+workflowID, bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/api/workflows/"+workflowID, bearer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowValidationFailure(t *testing.T) {
	f := newFixture(t)
	bearer := token(t, "t1", domain.RoleTenantAdmin)

	body := workflowBody()
	body["nodes"] = []map[string]any{
		{"id": "set", "type": "data.set", "is_enabled": true,
			"config": map[string]any{"assignments": map[string]any{}}},
	}
	body["edges"] = []map[string]any{}

	w := f.do(t, http.MethodPost, "/api/workflows", bearer, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[WorkflowResponse](t, w)
	require.NotEmpty(t, resp.Diagnostics)
	assert.Equal(t, "V1", resp.Diagnostics[0].Code)
}

func TestRunLifecycle(t *testing.T) {
	f := newFixture(t)
	bearer := token(t, "t1", domain.RoleTenantAdmin)

	w := f.do(t, http.MethodPost, "/api/workflows", bearer, workflowBody())
	require.Equal(t, http.StatusCreated, w.Code)
	workflowID := decode[WorkflowResponse](t, w).Workflow.ID

	w = f.do(t, http.MethodPost, "/api/workflows/"+workflowID+"/runs", bearer,
		map[string]any{"input": map[string]any{"x": 1}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := decode[map[string]any](t, w)
	runID, _ := started["run_id"].(string)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		run, err := f.store.GetRun(context.Background(), "t1", runID)
		return err == nil && run.Status == domain.RunStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/runs/"+runID, bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	run := decode[domain.WorkflowRun](t, w)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	w = f.do(t, http.MethodGet, "/api/runs/"+runID+"/nodes", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/workflows/"+workflowID+"/runs?status=completed", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Replay produces a fresh run id.
	w = f.do(t, http.MethodPost, "/api/runs/"+runID+"/replay", bearer, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	replayed := decode[map[string]any](t, w)
	assert.NotEqual(t, runID, replayed["run_id"])

	// Cancelling a terminal run conflicts.
	w = f.do(t, http.MethodPost, "/api/runs/"+runID+"/cancel", bearer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTenantIsolationOnRuns(t *testing.T) {
	f := newFixture(t)
	owner := token(t, "t1", domain.RoleTenantAdmin)
	intruder := token(t, "t2", domain.RoleTenantAdmin)

	w := f.do(t, http.MethodPost, "/api/workflows", owner, workflowBody())
	require.Equal(t, http.StatusCreated, w.Code)
	workflowID := decode[WorkflowResponse](t, w).Workflow.ID

	w = f.do(t, http.MethodGet, "/api/workflows/"+workflowID, intruder, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "cross-tenant reads come back as not found")
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "Healthy", health.Status)
	assert.NotEmpty(t, health.Checks)

	w = f.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConnectorListing(t *testing.T) {
	f := newFixture(t)
	bearer := token(t, "t1")

	w := f.do(t, http.MethodGet, "/api/connectors", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[domain.RegistryDocument](t, w)
	assert.NotEmpty(t, doc.Connectors)
}
