// Package storage provides the in-memory and Postgres implementations
// of the repository contracts.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/notifyx/notifyx/internal/domain"
)

// MemoryStore implements every repository contract in memory. It backs
// tests and standalone deployments without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	workflows     map[string]domain.Workflow              // tenant\x00id
	runs          map[string]domain.WorkflowRun           // tenant\x00id
	nodeResults   map[string][]domain.NodeExecutionResult // runID
	templates     map[string]domain.Template              // tenant\x00id
	rules         map[string]domain.Rule                  // tenant\x00id
	credentials   map[string]domain.Credential            // tenant\x00id
	notifications map[string]domain.NotificationRecord    // tenant\x00id
	dlq           []domain.DLQEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:     make(map[string]domain.Workflow),
		runs:          make(map[string]domain.WorkflowRun),
		nodeResults:   make(map[string][]domain.NodeExecutionResult),
		templates:     make(map[string]domain.Template),
		rules:         make(map[string]domain.Rule),
		credentials:   make(map[string]domain.Credential),
		notifications: make(map[string]domain.NotificationRecord),
	}
}

func key(tenantID, id string) string {
	return tenantID + "\x00" + id
}

func notFound(kind, id string) error {
	return domain.NewDomainError(domain.ErrCodeNotFound, kind+" "+id+" not found", nil)
}

// Save persists a workflow definition.
func (s *MemoryStore) Save(ctx context.Context, w domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[key(w.TenantID, w.ID)] = w
	return nil
}

// Get returns a workflow by id.
func (s *MemoryStore) Get(ctx context.Context, tenantID, id string) (domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[key(tenantID, id)]
	if !ok {
		return domain.Workflow{}, notFound("workflow", id)
	}
	return w, nil
}

// List returns the tenant's workflows.
func (s *MemoryStore) List(ctx context.Context, tenantID string) ([]domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Workflow
	for _, w := range s.workflows {
		if w.TenantID == tenantID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a workflow.
func (s *MemoryStore) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenantID, id)
	if _, ok := s.workflows[k]; !ok {
		return notFound("workflow", id)
	}
	delete(s.workflows, k)
	return nil
}

// SaveRun persists a workflow run.
func (s *MemoryStore) SaveRun(ctx context.Context, run domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[key(run.TenantID, run.ID)] = run
	return nil
}

// GetRun returns a run by id.
func (s *MemoryStore) GetRun(ctx context.Context, tenantID, id string) (domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[key(tenantID, id)]
	if !ok {
		return domain.WorkflowRun{}, notFound("run", id)
	}
	run.NodeResults = append([]domain.NodeExecutionResult(nil), s.nodeResults[run.ID]...)
	return run, nil
}

// ListRuns returns the runs of one workflow, filtered and paginated.
func (s *MemoryStore) ListRuns(ctx context.Context, tenantID, workflowID string, filter domain.RunFilter) ([]domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.WorkflowRun
	for _, run := range s.runs {
		if run.TenantID != tenantID || run.WorkflowID != workflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && run.StartTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && run.StartTime.After(filter.To) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(out) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

// SaveNodeResult appends one node execution attempt.
func (s *MemoryStore) SaveNodeResult(ctx context.Context, result domain.NodeExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeResults[result.RunID] = append(s.nodeResults[result.RunID], result)
	return nil
}

// ListNodeResults returns the node attempts of one run.
func (s *MemoryStore) ListNodeResults(ctx context.Context, runID string) ([]domain.NodeExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.NodeExecutionResult(nil), s.nodeResults[runID]...), nil
}

// saveTemplate persists a template. The templateRepo adapter below
// exposes it as TemplateRepository.Save.
func (s *MemoryStore) saveTemplate(t domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[key(t.TenantID, t.ID)] = t
}

// Templates returns the store's TemplateRepository view.
func (s *MemoryStore) Templates() domain.TemplateRepository {
	return &templateRepo{store: s}
}

type templateRepo struct{ store *MemoryStore }

func (r *templateRepo) Save(ctx context.Context, t domain.Template) error {
	r.store.saveTemplate(t)
	return nil
}

func (r *templateRepo) Get(ctx context.Context, tenantID, id string) (domain.Template, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.templates[key(tenantID, id)]
	if !ok {
		return domain.Template{}, notFound("template", id)
	}
	return t, nil
}

func (r *templateRepo) ListByChannel(ctx context.Context, tenantID string, channel domain.Channel) ([]domain.Template, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Template
	for _, t := range r.store.templates {
		if t.TenantID == tenantID && t.Channel == channel {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *templateRepo) Delete(ctx context.Context, tenantID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.templates, key(tenantID, id))
	return nil
}

// Rules returns the store's RuleRepository view.
func (s *MemoryStore) Rules() domain.RuleRepository {
	return &ruleRepo{store: s}
}

type ruleRepo struct{ store *MemoryStore }

func (r *ruleRepo) Save(ctx context.Context, rule domain.Rule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.rules[key(rule.TenantID, rule.ID)] = rule
	return nil
}

func (r *ruleRepo) Get(ctx context.Context, tenantID, id string) (domain.Rule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rule, ok := r.store.rules[key(tenantID, id)]
	if !ok {
		return domain.Rule{}, notFound("rule", id)
	}
	return rule, nil
}

func (r *ruleRepo) List(ctx context.Context, tenantID string) ([]domain.Rule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Rule
	for _, rule := range r.store.rules {
		if rule.TenantID == tenantID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *ruleRepo) Delete(ctx context.Context, tenantID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.rules, key(tenantID, id))
	return nil
}

// Credentials returns the store's CredentialRepository view.
func (s *MemoryStore) Credentials() domain.CredentialRepository {
	return &credentialRepo{store: s}
}

type credentialRepo struct{ store *MemoryStore }

func (r *credentialRepo) Save(ctx context.Context, c domain.Credential) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.credentials[key(c.TenantID, c.ID)] = c
	return nil
}

func (r *credentialRepo) Get(ctx context.Context, tenantID, id string) (domain.Credential, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.credentials[key(tenantID, id)]
	if !ok {
		return domain.Credential{}, notFound("credential", id)
	}
	return c, nil
}

func (r *credentialRepo) Delete(ctx context.Context, tenantID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.credentials, key(tenantID, id))
	return nil
}

// Notifications returns the store's NotificationRepository view.
func (s *MemoryStore) Notifications() domain.NotificationRepository {
	return &notificationRepo{store: s}
}

type notificationRepo struct{ store *MemoryStore }

func (r *notificationRepo) Save(ctx context.Context, rec domain.NotificationRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := key(rec.Event.TenantID, rec.Event.ID)
	if existing, ok := r.store.notifications[k]; ok {
		// Keep accumulated delivery history on re-save.
		rec.Deliveries = existing.Deliveries
	}
	r.store.notifications[k] = rec
	return nil
}

func (r *notificationRepo) Get(ctx context.Context, tenantID, id string) (domain.NotificationRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.notifications[key(tenantID, id)]
	if !ok {
		return domain.NotificationRecord{}, notFound("notification", id)
	}
	return rec, nil
}

func (r *notificationRepo) SetStatus(ctx context.Context, tenantID, id string, status domain.NotificationStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := key(tenantID, id)
	rec, ok := r.store.notifications[k]
	if !ok {
		return notFound("notification", id)
	}
	rec.Status = status
	r.store.notifications[k] = rec
	return nil
}

func (r *notificationRepo) AppendDelivery(ctx context.Context, tenantID, id string, d domain.DeliveryRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := key(tenantID, id)
	rec, ok := r.store.notifications[k]
	if !ok {
		return notFound("notification", id)
	}
	rec.Deliveries = append(rec.Deliveries, d)
	r.store.notifications[k] = rec
	return nil
}

// DLQ returns the store's DLQArchive view.
func (s *MemoryStore) DLQ() domain.DLQArchive {
	return &dlqArchive{store: s}
}

type dlqArchive struct{ store *MemoryStore }

func (a *dlqArchive) Append(ctx context.Context, entry domain.DLQEntry) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.dlq = append(a.store.dlq, entry)
	return nil
}

func (a *dlqArchive) List(ctx context.Context, tenantID string, limit int) ([]domain.DLQEntry, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	var out []domain.DLQEntry
	for _, entry := range a.store.dlq {
		if tenantID != "" && entry.Message.TenantID != tenantID {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
