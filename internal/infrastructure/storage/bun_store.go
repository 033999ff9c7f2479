package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/notifyx/notifyx/internal/domain"
)

// BunStore implements the repository contracts over Postgres. Nested
// graph structures are stored as jsonb next to the queryable columns.
type BunStore struct {
	db *bun.DB
}

// NewBunStore opens a Postgres-backed store.
func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db}
}

// DB exposes the underlying bun handle for the db.query adapter.
func (s *BunStore) DB() *bun.DB {
	return s.db
}

// InitSchema creates all tables if they do not exist.
func (s *BunStore) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*WorkflowModel)(nil),
		(*RunModel)(nil),
		(*NodeResultModel)(nil),
		(*TemplateModel)(nil),
		(*RuleModel)(nil),
		(*CredentialModel)(nil),
		(*NotificationModel)(nil),
		(*DLQEntryModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WorkflowModel is the persistence shape of a workflow.
type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID        string                `bun:"id,pk"`
	TenantID  string                `bun:"tenant_id,pk"`
	Name      string                `bun:"name"`
	Version   int                   `bun:"version"`
	Nodes     []domain.WorkflowNode `bun:"nodes,type:jsonb"`
	Edges     []domain.WorkflowEdge `bun:"edges,type:jsonb"`
	Triggers  []string              `bun:"triggers,type:jsonb"`
	Globals   map[string]any        `bun:"globals,type:jsonb"`
	IsActive  bool                  `bun:"is_active"`
	CreatedAt time.Time             `bun:"created_at"`
	UpdatedAt time.Time             `bun:"updated_at"`
}

// NewWorkflowModel maps a domain workflow to its persistence shape.
func NewWorkflowModel(w domain.Workflow) *WorkflowModel {
	return &WorkflowModel{
		ID:        w.ID,
		TenantID:  w.TenantID,
		Name:      w.Name,
		Version:   w.Version,
		Nodes:     w.Nodes,
		Edges:     w.Edges,
		Triggers:  w.Triggers,
		Globals:   w.Globals,
		IsActive:  w.IsActive,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// ToDomain maps the model back to the domain type.
func (m *WorkflowModel) ToDomain() domain.Workflow {
	return domain.Workflow{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Version:   m.Version,
		Nodes:     m.Nodes,
		Edges:     m.Edges,
		Triggers:  m.Triggers,
		Globals:   m.Globals,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// Save persists a workflow definition.
func (s *BunStore) Save(ctx context.Context, w domain.Workflow) error {
	model := NewWorkflowModel(w)
	_, err := s.db.NewInsert().Model(model).
		On("CONFLICT (id, tenant_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("version = EXCLUDED.version").
		Set("nodes = EXCLUDED.nodes").
		Set("edges = EXCLUDED.edges").
		Set("triggers = EXCLUDED.triggers").
		Set("globals = EXCLUDED.globals").
		Set("is_active = EXCLUDED.is_active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// Get returns a workflow by id.
func (s *BunStore) Get(ctx context.Context, tenantID, id string) (domain.Workflow, error) {
	model := new(WorkflowModel)
	err := s.db.NewSelect().Model(model).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, notFound("workflow", id)
	}
	if err != nil {
		return domain.Workflow{}, err
	}
	return model.ToDomain(), nil
}

// List returns the tenant's workflows.
func (s *BunStore) List(ctx context.Context, tenantID string) ([]domain.Workflow, error) {
	var models []WorkflowModel
	err := s.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Workflow, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}

// Delete removes a workflow.
func (s *BunStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.NewDelete().Model((*WorkflowModel)(nil)).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("workflow", id)
	}
	return nil
}

// RunModel is the persistence shape of a workflow run.
type RunModel struct {
	bun.BaseModel `bun:"table:workflow_runs,alias:r"`

	ID          string         `bun:"id,pk"`
	TenantID    string         `bun:"tenant_id"`
	WorkflowID  string         `bun:"workflow_id"`
	Status      string         `bun:"status"`
	Mode        string         `bun:"mode"`
	Input       map[string]any `bun:"input,type:jsonb"`
	Output      map[string]any `bun:"output,type:jsonb"`
	StartTime   time.Time      `bun:"start_time"`
	EndTime     *time.Time     `bun:"end_time"`
	DurationMs  int64          `bun:"duration_ms"`
	TriggeredBy string         `bun:"triggered_by"`
	Error       string         `bun:"error"`
}

// ToDomain maps the model back to the domain type.
func (m *RunModel) ToDomain() domain.WorkflowRun {
	return domain.WorkflowRun{
		ID:          m.ID,
		TenantID:    m.TenantID,
		WorkflowID:  m.WorkflowID,
		Status:      domain.RunStatus(m.Status),
		Mode:        m.Mode,
		Input:       m.Input,
		Output:      m.Output,
		StartTime:   m.StartTime,
		EndTime:     m.EndTime,
		DurationMs:  m.DurationMs,
		TriggeredBy: m.TriggeredBy,
		Error:       m.Error,
	}
}

// SaveRun persists a workflow run.
func (s *BunStore) SaveRun(ctx context.Context, run domain.WorkflowRun) error {
	model := &RunModel{
		ID:          run.ID,
		TenantID:    run.TenantID,
		WorkflowID:  run.WorkflowID,
		Status:      run.Status.String(),
		Mode:        run.Mode,
		Input:       run.Input,
		Output:      run.Output,
		StartTime:   run.StartTime,
		EndTime:     run.EndTime,
		DurationMs:  run.DurationMs,
		TriggeredBy: run.TriggeredBy,
		Error:       run.Error,
	}
	_, err := s.db.NewInsert().Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("output = EXCLUDED.output").
		Set("end_time = EXCLUDED.end_time").
		Set("duration_ms = EXCLUDED.duration_ms").
		Set("error = EXCLUDED.error").
		Exec(ctx)
	return err
}

// GetRun returns a run with its node results.
func (s *BunStore) GetRun(ctx context.Context, tenantID, id string) (domain.WorkflowRun, error) {
	model := new(RunModel)
	err := s.db.NewSelect().Model(model).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return domain.WorkflowRun{}, notFound("run", id)
	}
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	run := model.ToDomain()
	results, err := s.ListNodeResults(ctx, run.ID)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	run.NodeResults = results
	return run, nil
}

// ListRuns returns the runs of one workflow, filtered and paginated.
func (s *BunStore) ListRuns(ctx context.Context, tenantID, workflowID string, filter domain.RunFilter) ([]domain.WorkflowRun, error) {
	q := s.db.NewSelect().Model((*RunModel)(nil)).
		Where("tenant_id = ? AND workflow_id = ?", tenantID, workflowID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status.String())
	}
	if !filter.From.IsZero() {
		q = q.Where("start_time >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("start_time <= ?", filter.To)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	var models []RunModel
	err := q.Order("start_time DESC").
		Limit(pageSize).
		Offset((page-1)*pageSize).
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkflowRun, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}

// NodeResultModel is the persistence shape of one node attempt.
type NodeResultModel struct {
	bun.BaseModel `bun:"table:node_results,alias:nr"`

	RunID        string         `bun:"run_id,pk"`
	NodeID       string         `bun:"node_id,pk"`
	Attempt      int            `bun:"attempt,pk"`
	Status       string         `bun:"status"`
	Input        map[string]any `bun:"input,type:jsonb"`
	Output       map[string]any `bun:"output,type:jsonb"`
	ErrorMessage string         `bun:"error_message"`
	StartTime    time.Time      `bun:"start_time"`
	EndTime      *time.Time     `bun:"end_time"`
}

// SaveNodeResult appends one node execution attempt.
func (s *BunStore) SaveNodeResult(ctx context.Context, result domain.NodeExecutionResult) error {
	model := &NodeResultModel{
		RunID:        result.RunID,
		NodeID:       result.NodeID,
		Attempt:      result.Attempt,
		Status:       result.Status.String(),
		Input:        result.Input,
		Output:       result.Output,
		ErrorMessage: result.ErrorMessage,
		StartTime:    result.StartTime,
		EndTime:      result.EndTime,
	}
	_, err := s.db.NewInsert().Model(model).
		On("CONFLICT (run_id, node_id, attempt) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("output = EXCLUDED.output").
		Set("error_message = EXCLUDED.error_message").
		Set("end_time = EXCLUDED.end_time").
		Exec(ctx)
	return err
}

// ListNodeResults returns the node attempts of one run.
func (s *BunStore) ListNodeResults(ctx context.Context, runID string) ([]domain.NodeExecutionResult, error) {
	var models []NodeResultModel
	err := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.NodeExecutionResult, len(models))
	for i, m := range models {
		out[i] = domain.NodeExecutionResult{
			RunID:        m.RunID,
			NodeID:       m.NodeID,
			Status:       domain.NodeRunStatus(m.Status),
			Input:        m.Input,
			Output:       m.Output,
			ErrorMessage: m.ErrorMessage,
			StartTime:    m.StartTime,
			EndTime:      m.EndTime,
			Attempt:      m.Attempt,
		}
	}
	return out, nil
}

// TemplateModel is the persistence shape of a template.
type TemplateModel struct {
	bun.BaseModel `bun:"table:templates,alias:t"`

	ID              string   `bun:"id,pk"`
	TenantID        string   `bun:"tenant_id,pk"`
	Channel         string   `bun:"channel"`
	SubjectTemplate string   `bun:"subject_template"`
	BodyTemplate    string   `bun:"body_template"`
	Variables       []string `bun:"variables,type:jsonb"`
}

// Templates returns the store's TemplateRepository view.
func (s *BunStore) Templates() domain.TemplateRepository {
	return &bunTemplateRepo{db: s.db}
}

type bunTemplateRepo struct{ db *bun.DB }

func (r *bunTemplateRepo) Save(ctx context.Context, t domain.Template) error {
	model := &TemplateModel{
		ID:              t.ID,
		TenantID:        t.TenantID,
		Channel:         t.Channel.String(),
		SubjectTemplate: t.SubjectTemplate,
		BodyTemplate:    t.BodyTemplate,
		Variables:       t.Variables,
	}
	_, err := r.db.NewInsert().Model(model).
		On("CONFLICT (id, tenant_id) DO UPDATE").
		Set("channel = EXCLUDED.channel").
		Set("subject_template = EXCLUDED.subject_template").
		Set("body_template = EXCLUDED.body_template").
		Set("variables = EXCLUDED.variables").
		Exec(ctx)
	return err
}

func (r *bunTemplateRepo) Get(ctx context.Context, tenantID, id string) (domain.Template, error) {
	model := new(TemplateModel)
	err := r.db.NewSelect().Model(model).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return domain.Template{}, notFound("template", id)
	}
	if err != nil {
		return domain.Template{}, err
	}
	return domain.Template{
		ID:              model.ID,
		TenantID:        model.TenantID,
		Channel:         domain.Channel(model.Channel),
		SubjectTemplate: model.SubjectTemplate,
		BodyTemplate:    model.BodyTemplate,
		Variables:       model.Variables,
	}, nil
}

func (r *bunTemplateRepo) ListByChannel(ctx context.Context, tenantID string, channel domain.Channel) ([]domain.Template, error) {
	var models []TemplateModel
	err := r.db.NewSelect().Model(&models).
		Where("tenant_id = ? AND channel = ?", tenantID, channel.String()).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Template, len(models))
	for i, m := range models {
		out[i] = domain.Template{
			ID:              m.ID,
			TenantID:        m.TenantID,
			Channel:         domain.Channel(m.Channel),
			SubjectTemplate: m.SubjectTemplate,
			BodyTemplate:    m.BodyTemplate,
			Variables:       m.Variables,
		}
	}
	return out, nil
}

func (r *bunTemplateRepo) Delete(ctx context.Context, tenantID, id string) error {
	_, err := r.db.NewDelete().Model((*TemplateModel)(nil)).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Exec(ctx)
	return err
}

// RuleModel is the persistence shape of a rule.
type RuleModel struct {
	bun.BaseModel `bun:"table:rules,alias:rl"`

	ID        string              `bun:"id,pk"`
	TenantID  string              `bun:"tenant_id,pk"`
	Name      string              `bun:"name"`
	Priority  int                 `bun:"priority"`
	Predicate string              `bun:"predicate"`
	Actions   []domain.RuleAction `bun:"actions,type:jsonb"`
	IsEnabled bool                `bun:"is_enabled"`
}

// Rules returns the store's RuleRepository view.
func (s *BunStore) Rules() domain.RuleRepository {
	return &bunRuleRepo{db: s.db}
}

type bunRuleRepo struct{ db *bun.DB }

func (r *bunRuleRepo) Save(ctx context.Context, rule domain.Rule) error {
	model := &RuleModel{
		ID:        rule.ID,
		TenantID:  rule.TenantID,
		Name:      rule.Name,
		Priority:  rule.Priority,
		Predicate: rule.Predicate,
		Actions:   rule.Actions,
		IsEnabled: rule.IsEnabled,
	}
	_, err := r.db.NewInsert().Model(model).
		On("CONFLICT (id, tenant_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("priority = EXCLUDED.priority").
		Set("predicate = EXCLUDED.predicate").
		Set("actions = EXCLUDED.actions").
		Set("is_enabled = EXCLUDED.is_enabled").
		Exec(ctx)
	return err
}

func (r *bunRuleRepo) Get(ctx context.Context, tenantID, id string) (domain.Rule, error) {
	model := new(RuleModel)
	err := r.db.NewSelect().Model(model).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return domain.Rule{}, notFound("rule", id)
	}
	if err != nil {
		return domain.Rule{}, err
	}
	return ruleFromModel(model), nil
}

func (r *bunRuleRepo) List(ctx context.Context, tenantID string) ([]domain.Rule, error) {
	var models []RuleModel
	err := r.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID).
		Order("priority DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Rule, len(models))
	for i := range models {
		out[i] = ruleFromModel(&models[i])
	}
	return out, nil
}

func (r *bunRuleRepo) Delete(ctx context.Context, tenantID, id string) error {
	_, err := r.db.NewDelete().Model((*RuleModel)(nil)).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Exec(ctx)
	return err
}

func ruleFromModel(m *RuleModel) domain.Rule {
	return domain.Rule{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Priority:  m.Priority,
		Predicate: m.Predicate,
		Actions:   m.Actions,
		IsEnabled: m.IsEnabled,
	}
}

// CredentialModel is the persistence shape of a credential. The secret
// column only ever holds ciphertext.
type CredentialModel struct {
	bun.BaseModel `bun:"table:credentials,alias:c"`

	ID              string    `bun:"id,pk"`
	TenantID        string    `bun:"tenant_id,pk"`
	ConnectorType   string    `bun:"connector_type"`
	EncryptedSecret []byte    `bun:"encrypted_secret"`
	Scopes          []string  `bun:"scopes,type:jsonb"`
	CreatedAt       time.Time `bun:"created_at"`
}

// Credentials returns the store's CredentialRepository view.
func (s *BunStore) Credentials() domain.CredentialRepository {
	return &bunCredentialRepo{db: s.db}
}

type bunCredentialRepo struct{ db *bun.DB }

func (r *bunCredentialRepo) Save(ctx context.Context, c domain.Credential) error {
	model := &CredentialModel{
		ID:              c.ID,
		TenantID:        c.TenantID,
		ConnectorType:   c.ConnectorType,
		EncryptedSecret: c.EncryptedSecret,
		Scopes:          c.Scopes,
		CreatedAt:       c.CreatedAt,
	}
	_, err := r.db.NewInsert().Model(model).
		On("CONFLICT (id, tenant_id) DO UPDATE").
		Set("encrypted_secret = EXCLUDED.encrypted_secret").
		Set("scopes = EXCLUDED.scopes").
		Exec(ctx)
	return err
}

func (r *bunCredentialRepo) Get(ctx context.Context, tenantID, id string) (domain.Credential, error) {
	model := new(CredentialModel)
	err := r.db.NewSelect().Model(model).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return domain.Credential{}, notFound("credential", id)
	}
	if err != nil {
		return domain.Credential{}, err
	}
	return domain.Credential{
		ID:              model.ID,
		TenantID:        model.TenantID,
		ConnectorType:   model.ConnectorType,
		EncryptedSecret: model.EncryptedSecret,
		Scopes:          model.Scopes,
		CreatedAt:       model.CreatedAt,
	}, nil
}

func (r *bunCredentialRepo) Delete(ctx context.Context, tenantID, id string) error {
	_, err := r.db.NewDelete().Model((*CredentialModel)(nil)).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Exec(ctx)
	return err
}

// NotificationModel is the persistence shape of a notification record.
type NotificationModel struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID             string                   `bun:"id,pk"`
	TenantID       string                   `bun:"tenant_id,pk"`
	Event          domain.NotificationEvent `bun:"event,type:jsonb"`
	Status         string                   `bun:"status"`
	Deliveries     []domain.DeliveryRecord  `bun:"deliveries,type:jsonb"`
	AcknowledgedBy string                   `bun:"acknowledged_by"`
	AcknowledgedAt *time.Time               `bun:"acknowledged_at"`
	UpdatedAt      time.Time                `bun:"updated_at"`
}

// Notifications returns the store's NotificationRepository view.
func (s *BunStore) Notifications() domain.NotificationRepository {
	return &bunNotificationRepo{db: s.db}
}

type bunNotificationRepo struct{ db *bun.DB }

func (r *bunNotificationRepo) Save(ctx context.Context, rec domain.NotificationRecord) error {
	model := &NotificationModel{
		ID:             rec.Event.ID,
		TenantID:       rec.Event.TenantID,
		Event:          rec.Event,
		Status:         rec.Status.String(),
		Deliveries:     rec.Deliveries,
		AcknowledgedBy: rec.AcknowledgedBy,
		AcknowledgedAt: rec.AcknowledgedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	_, err := r.db.NewInsert().Model(model).
		On("CONFLICT (id, tenant_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("acknowledged_by = EXCLUDED.acknowledged_by").
		Set("acknowledged_at = EXCLUDED.acknowledged_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *bunNotificationRepo) Get(ctx context.Context, tenantID, id string) (domain.NotificationRecord, error) {
	model := new(NotificationModel)
	err := r.db.NewSelect().Model(model).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return domain.NotificationRecord{}, notFound("notification", id)
	}
	if err != nil {
		return domain.NotificationRecord{}, err
	}
	return domain.NotificationRecord{
		Event:          model.Event,
		Status:         domain.NotificationStatus(model.Status),
		Deliveries:     model.Deliveries,
		AcknowledgedBy: model.AcknowledgedBy,
		AcknowledgedAt: model.AcknowledgedAt,
		UpdatedAt:      model.UpdatedAt,
	}, nil
}

func (r *bunNotificationRepo) SetStatus(ctx context.Context, tenantID, id string, status domain.NotificationStatus) error {
	res, err := r.db.NewUpdate().Model((*NotificationModel)(nil)).
		Set("status = ?", status.String()).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("notification", id)
	}
	return nil
}

func (r *bunNotificationRepo) AppendDelivery(ctx context.Context, tenantID, id string, d domain.DeliveryRecord) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		model := new(NotificationModel)
		err := tx.NewSelect().Model(model).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			For("UPDATE").
			Scan(ctx)
		if err == sql.ErrNoRows {
			return notFound("notification", id)
		}
		if err != nil {
			return err
		}
		model.Deliveries = append(model.Deliveries, d)
		_, err = tx.NewUpdate().Model(model).
			Set("deliveries = ?", model.Deliveries).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			Exec(ctx)
		return err
	})
}

// DLQEntryModel is the persistence shape of a dead-letter entry.
type DLQEntryModel struct {
	bun.BaseModel `bun:"table:dlq_entries,alias:d"`

	MessageID string              `bun:"message_id,pk"`
	TenantID  string              `bun:"tenant_id"`
	Message   domain.QueueMessage `bun:"message,type:jsonb"`
	LastError string              `bun:"last_error"`
	Attempts  int                 `bun:"attempts"`
	FirstSeen time.Time           `bun:"first_seen"`
	LastSeen  time.Time           `bun:"last_seen"`
}

// DLQ returns the store's DLQArchive view.
func (s *BunStore) DLQ() domain.DLQArchive {
	return &bunDLQArchive{db: s.db}
}

type bunDLQArchive struct{ db *bun.DB }

func (a *bunDLQArchive) Append(ctx context.Context, entry domain.DLQEntry) error {
	model := &DLQEntryModel{
		MessageID: entry.Message.ID,
		TenantID:  entry.Message.TenantID,
		Message:   entry.Message,
		LastError: entry.LastError,
		Attempts:  entry.Attempts,
		FirstSeen: entry.FirstSeen,
		LastSeen:  entry.LastSeen,
	}
	_, err := a.db.NewInsert().Model(model).
		On("CONFLICT (message_id) DO UPDATE").
		Set("last_error = EXCLUDED.last_error").
		Set("attempts = EXCLUDED.attempts").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(ctx)
	return err
}

func (a *bunDLQArchive) List(ctx context.Context, tenantID string, limit int) ([]domain.DLQEntry, error) {
	q := a.db.NewSelect().Model((*DLQEntryModel)(nil))
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []DLQEntryModel
	if err := q.Order("last_seen DESC").Scan(ctx, &models); err != nil {
		return nil, err
	}
	out := make([]domain.DLQEntry, len(models))
	for i, m := range models {
		out[i] = domain.DLQEntry{
			Message:   m.Message,
			LastError: m.LastError,
			Attempts:  m.Attempts,
			FirstSeen: m.FirstSeen,
			LastSeen:  m.LastSeen,
		}
	}
	return out, nil
}
