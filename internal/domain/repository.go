package domain

import (
	"context"
	"time"
)

// RunFilter narrows run listings.
type RunFilter struct {
	Status   RunStatus
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// NotificationRecord is the persisted view of one ingested notification:
// its current status plus per-target delivery history.
type NotificationRecord struct {
	Event          NotificationEvent  `json:"event"`
	Status         NotificationStatus `json:"status"`
	Deliveries     []DeliveryRecord   `json:"deliveries,omitempty"`
	AcknowledgedBy string             `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time         `json:"acknowledged_at,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// DeliveryRecord is one delivery attempt outcome in a notification's
// history.
type DeliveryRecord struct {
	RecipientID string         `json:"recipient_id"`
	Channel     Channel        `json:"channel"`
	Attempt     int            `json:"attempt"`
	Result      DeliveryResult `json:"result"`
	At          time.Time      `json:"at"`
}

// WorkflowRepository persists workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, w Workflow) error
	Get(ctx context.Context, tenantID, id string) (Workflow, error)
	List(ctx context.Context, tenantID string) ([]Workflow, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// RunRepository persists workflow runs and their node results.
type RunRepository interface {
	SaveRun(ctx context.Context, run WorkflowRun) error
	GetRun(ctx context.Context, tenantID, id string) (WorkflowRun, error)
	ListRuns(ctx context.Context, tenantID, workflowID string, filter RunFilter) ([]WorkflowRun, error)
	SaveNodeResult(ctx context.Context, result NodeExecutionResult) error
	ListNodeResults(ctx context.Context, runID string) ([]NodeExecutionResult, error)
}

// TemplateRepository persists notification templates.
type TemplateRepository interface {
	Save(ctx context.Context, t Template) error
	Get(ctx context.Context, tenantID, id string) (Template, error)
	ListByChannel(ctx context.Context, tenantID string, channel Channel) ([]Template, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// RuleRepository persists tenant rules.
type RuleRepository interface {
	Save(ctx context.Context, r Rule) error
	Get(ctx context.Context, tenantID, id string) (Rule, error)
	List(ctx context.Context, tenantID string) ([]Rule, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// CredentialRepository persists encrypted credentials. Implementations
// never return secret material in cleartext.
type CredentialRepository interface {
	Save(ctx context.Context, c Credential) error
	Get(ctx context.Context, tenantID, id string) (Credential, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// NotificationRepository persists notification status and delivery
// history.
type NotificationRepository interface {
	Save(ctx context.Context, rec NotificationRecord) error
	Get(ctx context.Context, tenantID, id string) (NotificationRecord, error)
	SetStatus(ctx context.Context, tenantID, id string, status NotificationStatus) error
	AppendDelivery(ctx context.Context, tenantID, id string, d DeliveryRecord) error
}

// DLQArchive persists dead-letter entries for operator inspection.
type DLQArchive interface {
	Append(ctx context.Context, entry DLQEntry) error
	List(ctx context.Context, tenantID string, limit int) ([]DLQEntry, error)
}
