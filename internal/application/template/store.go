package template

import (
	"context"
	"sync"

	"github.com/notifyx/notifyx/internal/domain"
)

// Service stores templates keyed by (tenant, id) and renders them
// against events. It fronts a TemplateRepository when one is supplied
// and keeps an in-process index for lookups on the hot path.
type Service struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]domain.Template // tenant -> id -> template
	repo     domain.TemplateRepository
	renderer *Renderer
}

// NewService creates a template service. repo may be nil for standalone
// use.
func NewService(repo domain.TemplateRepository) *Service {
	return &Service{
		byTenant: make(map[string]map[string]domain.Template),
		repo:     repo,
		renderer: NewRenderer(),
	}
}

// Save validates and stores a template.
func (s *Service) Save(ctx context.Context, t domain.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, t); err != nil {
			return err
		}
	}
	s.mu.Lock()
	tenant, ok := s.byTenant[t.TenantID]
	if !ok {
		tenant = make(map[string]domain.Template)
		s.byTenant[t.TenantID] = tenant
	}
	tenant[t.ID] = t
	s.mu.Unlock()
	return nil
}

// Get returns one template by id.
func (s *Service) Get(tenantID, id string) (domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.byTenant[tenantID]
	if ok {
		if t, ok := tenant[id]; ok {
			return t, nil
		}
	}
	return domain.Template{}, domain.NewDomainError(domain.ErrCodeNotFound,
		"template "+id+" not found for tenant "+tenantID, nil)
}

// ListByChannel returns the tenant's templates for one channel.
func (s *Service) ListByChannel(tenantID string, channel domain.Channel) []domain.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Template
	for _, t := range s.byTenant[tenantID] {
		if t.Channel == channel {
			out = append(out, t)
		}
	}
	return out
}

// Delete removes a template.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if s.repo != nil {
		if err := s.repo.Delete(ctx, tenantID, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant, ok := s.byTenant[tenantID]; ok {
		delete(tenant, id)
	}
	return nil
}

// Render resolves templateID for the tenant and renders it against the
// event and recipient. When the event carries no template id, the
// event's own subject and content pass through the renderer unchanged
// so inline {{path}} tokens still resolve.
func (s *Service) Render(
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
) (domain.RenderResult, error) {
	if event.TemplateID == "" {
		body, warnings := s.renderer.RenderString(event.Content, event, recipient)
		subject, warnings2 := s.renderer.RenderString(event.Subject, event, recipient)
		return domain.RenderResult{
			Subject:  subject,
			Body:     body,
			Warnings: append(warnings, warnings2...),
		}, nil
	}

	t, err := s.Get(event.TenantID, event.TemplateID)
	if err != nil {
		return domain.RenderResult{}, err
	}
	return s.renderer.Render(t, event, recipient), nil
}
