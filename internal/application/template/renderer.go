// Package template stores per-tenant, per-channel notification templates
// and renders them with {{path}} substitution from event metadata and
// recipient fields.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/notifyx/notifyx/internal/domain"
)

// tokenPattern matches {{path}} placeholders.
var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Renderer substitutes {{path}} tokens. Rendering is side-effect-free:
// missing tokens render as empty strings and produce warnings, never
// failures.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render renders the template's subject and body against the event and
// one recipient. Token lookup order: event metadata, then recipient
// fields, then event fields.
func (r *Renderer) Render(
	t domain.Template,
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
) domain.RenderResult {
	vars := buildVariables(event, recipient)

	result := domain.RenderResult{}
	result.Body, result.Warnings = r.renderString(t.BodyTemplate, vars, result.Warnings)
	if t.SubjectTemplate != "" {
		result.Subject, result.Warnings = r.renderString(t.SubjectTemplate, vars, result.Warnings)
	}
	return result
}

// RenderString renders a bare template string against an event and
// recipient. Used by adapters that template config values with the same
// scheme.
func (r *Renderer) RenderString(
	s string,
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
) (string, []string) {
	return r.renderString(s, buildVariables(event, recipient), nil)
}

func (r *Renderer) renderString(s string, vars map[string]any, warnings []string) (string, []string) {
	if !strings.Contains(s, "{{") {
		return s, warnings
	}

	out := tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		value := lookupPath(vars, path)
		if value == nil {
			warnings = append(warnings, "missing template variable: "+path)
			return ""
		}
		return fmt.Sprint(value)
	})
	return out, warnings
}

// buildVariables assembles the lookup scope for one (event, recipient)
// pair. Metadata wins over recipient fields, which win over event
// fields.
func buildVariables(event domain.NotificationEvent, recipient domain.NotificationRecipient) map[string]any {
	vars := map[string]any{
		"event": map[string]any{
			"id":         event.ID,
			"event_type": event.EventType,
			"subject":    event.Subject,
			"title":      event.Title,
			"source":     event.Source,
		},
		"recipient": map[string]any{
			"id":    recipient.ID,
			"name":  recipient.Name,
			"email": recipient.Email,
			"phone": recipient.PhoneNumber,
		},
	}
	if recipient.Name != "" {
		vars["name"] = recipient.Name
	}
	if recipient.Email != "" {
		vars["email"] = recipient.Email
	}
	for k, v := range recipient.Metadata {
		vars[k] = v
	}
	for k, v := range event.Metadata {
		vars[k] = v
	}
	return vars
}

// lookupPath resolves dotted paths ("user.name") through nested maps.
func lookupPath(vars map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}
