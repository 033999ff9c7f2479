package rest

import (
	"net/http"

	"github.com/notifyx/notifyx/internal/domain"
)

// handleSendNotification ingests one event through the orchestrator.
func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	if !principal.HasPermission(domain.PermissionNotifySend) && !principal.HasRole(domain.RoleTenantAdmin) {
		writeError(w, http.StatusForbidden, domain.ErrCodeForbidden, "notify:send permission required")
		return
	}

	var event domain.NotificationEvent
	if !decodeBody(w, r, &event) {
		return
	}
	event.ID = "" // ids are assigned server-side
	event.TenantID = principal.TenantID
	if event.Priority == "" {
		event.Priority = domain.PriorityNormal
	}

	outcome, err := s.services.Orchestrator.Send(r.Context(), event)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	switch outcome.Status {
	case domain.NotificationStatusRateLimited:
		status = http.StatusTooManyRequests
	case domain.NotificationStatusSuppressed, domain.NotificationStatusDeferred,
		domain.NotificationStatusFailed:
		status = http.StatusOK
	}
	writeJSON(w, status, outcome)
}

// handleGetNotification returns a notification's status and delivery
// history.
func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id := r.PathValue("id")

	rec, err := s.services.Orchestrator.Get(r.Context(), principal.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAckNotification acknowledges a notification. Idempotent.
func (s *Server) handleAckNotification(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id := r.PathValue("id")

	if err := s.services.Orchestrator.Ack(r.Context(), principal.TenantID, id, principal.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notification_id": id,
		"status":          domain.NotificationStatusAcknowledged,
	})
}

// handleListDLQ enumerates the tenant's dead-letter entries. System
// admins see every tenant.
func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	tenantID := principal.TenantID
	if principal.HasRole(domain.RoleSystemAdmin) && r.URL.Query().Get("all") == "true" {
		tenantID = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.services.DLQ.List(tenantID),
	})
}

// handleStats returns a JSON snapshot of queue, worker, limiter and DLQ
// counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":       s.services.Queue.Stats(),
		"workers":     s.services.Workers.Stats(),
		"rate_limits": s.services.Limiter.Stats(),
		"dlq_size":    s.services.DLQ.Len(),
	})
}
