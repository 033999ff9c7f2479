package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/notifyx/notifyx/internal/domain"
)

// StartRunRequest is the request body for triggering a run.
type StartRunRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

// handleStartRun triggers a run of one workflow.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	workflow, err := s.services.Workflows.Get(r.Context(), principal.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req StartRunRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	run, err := s.services.Engine.StartRun(r.Context(), workflow, req.Input, "manual", principal.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// handleListRuns lists runs of one workflow with status/time/page
// filters.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	query := r.URL.Query()

	filter := domain.RunFilter{
		Status: domain.RunStatus(query.Get("status")),
	}
	if from := query.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := query.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}
	if page := query.Get("page"); page != "" {
		filter.Page, _ = strconv.Atoi(page)
	}

	runs, err := s.services.Runs.ListRuns(r.Context(), principal.TenantID, r.PathValue("id"), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "page": filter.Page})
}

// handleGetRun returns one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	run, err := s.services.Runs.GetRun(r.Context(), principal.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetRunNodes returns the node execution results of one run.
func (s *Server) handleGetRunNodes(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id := r.PathValue("id")

	// Tenancy check before reading results.
	if _, err := s.services.Runs.GetRun(r.Context(), principal.TenantID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	results, err := s.services.Runs.ListNodeResults(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": results})
}

// handleReplayRun re-executes a run from the beginning under a fresh
// id.
func (s *Server) handleReplayRun(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var req StartRunRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	run, err := s.services.Engine.Replay(r.Context(), principal.TenantID, r.PathValue("id"), req.Input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// handleCancelRun requests cooperative cancellation.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id := r.PathValue("id")

	run, err := s.services.Runs.GetRun(r.Context(), principal.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if run.Status.IsTerminal() {
		writeError(w, http.StatusConflict, domain.ErrCodeInvalidState, "run is already terminal")
		return
	}

	if !s.services.Engine.Cancel(id) {
		writeError(w, http.StatusConflict, domain.ErrCodeInvalidState, "run is not executing on this instance")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
