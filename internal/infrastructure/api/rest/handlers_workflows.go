package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/notifyx/notifyx/internal/application/engine"
	"github.com/notifyx/notifyx/internal/domain"
)

// WorkflowRequest is the request body for creating or updating a
// workflow.
type WorkflowRequest struct {
	Name     string                `json:"name"`
	Nodes    []domain.WorkflowNode `json:"nodes"`
	Edges    []domain.WorkflowEdge `json:"edges"`
	Triggers []string              `json:"triggers,omitempty"`
	Globals  map[string]any        `json:"globals,omitempty"`
	IsActive bool                  `json:"is_active"`
}

// WorkflowResponse wraps a workflow with its validation diagnostics.
type WorkflowResponse struct {
	Workflow    domain.Workflow     `json:"workflow"`
	Diagnostics []engine.Diagnostic `json:"diagnostics,omitempty"`
}

// ImportDocument is the import/export file format.
type ImportDocument struct {
	Workflow   domain.Workflow        `json:"workflow"`
	Connectors []domain.DependencyRef `json:"connectors"`
	Lockfile   domain.Lockfile        `json:"lockfile,omitempty"`
}

// validateAndResolve runs the validator and the dependency resolver
// over a workflow. Validation errors map to 400, resolution failures to
// 409.
func (s *Server) validateAndResolve(
	w http.ResponseWriter,
	r *http.Request,
	workflow domain.Workflow,
	lock domain.Lockfile,
) ([]engine.Diagnostic, map[string]string, bool) {
	diags := s.services.Validator.Validate(r.Context(), workflow)
	if engine.HasErrors(diags) {
		writeJSON(w, http.StatusBadRequest, WorkflowResponse{Workflow: workflow, Diagnostics: diags})
		return nil, nil, false
	}

	var requirements []domain.DependencyRef
	for _, ref := range workflow.ConnectorRefs() {
		requirements = append(requirements, domain.DependencyRef{ID: ref, Range: "*"})
	}
	result := s.services.Resolver.Resolve(requirements, lock, domain.StrategyHighestCompatible)
	if !result.Success {
		writeDomainError(w, domain.NewResolutionError(result.ErrorMessage))
		return nil, nil, false
	}
	return diags, result.ResolvedVersions, true
}

// handleCreateWorkflow creates a workflow after validating and
// resolving its connector set.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var req WorkflowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeDomainError(w, domain.NewValidationError("name", "workflow name is required"))
		return
	}

	now := time.Now()
	workflow := domain.Workflow{
		ID:        uuid.NewString(),
		TenantID:  principal.TenantID,
		Name:      req.Name,
		Version:   1,
		Nodes:     normalizeNodes(req.Nodes),
		Edges:     normalizeEdges(req.Edges),
		Triggers:  req.Triggers,
		Globals:   req.Globals,
		IsActive:  req.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	diags, _, ok := s.validateAndResolve(w, r, workflow, nil)
	if !ok {
		return
	}
	if err := s.services.Workflows.Save(r.Context(), workflow); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, WorkflowResponse{Workflow: workflow, Diagnostics: diags})
}

// handleGetWorkflow returns one workflow.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	workflow, err := s.services.Workflows.Get(r.Context(), principal.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

// handleUpdateWorkflow replaces a workflow's definition, bumping its
// version.
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	existing, err := s.services.Workflows.Get(r.Context(), principal.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req WorkflowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated := existing
	if req.Name != "" {
		updated.Name = req.Name
	}
	updated.Nodes = normalizeNodes(req.Nodes)
	updated.Edges = normalizeEdges(req.Edges)
	updated.Triggers = req.Triggers
	updated.Globals = req.Globals
	updated.IsActive = req.IsActive
	updated.Version = existing.Version + 1
	updated.UpdatedAt = time.Now()

	diags, _, ok := s.validateAndResolve(w, r, updated, nil)
	if !ok {
		return
	}
	if err := s.services.Workflows.Save(r.Context(), updated); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkflowResponse{Workflow: updated, Diagnostics: diags})
}

// handleDeleteWorkflow removes a workflow.
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	if err := s.services.Workflows.Delete(r.Context(), principal.TenantID, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleImportWorkflow imports a workflow document: validate, then
// resolve against the embedded lockfile.
func (s *Server) handleImportWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var doc ImportDocument
	if !decodeBody(w, r, &doc) {
		return
	}

	workflow := doc.Workflow
	workflow.TenantID = principal.TenantID
	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}
	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	if workflow.Version == 0 {
		workflow.Version = 1
	}

	diags, resolved, ok := s.validateAndResolve(w, r, workflow, doc.Lockfile)
	if !ok {
		return
	}
	if err := s.services.Workflows.Save(r.Context(), workflow); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"workflow":    workflow,
		"diagnostics": diags,
		"resolved":    resolved,
	})
}

// handleExportWorkflow exports a workflow as its import document: a
// pure snapshot of the definition, its connector refs and a lockfile of
// currently-resolved versions.
func (s *Server) handleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	workflow, err := s.services.Workflows.Get(r.Context(), principal.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var requirements []domain.DependencyRef
	for _, ref := range workflow.ConnectorRefs() {
		requirements = append(requirements, domain.DependencyRef{ID: ref, Range: "*"})
	}
	result := s.services.Resolver.Resolve(requirements, nil, domain.StrategyHighestCompatible)

	doc := ImportDocument{
		Workflow:   workflow,
		Connectors: requirements,
	}
	if result.Success {
		doc.Lockfile = result.ResolvedVersions
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleListConnectors returns the connector registry document.
func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Connectors.Document())
}

// normalizeNodes fills node defaults the canvas usually omits.
func normalizeNodes(nodes []domain.WorkflowNode) []domain.WorkflowNode {
	out := make([]domain.WorkflowNode, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		out[i] = n
	}
	return out
}

func normalizeEdges(edges []domain.WorkflowEdge) []domain.WorkflowEdge {
	out := make([]domain.WorkflowEdge, len(edges))
	for i, e := range edges {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		out[i] = e
	}
	return out
}
