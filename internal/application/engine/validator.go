package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/notifyx/notifyx/internal/application/registry"
	"github.com/notifyx/notifyx/internal/domain"
)

// Severity grades a validation diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one validator finding. Diagnostics come back in check
// order so callers can show the first blocking problem first.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeID   string   `json:"edge_id,omitempty"`
	Message  string   `json:"message"`
}

// CredentialChecker resolves whether a credential id exists for a
// tenant.
type CredentialChecker interface {
	CredentialExists(ctx context.Context, tenantID, credentialID string) bool
}

// Validator checks workflows against the connector registry before they
// are saved or executed.
type Validator struct {
	registry    *registry.Registry
	credentials CredentialChecker
}

// NewValidator creates a validator. credentials may be nil, which skips
// the credential check.
func NewValidator(reg *registry.Registry, credentials CredentialChecker) *Validator {
	return &Validator{registry: reg, credentials: credentials}
}

// Validate runs all checks in order: trigger presence, registered node
// types, config schemas, edge endpoints, acyclicity, credential
// references.
func (v *Validator) Validate(ctx context.Context, w domain.Workflow) []Diagnostic {
	var diags []Diagnostic

	// V1: at least one trigger node; active workflows need exactly one
	// trigger. Trigger reachability is not checked.
	triggers := v.triggerNodes(w)
	if len(triggers) == 0 {
		diags = append(diags, Diagnostic{
			Code: "V1", Severity: SeverityError,
			Message: "workflow has no trigger node",
		})
	} else if w.IsActive && len(triggers) > 1 {
		diags = append(diags, Diagnostic{
			Code: "V1", Severity: SeverityError,
			Message: fmt.Sprintf("active workflow must have exactly one trigger, found %d", len(triggers)),
		})
	}

	// V2: every node type is a registered connector.
	for _, n := range w.Nodes {
		if !v.registry.Has(n.Type) {
			diags = append(diags, Diagnostic{
				Code: "V2", Severity: SeverityError, NodeID: n.ID,
				Message: fmt.Sprintf("node type %q is not a registered connector", n.Type),
			})
		}
	}

	// V3: node configs validate against the connector's input schema.
	for _, n := range w.Nodes {
		manifest, ok := v.registry.Latest(n.Type)
		if !ok || len(manifest.InputSchema) == 0 {
			continue
		}
		if err := validateConfigSchema(manifest, n.Config); err != nil {
			diags = append(diags, Diagnostic{
				Code: "V3", Severity: SeverityError, NodeID: n.ID,
				Message: fmt.Sprintf("config does not match %s input schema: %v", manifest.Ref(), err),
			})
		}
	}

	// V4: every edge endpoint exists.
	nodeIDs := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		nodeIDs[n.ID] = true
	}
	for _, e := range w.Edges {
		if !nodeIDs[e.From] {
			diags = append(diags, Diagnostic{
				Code: "V4", Severity: SeverityError, EdgeID: e.ID,
				Message: fmt.Sprintf("edge references unknown source node %s", e.From),
			})
		}
		if !nodeIDs[e.To] {
			diags = append(diags, Diagnostic{
				Code: "V4", Severity: SeverityError, EdgeID: e.ID,
				Message: fmt.Sprintf("edge references unknown target node %s", e.To),
			})
		}
	}

	// V5: top-level acyclicity. Declared loop back-edges are exempt;
	// BuildGraph already excludes them.
	if !hasDiagnostic(diags, "V4") {
		if _, err := BuildGraph(w); err != nil {
			diags = append(diags, Diagnostic{
				Code: "V5", Severity: SeverityError,
				Message: err.Error(),
			})
		}
	}

	// V6: credential references resolve for the tenant.
	if v.credentials != nil {
		for _, n := range w.Nodes {
			if n.CredentialID == "" {
				continue
			}
			if !v.credentials.CredentialExists(ctx, w.TenantID, n.CredentialID) {
				diags = append(diags, Diagnostic{
					Code: "V6", Severity: SeverityError, NodeID: n.ID,
					Message: fmt.Sprintf("credential %s does not resolve for tenant", n.CredentialID),
				})
			}
		}
	}

	return diags
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func hasDiagnostic(diags []Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

// triggerNodes returns the workflow nodes whose connector manifests
// declare the trigger type. The workflow's declared trigger list is
// honoured when the registry does not know the type yet.
func (v *Validator) triggerNodes(w domain.Workflow) []domain.WorkflowNode {
	declared := make(map[string]bool, len(w.Triggers))
	for _, id := range w.Triggers {
		declared[id] = true
	}

	var out []domain.WorkflowNode
	for _, n := range w.Nodes {
		if manifest, ok := v.registry.Latest(n.Type); ok {
			if manifest.Type == domain.ConnectorTypeTrigger {
				out = append(out, n)
			}
			continue
		}
		if declared[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// validateConfigSchema compiles the manifest's input schema and checks
// the node config against it.
func validateConfigSchema(manifest domain.ConnectorManifest, config map[string]any) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifest.InputSchema))
	if err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest://"+manifest.Ref(), doc); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	schema, err := compiler.Compile("manifest://" + manifest.Ref())
	if err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}

	value := make(map[string]any, len(config))
	for k, v := range config {
		value[k] = v
	}
	return schema.Validate(value)
}
