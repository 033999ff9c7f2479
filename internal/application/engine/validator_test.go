package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyx/notifyx/internal/application/registry"
	"github.com/notifyx/notifyx/internal/domain"
)

func builtinRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry()
	for _, m := range BuiltinManifests() {
		require.NoError(t, reg.Register(m))
	}
	return reg
}

func validWorkflow() domain.Workflow {
	trigger := node("trigger", TypeManualTrigger)
	set := node("set", TypeSetData)
	set.Config = map[string]any{"assignments": map[string]any{"x": 1}}
	return domain.Workflow{
		ID: "wf", TenantID: "t1", Name: "wf",
		Nodes: []domain.WorkflowNode{trigger, set},
		Edges: []domain.WorkflowEdge{edge("trigger", "set")},
	}
}

func codes(diags []Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func TestValidatorAcceptsValidWorkflow(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	diags := v.Validate(context.Background(), validWorkflow())
	assert.Empty(t, diags)
}

func TestValidatorRequiresTrigger(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	w := validWorkflow()
	w.Nodes = w.Nodes[1:] // drop the trigger
	w.Edges = nil

	diags := v.Validate(context.Background(), w)
	assert.Contains(t, codes(diags), "V1")
}

func TestValidatorActiveWorkflowSingleTrigger(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	w := validWorkflow()
	w.IsActive = true
	w.Nodes = append(w.Nodes, node("trigger2", TypeManualTrigger))

	diags := v.Validate(context.Background(), w)
	assert.Contains(t, codes(diags), "V1")
}

func TestValidatorUnknownConnector(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	w := validWorkflow()
	w.Nodes = append(w.Nodes, node("mystery", "vendor.unknown"))

	diags := v.Validate(context.Background(), w)
	assert.Contains(t, codes(diags), "V2")
}

func TestValidatorConfigSchema(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	w := validWorkflow()
	// http.request requires a url.
	http := node("http", TypeHTTPRequest)
	http.Config = map[string]any{"method": "GET"}
	w.Nodes = append(w.Nodes, http)
	w.Edges = append(w.Edges, edge("set", "http"))

	diags := v.Validate(context.Background(), w)
	require.Contains(t, codes(diags), "V3")
	for _, d := range diags {
		if d.Code == "V3" {
			assert.Equal(t, "http", d.NodeID)
		}
	}
}

func TestValidatorEdgeEndpoints(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	w := validWorkflow()
	w.Edges = append(w.Edges, edge("set", "ghost"))

	diags := v.Validate(context.Background(), w)
	assert.Contains(t, codes(diags), "V4")
	// The cycle check is skipped when edges dangle.
	assert.NotContains(t, codes(diags), "V5")
}

func TestValidatorCycleDetection(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	w := validWorkflow()
	w.Edges = append(w.Edges, edge("set", "trigger"))

	diags := v.Validate(context.Background(), w)
	assert.Contains(t, codes(diags), "V5")
}

type fakeCredentials struct{ known map[string]bool }

func (f *fakeCredentials) CredentialExists(ctx context.Context, tenantID, credentialID string) bool {
	return f.known[tenantID+"/"+credentialID]
}

func TestValidatorCredentialReferences(t *testing.T) {
	creds := &fakeCredentials{known: map[string]bool{"t1/cred-ok": true}}
	v := NewValidator(builtinRegistry(t), creds)

	w := validWorkflow()
	w.Nodes[1].CredentialID = "cred-ok"
	assert.Empty(t, v.Validate(context.Background(), w))

	w.Nodes[1].CredentialID = "cred-missing"
	diags := v.Validate(context.Background(), w)
	assert.Contains(t, codes(diags), "V6")
}

func TestValidatorDiagnosticOrder(t *testing.T) {
	v := NewValidator(builtinRegistry(t), nil)
	w := domain.Workflow{
		ID: "wf", TenantID: "t1",
		Nodes: []domain.WorkflowNode{node("mystery", "vendor.unknown")},
		Edges: []domain.WorkflowEdge{edge("mystery", "ghost")},
	}

	diags := v.Validate(context.Background(), w)
	got := codes(diags)
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, "V1", got[0], "checks run in order")
}
