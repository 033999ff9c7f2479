package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDataAssignsAndCoerces(t *testing.T) {
	adapter := &SetDataAdapter{}
	result := adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{
			"assignments": map[string]any{
				"count":  "42",
				"rate":   "2.5",
				"active": "true",
				"label":  7,
				"copy":   "{{source}}",
			},
			"types": map[string]any{
				"count":  "int",
				"rate":   "float",
				"active": "bool",
				"label":  "string",
			},
		},
		Inputs: map[string]any{"source": "hello"},
	})

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, 42, result.Output["count"])
	assert.Equal(t, 2.5, result.Output["rate"])
	assert.Equal(t, true, result.Output["active"])
	assert.Equal(t, "7", result.Output["label"])
	assert.Equal(t, "hello", result.Output["copy"])
}

func TestSetDataCoercionFailure(t *testing.T) {
	adapter := &SetDataAdapter{}
	result := adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{
			"assignments": map[string]any{"n": "not-a-number"},
			"types":       map[string]any{"n": "int"},
		},
	})
	assert.False(t, result.Success)
	assert.False(t, result.Retryable)
}

func TestIfConditionExpression(t *testing.T) {
	adapter := &IfConditionAdapter{}
	result := adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{"expression": "{{x}} == 1"},
		Inputs:     map[string]any{"x": 1},
	})
	require.True(t, result.Success)
	assert.Equal(t, true, result.Output["result"])

	result = adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{"expression": "{{x}} == 1"},
		Inputs:     map[string]any{"x": 2},
	})
	require.True(t, result.Success)
	assert.Equal(t, false, result.Output["result"])
}

func TestIfConditionOperators(t *testing.T) {
	adapter := &IfConditionAdapter{}
	cases := []struct {
		name     string
		config   map[string]any
		inputs   map[string]any
		expected bool
	}{
		{"equals", map[string]any{"left": "{{v}}", "operator": "equals", "right": "go"}, map[string]any{"v": "go"}, true},
		{"equalsCaseInsensitive", map[string]any{"left": "GO", "operator": "equals", "right": "go", "case_sensitive": false}, nil, true},
		{"notEquals", map[string]any{"left": "a", "operator": "notEquals", "right": "b"}, nil, true},
		{"contains", map[string]any{"left": "workflow engine", "operator": "contains", "right": "flow"}, nil, true},
		{"regex", map[string]any{"left": "run-42", "operator": "regex", "right": `^run-\d+$`}, nil, true},
		{"greaterThan", map[string]any{"left": 10, "operator": "greaterThan", "right": 3}, nil, true},
		{"lessThan", map[string]any{"left": "2", "operator": "lessThan", "right": "10"}, nil, true},
		{"isEmpty", map[string]any{"left": "  ", "operator": "isEmpty"}, nil, true},
		{"isNotEmpty", map[string]any{"left": "x", "operator": "isNotEmpty"}, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := adapter.Execute(context.Background(), AdapterContext{
				NodeConfig: tc.config,
				Inputs:     tc.inputs,
			})
			require.True(t, result.Success, result.ErrorMessage)
			assert.Equal(t, tc.expected, result.Output["result"])
		})
	}
}

func TestIfConditionUnknownOperator(t *testing.T) {
	adapter := &IfConditionAdapter{}
	result := adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{"left": "a", "operator": "sounds-like"},
	})
	assert.False(t, result.Success)
}

func TestHTTPRequestAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	adapter := NewHTTPRequestAdapter()
	result := adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{
			"method": "POST",
			"url":    "{{base}}/things",
			"body":   map[string]any{"name": "{{name}}"},
		},
		Inputs:           map[string]any{"base": server.URL, "name": "x"},
		CredentialSecret: "secret-token",
	})

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, http.StatusOK, result.Output["status_code"])
	decoded, ok := result.Output["json"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, decoded["ok"])
}

func TestHTTPRequestStatusClassification(t *testing.T) {
	status := http.StatusBadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	adapter := NewHTTPRequestAdapter()

	result := adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{"url": server.URL},
	})
	assert.False(t, result.Success)
	assert.False(t, result.Retryable, "4xx is permanent")

	status = http.StatusServiceUnavailable
	result = adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{"url": server.URL},
	})
	assert.False(t, result.Success)
	assert.True(t, result.Retryable, "5xx is transient")
}

func TestHTTPRequestRequiresURL(t *testing.T) {
	adapter := NewHTTPRequestAdapter()
	result := adapter.Execute(context.Background(), AdapterContext{NodeConfig: map[string]any{}})
	assert.False(t, result.Success)
}

func TestDBQueryUnconfigured(t *testing.T) {
	adapter := NewDBQueryAdapter(nil)
	result := adapter.Execute(context.Background(), AdapterContext{
		NodeConfig: map[string]any{"query": "SELECT 1"},
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "not configured")
}

func TestResolveTemplatedKeepsTypesForExactTokens(t *testing.T) {
	vars := map[string]any{"n": 3, "nested": map[string]any{"k": "v"}}
	assert.Equal(t, 3, resolveTemplated("{{n}}", vars))
	assert.Equal(t, map[string]any{"k": "v"}, resolveTemplated("{{nested}}", vars))
	assert.Equal(t, "n is 3", renderString("n is {{n}}", vars))
	// Unresolved tokens stay in place.
	assert.Equal(t, "{{ghost}}", renderString("{{ghost}}", vars))
}
