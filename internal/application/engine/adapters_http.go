package engine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRequestAdapter performs an HTTP call. Config:
//
//	method:  GET|POST|PUT|PATCH|DELETE (default GET)
//	url:     request URL (templated)
//	headers: {name: value}
//	body:    string or JSON-encodable value
//
// There is no timeout key: the client timeout is fixed at 30s.
type HTTPRequestAdapter struct {
	client *http.Client
}

// NewHTTPRequestAdapter creates the http.request adapter.
func NewHTTPRequestAdapter() *HTTPRequestAdapter {
	return &HTTPRequestAdapter{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the connector id this adapter implements
func (a *HTTPRequestAdapter) Type() string { return TypeHTTPRequest }

// Execute runs the adapter.
func (a *HTTPRequestAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	config := renderConfig(ac.NodeConfig, ac.Inputs)

	rawURL, _ := config["url"].(string)
	if rawURL == "" {
		return failure("http.request requires a 'url'", false)
	}
	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var bodyReader io.Reader
	if body, ok := config["body"]; ok && body != nil {
		switch b := body.(type) {
		case string:
			bodyReader = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return failure("failed to encode request body: "+err.Error(), false)
			}
			bodyReader = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return failure("failed to build request: "+err.Error(), false)
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for name, value := range headers {
			req.Header.Set(name, fmt.Sprint(value))
		}
	}
	if req.Header.Get("Content-Type") == "" && bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ac.CredentialSecret != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+ac.CredentialSecret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return failure("request cancelled: "+err.Error(), false)
		}
		return failure("request failed: "+err.Error(), true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return failure("failed to read response: "+err.Error(), true)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(data),
	}
	var decoded any
	if json.Unmarshal(data, &decoded) == nil {
		output["json"] = decoded
	}

	if resp.StatusCode >= 400 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		result := failure(fmt.Sprintf("request returned status %d", resp.StatusCode), retryable)
		result.Output = output
		return result
	}
	return success(output)
}

// Querier is the subset of database/sql used by the db.query adapter.
// *sql.DB and *bun.DB both satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DBQueryAdapter runs a template-substituted SQL query. Config:
//
//	query: SQL text with {{path}} substitution from node inputs
//	args:  positional arguments (templated)
type DBQueryAdapter struct {
	db Querier
}

// NewDBQueryAdapter creates the db.query adapter.
func NewDBQueryAdapter(db Querier) *DBQueryAdapter {
	return &DBQueryAdapter{db: db}
}

// Type returns the connector id this adapter implements
func (a *DBQueryAdapter) Type() string { return TypeDBQuery }

// Execute runs the adapter.
func (a *DBQueryAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	if a.db == nil {
		return failure("db.query is not configured with a database", false)
	}

	query, _ := ac.NodeConfig["query"].(string)
	if query == "" {
		return failure("db.query requires a 'query'", false)
	}
	query = renderString(query, ac.Inputs)

	var args []any
	if rawArgs, ok := ac.NodeConfig["args"].([]any); ok {
		for _, raw := range rawArgs {
			args = append(args, resolveTemplated(raw, ac.Inputs))
		}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return failure("query cancelled: "+err.Error(), false)
		}
		return failure("query failed: "+err.Error(), true)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return failure("failed to read columns: "+err.Error(), false)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return failure("failed to scan row: "+err.Error(), false)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			value := values[i]
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			row[col] = value
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return failure("row iteration failed: "+err.Error(), true)
	}

	return success(map[string]any{
		"rows":  results,
		"count": len(results),
	})
}
