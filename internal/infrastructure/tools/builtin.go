package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HTTPTool calls external APIs, throttled per target host so one chatty
// graph can't hammer a downstream API across its retry loop.
type HTTPTool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (t *HTTPTool) Kind() string { return "http" }

// hostLimiter returns the shared limiter for a host, 10 req/s with a small
// burst.
func (t *HTTPTool) hostLimiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limiters == nil {
		t.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(10), 5)
		t.limiters[host] = l
	}
	return l
}

func (t *HTTPTool) Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	rawURL, ok := input["url"].(string)
	if !ok {
		return nil, fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if err := t.hostLimiter(parsed.Host).Wait(ctx); err != nil {
		return nil, err
	}

	method := "GET"
	if m, ok := input["method"].(string); ok {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if bodyData, ok := input["body"]; ok {
		bodyJSON, _ := json.Marshal(bodyData)
		body = strings.NewReader(string(bodyJSON))
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}

	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var jsonData interface{}
	if err := json.Unmarshal(respBody, &jsonData); err == nil {
		return map[string]interface{}{
			"status_code": resp.StatusCode,
			"body":        jsonData,
			"headers":     resp.Header,
		}, nil
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
		"headers":     resp.Header,
	}, nil
}

// JSONProcessorTool reshapes JSON payloads between nodes.
type JSONProcessorTool struct{}

func (t *JSONProcessorTool) Kind() string { return "builtin" }

func (t *JSONProcessorTool) Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	data, ok := input["data"]
	if !ok {
		return nil, fmt.Errorf("data is required")
	}

	operation, ok := input["operation"].(string)
	if !ok {
		operation = "parse"
	}

	switch operation {
	case "parse":
		return map[string]interface{}{"result": data}, nil

	case "stringify":
		jsonStr, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"result": string(jsonStr)}, nil

	case "extract":
		path, ok := input["path"].(string)
		if !ok {
			return nil, fmt.Errorf("path is required for extract operation")
		}
		return map[string]interface{}{"result": extractJSONPath(data, path)}, nil

	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

// StringProcessorTool transforms text between nodes.
type StringProcessorTool struct{}

func (t *StringProcessorTool) Kind() string { return "builtin" }

func (t *StringProcessorTool) Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	text, ok := input["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text is required")
	}

	operation, ok := input["operation"].(string)
	if !ok {
		operation = "lowercase"
	}

	var result string
	switch operation {
	case "lowercase":
		result = strings.ToLower(text)
	case "uppercase":
		result = strings.ToUpper(text)
	case "trim":
		result = strings.TrimSpace(text)
	case "replace":
		old, _ := input["old"].(string)
		new, _ := input["new"].(string)
		result = strings.ReplaceAll(text, old, new)
	case "split":
		delimiter, _ := input["delimiter"].(string)
		if delimiter == "" {
			delimiter = ","
		}
		return map[string]interface{}{"result": strings.Split(text, delimiter)}, nil
	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}

	return map[string]interface{}{"result": result}, nil
}

// extractJSONPath extracts a value from nested JSON using dot notation
func extractJSONPath(data interface{}, path string) interface{} {
	parts := strings.Split(path, ".")

	current := data
	for _, part := range parts {
		if m, ok := current.(map[string]interface{}); ok {
			current = m[part]
		} else {
			return nil
		}
	}

	return current
}

// RegisterBuiltinTools registers the built-in tool definitions. The HTTP
// tool gets a tighter retry budget and a lower breaker threshold than the
// pure in-process processors, since it's the one that actually fails.
func RegisterBuiltinTools(registry *Registry) error {
	defs := []*Definition{
		{
			Slug:        "http_request",
			Description: "Makes HTTP requests to external APIs",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url":     map[string]interface{}{"type": "string", "description": "The URL to request"},
					"method":  map[string]interface{}{"type": "string", "description": "HTTP method (GET, POST, etc.)", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
					"headers": map[string]interface{}{"type": "object", "description": "HTTP headers"},
					"body":    map[string]interface{}{"type": "object", "description": "Request body (for POST/PUT/PATCH)"},
				},
				"required": []string{"url"},
			},
			Implementation: &HTTPTool{},
			Execution: ExecutionConfig{
				TimeoutSeconds:          30,
				Retry:                   RetryConfig{MaxAttempts: 3, InitialDelayMs: 200, MaxDelayMs: 5000, BackoffMultiplier: 2.0},
				FailurePolicy:           FailurePolicyContinue,
				CircuitBreakerThreshold: 3,
			},
		},
		{
			Slug:        "json_processor",
			Description: "Processes and transforms JSON data",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"data":      map[string]interface{}{"description": "The JSON data to process"},
					"operation": map[string]interface{}{"type": "string", "description": "Operation to perform", "enum": []string{"parse", "stringify", "extract"}},
					"path":      map[string]interface{}{"type": "string", "description": "JSON path for extract operation (e.g., 'user.name')"},
				},
				"required": []string{"data", "operation"},
			},
			Implementation: &JSONProcessorTool{},
			Execution: ExecutionConfig{
				Retry:         RetryConfig{MaxAttempts: 1},
				FailurePolicy: FailurePolicyFailFast,
			},
		},
		{
			Slug:        "string_processor",
			Description: "Processes and transforms strings",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text":      map[string]interface{}{"type": "string", "description": "The text to process"},
					"operation": map[string]interface{}{"type": "string", "description": "Operation to perform", "enum": []string{"lowercase", "uppercase", "trim", "replace", "split"}},
					"old":       map[string]interface{}{"type": "string", "description": "Text to replace (for replace operation)"},
					"new":       map[string]interface{}{"type": "string", "description": "Replacement text (for replace operation)"},
					"delimiter": map[string]interface{}{"type": "string", "description": "Delimiter for split operation"},
				},
				"required": []string{"text", "operation"},
			},
			Implementation: &StringProcessorTool{},
			Execution: ExecutionConfig{
				Retry:         RetryConfig{MaxAttempts: 1},
				FailurePolicy: FailurePolicyFailFast,
			},
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
