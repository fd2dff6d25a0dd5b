// Package httprequest provides the HTTP call action.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/registry"
	"github.com/veloflow/veloflow/pkg/retry"
	"github.com/veloflow/veloflow/pkg/template"
)

const defaultTimeout = 30 * time.Second

type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration

	client *http.Client
}

func NewAction(config map[string]any) (*Action, error) {
	rawURL, _ := config["url"].(string)
	method, _ := config["method"].(string)

	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	timeout := defaultTimeout
	if seconds, ok := config["timeout"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	headers := make(map[string]string)
	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return &Action{
		URL:     rawURL,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "http_request_action")

	target := template.RenderString(a.URL, &executionCtx)

	parsed, err := url.ParseRequestURI(target)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: malformed url %q", registry.ErrInvalidConfiguration, target)
	}

	var bodyReader io.Reader
	if a.Body != "" {
		bodyReader = strings.NewReader(template.RenderString(a.Body, &executionCtx))
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, template.RenderString(value, &executionCtx))
	}

	logger.Info("Executing HTTP request", "method", a.Method, "url", target)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var body any = string(raw)

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			body = decoded
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
