// Package httprequest provides the action that calls an outbound webhook.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/template"
)

const maxResponseBody = 1 << 20

// Action performs one HTTP request, retrying transport errors and 5xx responses.
type Action struct {
	client    *http.Client
	Method    string
	URL       string
	Headers   map[string]string
	Body      any
	Timeout   time.Duration
	Retry     RetryConfig
	ResultKey string
}

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func NewAction(client *http.Client, config map[string]any) (*Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, errors.New("url is required")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)
	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	retry := RetryConfig{Attempts: 1}
	if retryMap, ok := config["retry"].(map[string]any); ok {
		if attempts, ok := number(retryMap["attempts"]); ok && attempts >= 1 {
			retry.Attempts = int(attempts)
		}

		if delay, ok := number(retryMap["delay"]); ok && delay > 0 {
			retry.Delay = time.Duration(delay * float64(time.Second))
		}
	}

	timeout := defaultClientTimeout
	if seconds, ok := number(config["timeout_seconds"]); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	resultKey, _ := config["result_key"].(string)

	return &Action{
		client:    client,
		Method:    strings.ToUpper(method),
		URL:       url,
		Headers:   headers,
		Body:      config["body"],
		Timeout:   timeout,
		Retry:     retry,
		ResultKey: resultKey,
	}, nil
}

func (a *Action) Execute(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("instance_id", instance.ID, "step_id", step.ID)

	url, err := template.InterpolateInstance(a.URL, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	body, err := a.renderBody(instance)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(a.Headers))
	for key, value := range a.Headers {
		rendered, err := template.InterpolateInstance(value, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s': %w", key, err)
		}

		headers[key] = rendered
	}

	var lastErr error

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying http request", "attempt", attempt, "max_attempts", a.Retry.Attempts)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("http request cancelled: %w", ctx.Err())
			case <-time.After(a.Retry.Delay):
			}
		}

		result, retryable, err := a.do(ctx, url, headers, body)
		if err == nil {
			logger.InfoContext(ctx, "HTTP request completed", "status", result["status_code"], "url", url)

			if a.ResultKey == "" {
				return nil, nil
			}

			return map[string]any{a.ResultKey: result}, nil
		}

		lastErr = err
		if !retryable {
			break
		}
	}

	return nil, fmt.Errorf("http request to %s failed: %w", url, lastErr)
}

func (a *Action) renderBody(instance *models.WorkflowInstance) ([]byte, error) {
	switch body := a.Body.(type) {
	case nil:
		return nil, nil
	case string:
		rendered, err := template.InterpolateInstance(body, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}

		return []byte(rendered), nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}

		return encoded, nil
	}
}

// do sends one request. The bool reports whether a failure may be retried.
func (a *Action) do(ctx context.Context, url string, headers map[string]string, body []byte) (map[string]any, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, a.Method, url, bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create http request: %w", err)
	}

	if body != nil && json.Valid(body) {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("server error (status %d)", resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, false, fmt.Errorf("request rejected (status %d)", resp.StatusCode)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	responseHeaders := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		responseHeaders[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        decoded,
		"headers":     responseHeaders,
	}, false, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
