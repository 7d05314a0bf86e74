package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/weave/pkg/template"
	"github.com/dukex/weave/pkg/workflow"
)

const defaultRequestTimeout = 30 * time.Second

var (
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned for 5xx responses so the node retry policy applies.
	ErrHTTPServerError = errors.New("server error during HTTP request")
)

// HTTPRequest calls the "url" parameter with "method" (GET), "headers", "body" and
// "timeout". url, header values and string bodies are templates; object bodies are
// sent as JSON. The output holds status_code, body and headers.
type HTTPRequest struct {
	client *http.Client
}

func NewHTTPRequest(client *http.Client) *HTTPRequest {
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPRequest{client: client}
}

func (a *HTTPRequest) Run(ctx context.Context, nc *workflow.NodeContext) (any, error) {
	url, err := param(nc, "url")
	if err != nil {
		return nil, err
	}

	if url == "" {
		return nil, ErrHTTPRequestURLInvalid
	}

	method, _ := nc.Node.Config.Params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	timeout := defaultRequestTimeout
	if raw, ok := nc.Node.Config.Params["timeout"].(string); ok {
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
	}

	body, err := requestBody(nc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	err = setHeaders(req, nc)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrHTTPServerError, resp.StatusCode)
	}

	return processResponse(resp)
}

func requestBody(nc *workflow.NodeContext) (io.Reader, error) {
	body := nc.Node.Config.Params["body"]

	if raw, ok := body.(string); ok {
		rendered, err := template.RenderWithExecution(raw, nc.Execution, nc.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		if s, ok := rendered.(string); ok {
			return strings.NewReader(s), nil
		}

		body = rendered
	}

	if body == nil {
		return http.NoBody, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	return bytes.NewReader(raw), nil
}

func setHeaders(req *http.Request, nc *workflow.NodeContext) error {
	headers, _ := nc.Node.Config.Params["headers"].(map[string]any)

	for key, value := range headers {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		rendered, err := template.RenderWithExecution(raw, nc.Execution, nc.Input)
		if err != nil {
			return fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, fmt.Sprint(rendered))
	}

	if _, ok := nc.Node.Config.Params["body"].(map[string]any); ok && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return nil
}

func processResponse(resp *http.Response) (any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(raw, &body)
	if err != nil {
		body = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
