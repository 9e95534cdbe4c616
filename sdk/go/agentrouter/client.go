// Package agentrouter is a small client for the AgentRouter REST API.
package agentrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Executed routes can take as long as the slowest downstream model call.
const DefaultHTTPTimeout = 90 * time.Second

// Client wraps the HTTP interactions with the AgentRouter REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient instantiates a client for the API at rawURL. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Route selects handlers for the query and executes them.
func (c *Client) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	var out RouteResult
	if err := c.post(ctx, "/api/v1/route", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview returns the routing decision without calling any downstream service.
func (c *Client) Preview(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	var out RouteResult
	if err := c.post(ctx, "/api/v1/route/preview", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decisions lists the most recent routing decisions.
func (c *Client) Decisions(ctx context.Context, limit int) ([]Decision, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Decision
	if err := c.get(ctx, "/api/v1/decisions", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitTask enqueues an asynchronous route. Submitting an existing id
// returns the stored task.
func (c *Client) SubmitTask(ctx context.Context, req RouteRequest) (*Task, error) {
	var out Task
	if err := c.post(ctx, "/api/v1/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("agentrouter: task id is empty")
	}
	var out Task
	if err := c.get(ctx, "/api/v1/tasks/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns tasks matching opts, most recently updated first unless
// opts.Ascending is set.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]Task, error) {
	var out []Task
	if err := c.get(ctx, "/api/v1/tasks", opts.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskStats aggregates tasks matching opts.
func (c *Client) TaskStats(ctx context.Context, opts ListTasksOptions) (*TaskStats, error) {
	var out TaskStats
	if err := c.get(ctx, "/api/v1/tasks/stats", opts.values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForTask polls until the task is done or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Breakers lists the circuit breakers and their state.
func (c *Client) Breakers(ctx context.Context) ([]BreakerStatus, error) {
	var out []BreakerStatus
	if err := c.get(ctx, "/api/v1/breakers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetBreaker forces the named breaker CLOSED.
func (c *Client) ResetBreaker(ctx context.Context, name string) (*BreakerStatus, error) {
	var out BreakerStatus
	if err := c.post(ctx, "/api/v1/breakers/"+name+"/reset", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Catalog returns the handler catalog currently served.
func (c *Client) Catalog(ctx context.Context) (*Catalog, error) {
	var out Catalog
	if err := c.get(ctx, "/api/v1/catalog", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the liveness summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (o ListTasksOptions) values() url.Values {
	q := url.Values{}
	if len(o.Statuses) > 0 {
		q.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Query != "" {
		q.Set("q", o.Query)
	}
	if o.Ascending {
		q.Set("order", "asc")
	}
	if o.HasResult != nil {
		q.Set("has_result", strconv.FormatBool(*o.HasResult))
	}
	if o.Handler != "" {
		q.Set("handler", o.Handler)
	}
	if o.Mode != "" {
		q.Set("mode", o.Mode)
	}
	if o.Degraded != nil {
		q.Set("degraded", strconv.FormatBool(*o.Degraded))
	}
	if !o.Since.IsZero() {
		q.Set("since", strconv.FormatInt(o.Since.Unix(), 10))
	}
	if !o.Until.IsZero() {
		q.Set("until", strconv.FormatInt(o.Until.Unix(), 10))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
