package intent

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

	xerrors "AgentRouter/internal/errors"
)

// DefaultTimeout bounds a remote analysis call.
const DefaultTimeout = 1500 * time.Millisecond

// HTTPAnalyzer calls a remote analysis service that accepts
// {"query": "..."} and answers with a Result document.
type HTTPAnalyzer struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	apiKey     string
}

// HTTPOption configures an HTTPAnalyzer.
type HTTPOption func(*HTTPAnalyzer)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAnalyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAnalyzer) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithAPIKey sends a bearer token with each request.
func WithAPIKey(key string) HTTPOption {
	return func(a *HTTPAnalyzer) {
		a.apiKey = key
	}
}

// NewHTTPAnalyzer creates an analyzer for endpoint.
func NewHTTPAnalyzer(endpoint string, opts ...HTTPOption) (*HTTPAnalyzer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "intent analyzer endpoint is empty")
	}
	a := &HTTPAnalyzer{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Analyze implements Analyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, query string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, xerrors.Wrap(xerrors.CodeTimeout, err, "intent analysis timed out")
		}
		return Result{}, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "intent analysis request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "read intent analysis response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Result{}, xerrors.New(xerrors.CodeDownstreamFailure,
			fmt.Sprintf("intent analysis returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "decode intent analysis response")
	}
	if err := result.Validate(); err != nil {
		return Result{}, err
	}
	return result.Normalized(), nil
}
