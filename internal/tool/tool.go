// Package tool exposes the tool invocation service used by handlers that
// declare tools in the catalog.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	xerrors "AgentRouter/internal/errors"
)

// Input is passed to every tool call.
type Input struct {
	HandlerID string            `json:"handler_id"`
	Query     string            `json:"query"`
	Params    map[string]string `json:"params,omitempty"`
}

// Result is the textual output of a tool call.
type Result struct {
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

// Tool is a single invocable tool.
type Tool interface {
	Invoke(ctx context.Context, in Input) (*Result, error)
}

// Func adapts a function to Tool.
type Func func(ctx context.Context, in Input) (*Result, error)

// Invoke implements Tool.
func (f Func) Invoke(ctx context.Context, in Input) (*Result, error) { return f(ctx, in) }

// Invoker dispatches calls by tool name.
type Invoker interface {
	Invoke(ctx context.Context, name string, in Input) (*Result, error)
}

// Registry is an Invoker backed by named tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(name string, t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(name)] = t
}

// Names lists the registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke implements Invoker.
func (r *Registry) Invoke(ctx context.Context, name string, in Input) (*Result, error) {
	r.mu.RLock()
	t, ok := r.tools[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("tool %q is not registered", name))
	}
	res, err := t.Invoke(ctx, in)
	if err != nil {
		return nil, err
	}
	if res != nil && res.Tool == "" {
		res.Tool = name
	}
	return res, nil
}

// HTTPTool posts the Input as JSON to an endpoint and expects a Result (or a
// plain text body) in return.
type HTTPTool struct {
	Name     string
	Endpoint string
	Client   *http.Client
	Headers  map[string]string
}

// Invoke implements Tool.
func (t *HTTPTool) Invoke(ctx context.Context, in Input) (*Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, fmt.Sprintf("tool %s request failed", t.Name))
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, fmt.Sprintf("tool %s read failed", t.Name))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, xerrors.New(xerrors.CodeDownstreamFailure,
			fmt.Sprintf("tool %s returned %d: %s", t.Name, resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var res Result
	if strings.Contains(resp.Header.Get("Content-Type"), "json") && json.Unmarshal(payload, &res) == nil && res.Output != "" {
		res.Tool = t.Name
		return &res, nil
	}
	return &Result{Tool: t.Name, Output: strings.TrimSpace(string(payload))}, nil
}
