package agentrouter

import (
	"fmt"
	"time"
)

// Intent is the intent analysis result attached to a request. When omitted
// the server runs its configured analyzer.
type Intent struct {
	Intent                string   `json:"intent"`
	Domains               []string `json:"domains,omitempty"`
	Complexity            string   `json:"complexity,omitempty"`
	Keywords              []string `json:"keywords,omitempty"`
	Confidence            float64  `json:"confidence"`
	RequiresCollaboration bool     `json:"requires_multi_handler_collaboration,omitempty"`
}

// RouteRequest is the payload for routing and task submission.
type RouteRequest struct {
	ID       string            `json:"id,omitempty"`
	Query    string            `json:"query"`
	Intent   *Intent           `json:"intent,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Candidate is a scored handler.
type Candidate struct {
	HandlerID  string   `json:"handler_id"`
	Name       string   `json:"name"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Sources    []string `json:"sources"`
}

// Rejection explains why a candidate was not selected.
type Rejection struct {
	Candidate Candidate `json:"candidate"`
	Reason    string    `json:"reason"`
}

// Selection is the routing decision.
type Selection struct {
	Mode      string      `json:"mode"`
	Selected  []Candidate `json:"selected"`
	Rejected  []Rejection `json:"rejected,omitempty"`
	Reasoning []string    `json:"reasoning"`
}

// HandlerIDs lists the selected handlers in rank order.
func (s Selection) HandlerIDs() []string {
	ids := make([]string, 0, len(s.Selected))
	for _, c := range s.Selected {
		ids = append(ids, c.HandlerID)
	}
	return ids
}

// CallOutcome records one downstream call made for a handler.
type CallOutcome struct {
	Service  string        `json:"service"`
	Target   string        `json:"target,omitempty"`
	Breaker  string        `json:"breaker"`
	Degraded bool          `json:"degraded"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HandlerOutcome is the per-handler part of an execution.
type HandlerOutcome struct {
	HandlerID string        `json:"handler_id"`
	Name      string        `json:"name"`
	Score     float64       `json:"score"`
	Answer    string        `json:"answer,omitempty"`
	Model     string        `json:"model,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Degraded  bool          `json:"degraded"`
	Sources   []string      `json:"sources,omitempty"`
	Calls     []CallOutcome `json:"calls"`
	Error     string        `json:"error,omitempty"`
}

// Response is the aggregated answer of an executed route.
type Response struct {
	Query    string           `json:"query"`
	Mode     string           `json:"mode"`
	Answer   string           `json:"answer"`
	Degraded bool             `json:"degraded"`
	Handlers []HandlerOutcome `json:"handlers"`
}

// RouteResult is returned by Route and Preview. Response is nil for previews.
type RouteResult struct {
	RequestID string        `json:"request_id"`
	Query     string        `json:"query"`
	Intent    Intent        `json:"intent"`
	Selection Selection     `json:"selection"`
	Response  *Response     `json:"response,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Task status values.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// TaskResult is the stored outcome of an asynchronous task.
type TaskResult struct {
	Mode     string   `json:"mode"`
	Handlers []string `json:"handlers"`
	Answer   string   `json:"answer"`
	Degraded bool     `json:"degraded"`
	Notes    string   `json:"notes,omitempty"`
}

// Task is an asynchronous routing task.
type Task struct {
	ID         string            `json:"id"`
	Query      string            `json:"query"`
	Intent     *Intent           `json:"intent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *TaskResult       `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Done reports whether the task reached a state it will not leave on its own.
func (t Task) Done() bool {
	if t.Status == TaskSucceeded {
		return true
	}
	return t.Status == TaskFailed && t.Attempts >= t.MaxRetries
}

// TaskStats aggregates task counts.
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Degraded        int   `json:"degraded"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListTasksOptions filters ListTasks and TaskStats. Zero values are omitted.
type ListTasksOptions struct {
	Statuses  []string
	Query     string
	Ascending bool
	HasResult *bool
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int

	// Handler, Mode and Degraded only match tasks that already have a result.
	Handler  string
	Mode     string
	Degraded *bool
}

// BreakerStatus is a snapshot of one circuit breaker.
type BreakerStatus struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	FailureCount   int       `json:"failure_count"`
	SuccessCount   int       `json:"success_count"`
	LastFailure    time.Time `json:"last_failure,omitempty"`
	LastTransition time.Time `json:"last_transition,omitempty"`
}

// Handler describes a catalog entry.
type Handler struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Tier         int      `json:"tier"`
	Domain       string   `json:"domain"`
	Capabilities []string `json:"capabilities"`
	FocusAreas   []string `json:"focus_areas,omitempty"`
	Expertise    string   `json:"expertise,omitempty"`
	Retrieval    bool     `json:"retrieval,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

// Catalog is the handler catalog currently served.
type Catalog struct {
	Version  uint64              `json:"version"`
	Source   string              `json:"source,omitempty"`
	LoadedAt time.Time           `json:"loaded_at"`
	Handlers []Handler           `json:"handlers"`
	Intents  map[string][]string `json:"intents"`
}

// Decision is one recorded routing decision.
type Decision struct {
	RequestID string             `json:"request_id"`
	Query     string             `json:"query"`
	Intent    string             `json:"intent"`
	Mode      string             `json:"mode"`
	Selected  []string           `json:"selected"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Rejected  []RejectedHandler  `json:"rejected,omitempty"`
	Outcome   string             `json:"outcome"`
	ErrorCode string             `json:"error_code,omitempty"`
	Degraded  bool               `json:"degraded"`
	LatencyMS int64              `json:"latency_ms"`
}

// RejectedHandler is a candidate left out of a recorded decision.
type RejectedHandler struct {
	HandlerID string  `json:"handler_id"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// Health is the liveness summary.
type Health struct {
	Status       string   `json:"status"`
	Handlers     int      `json:"handlers"`
	OpenBreakers []string `json:"open_breakers,omitempty"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	// Result carries the routing result the server attached, e.g. the
	// rejected candidates of a NO_CONFIDENT_MATCH.
	Result *RouteResult `json:"result,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentrouter api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentrouter api error (%d): %s", e.StatusCode, e.Message)
}
