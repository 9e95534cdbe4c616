package task

import (
	"maps"
	"slices"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// ExecutionResult 保存一次异步路由的结果摘要。
type ExecutionResult struct {
	Mode     string   `json:"mode"`
	Handlers []string `json:"handlers"`
	Answer   string   `json:"answer"`
	Degraded bool     `json:"degraded"`
	Notes    string   `json:"notes,omitempty"`
}

// Empty 判断结果是否没有任何内容。
func (r *ExecutionResult) Empty() bool {
	return r == nil || (r.Answer == "" && len(r.Handlers) == 0 && r.Notes == "")
}

// Task 描述了排队执行的路由请求。Attempts 在每次被领取时加一。
type Task struct {
	ID         string            `json:"id"`
	Query      string            `json:"query"`
	Intent     *intent.Result    `json:"intent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *ExecutionResult  `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Done 判断任务是否不会再被执行：成功，或失败且重试次数已用尽。
func (t *Task) Done() bool {
	switch t.Status {
	case StatusSucceeded:
		return true
	case StatusFailed:
		return t.Attempts >= t.MaxRetries
	}
	return false
}

func (t *Task) clone() *Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		r.Handlers = slices.Clone(t.Result.Handlers)
		c.Result = &r
	}
	c.Intent = cloneIntent(t.Intent)
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

func cloneTask(t *Task) *Task { return t.clone() }

func cloneIntent(in *intent.Result) *intent.Result {
	if in == nil {
		return nil
	}
	out := *in
	out.Domains = slices.Clone(in.Domains)
	out.Keywords = slices.Clone(in.Keywords)
	return &out
}

// 任务相关错误码。
const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
	CodeTaskCompensate xerrors.Code = "TASK_COMPENSATION_FAILED"
)

func init() {
	for code, attr := range map[xerrors.Code]xerrors.Attributes{
		CodeTaskNotFound:   {Message: "task not found", Severity: xerrors.SeverityInfo},
		CodeTaskConflict:   {Message: "task conflict", Severity: xerrors.SeverityWarning},
		CodeTaskCompleted:  {Message: "task already completed", Severity: xerrors.SeverityInfo},
		CodeTaskExhausted:  {Message: "task retries exhausted", Severity: xerrors.SeverityCritical, Alert: true},
		CodeTaskValidation: {Message: "task validation failed", Severity: xerrors.SeverityInfo},
		CodeTaskPublish:    {Message: "failed to publish task", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true},
		CodeTaskProcessing: {Message: "task execution failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true},
		CodeTaskCompensate: {Message: "task compensation failed", Severity: xerrors.SeverityCritical, Alert: true},
	} {
		xerrors.Register(code, attr)
	}
}

// Claim 与 Get 返回的哨兵错误，可用 errors.Is 按错误码判断。
var (
	ErrTaskNotFound  = xerrors.New(CodeTaskNotFound, "task not found")
	ErrTaskConflict  = xerrors.New(CodeTaskConflict, "task conflict")
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed")
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted")
)

// IsTaskError 判断错误链中是否带有指定的任务错误码。
func IsTaskError(err error, code xerrors.Code) bool {
	return xerrors.HasCode(err, code)
}
