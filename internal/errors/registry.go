package errors

import "sync"

// Code 表示系统内的统一错误码。
type Code string

// 通用错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeAlreadyCompleted      Code = "ALREADY_COMPLETED"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeExecutorFailure       Code = "EXECUTOR_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeConfiguration         Code = "CONFIGURATION_ERROR"
)

// 路由与下游调用相关的错误码。
const (
	CodeNoConfidentMatch  Code = "NO_CONFIDENT_MATCH"
	CodeBreakerOpen       Code = "BREAKER_OPEN"
	CodeBreakerRecovered  Code = "BREAKER_RECOVERED"
	CodeDownstreamFailure Code = "DOWNSTREAM_FAILURE"
	CodeAllHandlersFailed Code = "ALL_HANDLERS_FAILED"
	CodeCatalogInvalid    Code = "CATALOG_INVALID"
)

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {"unknown error", SeverityCritical, false, true},
		CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false},
		CodeNotFound:              {"resource not found", SeverityInfo, false, false},
		CodeConflict:              {"resource conflict", SeverityWarning, false, false},
		CodeAlreadyCompleted:      {"resource already completed", SeverityInfo, false, false},
		CodeRetriesExhausted:      {"retries exhausted", SeverityWarning, false, true},
		CodeInitializationFailure: {"service not initialized", SeverityWarning, true, true},
		CodeStorageFailure:        {"storage failure", SeverityCritical, true, true},
		CodeQueueFailure:          {"queue failure", SeverityCritical, true, true},
		CodeExecutorFailure:       {"executor failure", SeverityWarning, true, true},
		CodeTimeout:               {"operation timed out", SeverityWarning, true, true},
		CodeConfiguration:         {"invalid configuration", SeverityCritical, false, true},

		CodeNoConfidentMatch:  {"no handler matched with enough confidence, please rephrase", SeverityInfo, false, false},
		CodeBreakerOpen:       {"circuit breaker open", SeverityWarning, true, false},
		CodeBreakerRecovered:  {"circuit breaker recovered", SeverityInfo, false, false},
		CodeDownstreamFailure: {"downstream service failure", SeverityWarning, true, false},
		CodeAllHandlersFailed: {"all selected handlers failed", SeverityCritical, true, true},
		CodeCatalogInvalid:    {"handler catalog invalid", SeverityCritical, false, true},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}
