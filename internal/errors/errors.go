package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeFailedPrecondition    Code = "FAILED_PRECONDITION"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeProcessFailure        Code = "PROCESS_FAILURE"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeChainFailure          Code = "CHAIN_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// behaviour 是错误码在 HTTP 层和重试逻辑中的默认表现。
type behaviour struct {
	message   string
	status    int
	severity  Severity
	retryable bool
}

var behaviours = map[Code]behaviour{
	CodeUnknown:               {"unknown error", http.StatusInternalServerError, SeverityCritical, false},
	CodeInvalidArgument:       {"invalid argument", http.StatusBadRequest, SeverityInfo, false},
	CodeNotFound:              {"resource not found", http.StatusNotFound, SeverityInfo, false},
	CodeConflict:              {"resource conflict", http.StatusBadRequest, SeverityInfo, false},
	CodeFailedPrecondition:    {"failed precondition", http.StatusBadRequest, SeverityInfo, false},
	CodeInitializationFailure: {"initialization failure", http.StatusInternalServerError, SeverityCritical, false},
	CodeStorageFailure:        {"storage failure", http.StatusInternalServerError, SeverityCritical, true},
	CodeQueueFailure:          {"event queue failure", http.StatusInternalServerError, SeverityWarning, true},
	CodeProcessFailure:        {"agent process failure", http.StatusInternalServerError, SeverityWarning, false},
	CodeUpstreamFailure:       {"upstream service failure", http.StatusBadGateway, SeverityWarning, true},
	CodeChainFailure:          {"blockchain rpc failure", http.StatusInternalServerError, SeverityWarning, true},
	CodeTimeout:               {"operation timed out", http.StatusGatewayTimeout, SeverityWarning, true},
}

func behaviourOf(code Code) behaviour {
	if b, ok := behaviours[code]; ok {
		return b
	}
	return behaviours[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code    Code
	message string
	cause   error
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string) *Error {
	if message == "" {
		message = behaviourOf(code).message
	}
	return &Error{code: code, message: message}
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含底层原因的错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return behaviourOf(e.code).retryable
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return behaviourOf(CodeOf(err)).severity
}

// HTTPStatus 将错误码映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	return behaviourOf(CodeOf(err)).status
}

// MessageOf 返回适合直接展示给调用方的错误描述。
// 参数错误和资源不存在只返回消息本身，其余错误附带底层原因。
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		if e.cause != nil && e.code != CodeInvalidArgument && e.code != CodeNotFound {
			return fmt.Sprintf("%s: %v", e.message, e.cause)
		}
		return e.message
	}
	return err.Error()
}
