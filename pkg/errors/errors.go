// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 资源错误 (3xxx)
	CodeEventNotFound    ErrorCode = "3001"
	CodeDocumentNotFound ErrorCode = "3002"
	CodeJobNotFound      ErrorCode = "3003"

	// 业务错误 (4xxx)
	CodeStructuredOutput   ErrorCode = "4001"
	CodeIdentityResolution ErrorCode = "4002"
	CodeRelationIntegrity  ErrorCode = "4003"
	CodeIngestionFailed    ErrorCode = "4004"
	CodeIngestionBusy      ErrorCode = "4005"
	CodeRetrievalFailed    ErrorCode = "4006"
	CodeLLMCallFailed      ErrorCode = "4007"
	CodeEmbeddingFailed    ErrorCode = "4008"

	// 内容获取错误 (45xx)
	CodeContentTooShort   ErrorCode = "4501"
	CodeUnsupportedLink   ErrorCode = "4502"
	CodeAcquisitionFailed ErrorCode = "4503"

	// 外部服务错误 (5xxx)
	CodeDatabaseError    ErrorCode = "5001"
	CodeCacheError       ErrorCode = "5002"
	CodeVectorDBError    ErrorCode = "5003"
	CodeQueueError       ErrorCode = "5004"
	CodeLLMProviderError ErrorCode = "5005"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is(err, ErrStructuredOutput) 可用
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 添加详细信息（返回副本，避免修改预定义错误）
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 添加底层错误（返回副本）
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Newf 创建带格式化消息的应用错误
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeContentTooShort, CodeUnsupportedLink:
		return http.StatusBadRequest
	case CodeNotFound, CodeEventNotFound, CodeDocumentNotFound, CodeJobNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeIngestionBusy:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeStructuredOutput:
		return http.StatusUnprocessableEntity
	case CodeAcquisitionFailed:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrEventNotFound    = New(CodeEventNotFound, "event not found")
	ErrDocumentNotFound = New(CodeDocumentNotFound, "document not found")
	ErrJobNotFound      = New(CodeJobNotFound, "ingestion job not found")

	ErrStructuredOutput   = New(CodeStructuredOutput, "model returned malformed structured output")
	ErrIdentityResolution = New(CodeIdentityResolution, "event identity resolution failed")
	ErrRelationIntegrity  = New(CodeRelationIntegrity, "relation references unresolved event")
	ErrIngestionFailed    = New(CodeIngestionFailed, "document ingestion failed")
	ErrIngestionBusy      = New(CodeIngestionBusy, "another ingestion is running for this tenant")
	ErrLLMCallFailed      = New(CodeLLMCallFailed, "LLM call failed")
	ErrEmbeddingFailed    = New(CodeEmbeddingFailed, "embedding call failed")

	ErrContentTooShort   = New(CodeContentTooShort, "content too short")
	ErrUnsupportedLink   = New(CodeUnsupportedLink, "unsupported link")
	ErrAcquisitionFailed = New(CodeAcquisitionFailed, "content acquisition failed")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}
