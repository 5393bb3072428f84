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
	CodeUnauthorized       ErrorCode = "1002"
	CodeForbidden          ErrorCode = "1003"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 资源错误 (3xxx)
	CodeSessionNotFound ErrorCode = "3001"
	CodeFileNotFound    ErrorCode = "3004"

	// 流水线错误 (6xxx)
	CodeLockContention      ErrorCode = "6001"
	CodeInsufficientCredits ErrorCode = "6002"
	CodeExternalTransient   ErrorCode = "6003"
	CodeExternalFatal       ErrorCode = "6004"
	CodeWorkerTimeout       ErrorCode = "6005"
	CodeDataIntegrity       ErrorCode = "6006"

	// 基础设施错误 (5xxx)
	CodeDatabaseError ErrorCode = "5001"
	CodeCacheError    ErrorCode = "5002"
)

// Kind 对外暴露的错误类别（写入错误记录，供轮询方读取）
type Kind string

const (
	KindLockContention      Kind = "LockContentionError"
	KindInsufficientCredits Kind = "InsufficientCreditsError"
	KindExternalTransient   Kind = "ExternalServiceTransientError"
	KindExternalFatal       Kind = "ExternalServiceFatalError"
	KindWorkerTimeout       Kind = "WorkerTimeoutError"
	KindDataIntegrity       Kind = "DataIntegrityError"
	KindInternal            Kind = "InternalError"
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

// Is 按错误码匹配，支持 errors.Is(err, ErrLockContention) 这类判断
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Kind 返回错误类别
func (e *AppError) Kind() Kind {
	return codeToKind(e.Code)
}

// WithDetail 返回带详细信息的副本
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回带底层错误的副本
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

// Newf 按格式创建应用错误
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
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeSessionNotFound, CodeFileNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeLockContention:
		return http.StatusConflict
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodeExternalTransient:
		return http.StatusServiceUnavailable
	case CodeExternalFatal:
		return http.StatusBadGateway
	case CodeWorkerTimeout:
		return http.StatusGatewayTimeout
	case CodeDataIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// codeToKind 错误码转错误类别
func codeToKind(code ErrorCode) Kind {
	switch code {
	case CodeLockContention:
		return KindLockContention
	case CodeInsufficientCredits:
		return KindInsufficientCredits
	case CodeExternalTransient:
		return KindExternalTransient
	case CodeExternalFatal:
		return KindExternalFatal
	case CodeWorkerTimeout:
		return KindWorkerTimeout
	case CodeDataIntegrity:
		return KindDataIntegrity
	default:
		return KindInternal
	}
}

// 预定义错误（仅用于 errors.Is 比较，不要修改其字段）
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrSessionNotFound = New(CodeSessionNotFound, "session not found")

	ErrLockContention      = New(CodeLockContention, "session already in progress")
	ErrInsufficientCredits = New(CodeInsufficientCredits, "insufficient credits")
	ErrExternalTransient   = New(CodeExternalTransient, "external service temporarily unavailable")
	ErrExternalFatal       = New(CodeExternalFatal, "external service rejected request")
	ErrWorkerTimeout       = New(CodeWorkerTimeout, "worker time limit exceeded")
	ErrDataIntegrity       = New(CodeDataIntegrity, "session input missing or corrupt")
)

// LockContention 会话已被其他 worker 持有
func LockContention(sessionID string) *AppError {
	return ErrLockContention.WithDetail("session_id=" + sessionID)
}

// InsufficientCredits 余额不足
func InsufficientCredits(userID string, required, available int64) *AppError {
	return ErrInsufficientCredits.WithDetail(fmt.Sprintf("user_id=%s required=%d available=%d", userID, required, available))
}

// ExternalTransient 外部服务暂时性错误
func ExternalTransient(err error) *AppError {
	return ErrExternalTransient.WithError(err)
}

// ExternalFatal 外部服务不可重试错误
func ExternalFatal(err error) *AppError {
	return ErrExternalFatal.WithError(err)
}

// WorkerTimeout 超出执行时限
func WorkerTimeout(detail string) *AppError {
	return ErrWorkerTimeout.WithDetail(detail)
}

// DataIntegrity 输入缺失或损坏
func DataIntegrity(detail string) *AppError {
	return ErrDataIntegrity.WithDetail(detail)
}

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

// KindOf 返回错误类别，非 AppError 视为 InternalError
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind()
	}
	return KindInternal
}

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 透传标准库 errors.As
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
