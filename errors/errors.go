// Package errors 提供带错误码的应用错误类型，供查询、审计、生命周期各层统一返回。
package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	// 通用错误代码
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"

	// 查询/写入校验
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// 软删除状态前置条件
	ErrCodeNotFoundOrDeleted    ErrorCode = "NOT_FOUND_OR_DELETED"
	ErrCodeNotFoundOrNotDeleted ErrorCode = "NOT_FOUND_OR_NOT_DELETED"

	// 基础设施错误代码
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeAuditWrite         ErrorCode = "AUDIT_WRITE_FAILURE"
)

// 校验错误的细分类型，写入 Details()["kind"]。
const (
	KindUnknownEntity       = "unknown_entity"
	KindUnknownField        = "unknown_field"
	KindUnsupportedOperator = "unsupported_operator"
	KindMalformed           = "malformed"
)

// 状态错误的原因，写入 Details()["reason"]。
const (
	ReasonMissing = "missing"
	ReasonDeleted = "deleted"
	ReasonActive  = "active"
)

// IError 错误接口
type IError interface {
	error

	Code() ErrorCode
	Message() string
	Cause() error
	Details() map[string]any
	Stack() string

	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Stack() string   { return e.stack }

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Is 同错误码的 AppError 视为相等
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails 添加详情，返回新错误
func (e *AppError) WithDetails(details map[string]any) IError {
	newDetails := copyMap(e.details)
	for k, v := range details {
		newDetails[k] = v
	}
	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

// WithContext 添加单个上下文键值
func (e *AppError) WithContext(key string, value any) IError {
	return e.WithDetails(map[string]any{key: value})
}

// NewValidationError 创建无字段归属的校验错误
func NewValidationError(message string) IError {
	return NewError(ErrCodeValidation, message).WithContext("kind", KindMalformed)
}

// NewFieldError 创建指向具体字段的校验错误
func NewFieldError(kind, field, message string) IError {
	return NewError(ErrCodeValidation, message).WithDetails(map[string]any{
		"kind":  kind,
		"field": field,
	})
}

// NewNotFoundOrDeleted 实体不存在或已被软删除
func NewNotFoundOrDeleted(table string, id int64, reason string) IError {
	return NewError(ErrCodeNotFoundOrDeleted,
		fmt.Sprintf("%s %d is %s", table, id, describeReason(reason))).
		WithDetails(map[string]any{"table": table, "id": id, "reason": reason})
}

// NewNotFoundOrNotDeleted 实体不存在或未处于删除状态（不可恢复）
func NewNotFoundOrNotDeleted(table string, id int64, reason string) IError {
	return NewError(ErrCodeNotFoundOrNotDeleted,
		fmt.Sprintf("%s %d is %s", table, id, describeReason(reason))).
		WithDetails(map[string]any{"table": table, "id": id, "reason": reason})
}

func describeReason(reason string) string {
	switch reason {
	case ReasonMissing:
		return "not found"
	case ReasonDeleted:
		return "deleted"
	case ReasonActive:
		return "not deleted"
	default:
		return reason
	}
}

// IsValidation 检查是否为校验错误
func IsValidation(err error) bool {
	return IsErrorCode(err, ErrCodeValidation)
}

// IsNotFoundOrDeleted 检查是否为 NOT_FOUND_OR_DELETED
func IsNotFoundOrDeleted(err error) bool {
	return IsErrorCode(err, ErrCodeNotFoundOrDeleted)
}

// IsNotFoundOrNotDeleted 检查是否为 NOT_FOUND_OR_NOT_DELETED
func IsNotFoundOrNotDeleted(err error) bool {
	return IsErrorCode(err, ErrCodeNotFoundOrNotDeleted)
}

// IsBackendUnavailable 检查是否为后端不可用
func IsBackendUnavailable(err error) bool {
	return IsErrorCode(err, ErrCodeBackendUnavailable)
}

// IsErrorCode 检查错误链中最外层 AppError 的错误码
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code == code
	}
	return false
}

// GetErrorCode 获取错误代码，非 AppError 视为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

// Detail 读取错误详情中的某个键，非 AppError 返回 nil
func Detail(err error, key string) any {
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.Details()[key]
	}
	return nil
}

// captureStack 捕获堆栈信息
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return builder.String()
}

func copyMap(original map[string]any) map[string]any {
	copied := make(map[string]any, len(original))
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
