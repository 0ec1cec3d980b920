package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"

	// 检索错误
	ErrCodeMalformedQuery ErrorCode = "MALFORMED_QUERY"
	ErrCodeLexicalFailed  ErrorCode = "LEXICAL_SEARCH_FAILED"

	// 索引错误
	ErrCodeTransientIndex ErrorCode = "TRANSIENT_INDEX_ERROR"
	ErrCodeIndexCorrupt   ErrorCode = "INDEX_CORRUPT"

	// 外部依赖错误
	ErrCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrCodeCacheUnavailable     ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeExternalService      ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout              ErrorCode = "TIMEOUT"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeValidation
	ErrorTypeTransient
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Type    ErrorType   `json:"type"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Type:    ErrorTypeSystem,
	}
}

// NewValidationError 创建验证错误，同步拒绝且不静默修正
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedQuery,
		Message: message,
		Type:    ErrorTypeValidation,
	}
}

// NewTransientError 创建可重试的瞬时错误（索引后端暂时不可用）
func NewTransientError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeTransientIndex,
		Message: message,
		Type:    ErrorTypeTransient,
	}
}

// NewLexicalFailedError 创建词法检索失败错误，词法通道失败是硬错误
func NewLexicalFailedError(message string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeLexicalFailed,
		Message: message,
		Type:    ErrorTypeTransient,
		Cause:   cause,
	}
}

// NewEmbeddingUnavailableError 创建向量化服务不可用错误
// 索引路径降级为纯词法条目，查询路径降级为纯词法检索
func NewEmbeddingUnavailableError(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeEmbeddingUnavailable,
		Message: "embedding provider unavailable",
		Type:    ErrorTypeExternal,
		Cause:   cause,
	}
}

// NewCacheUnavailableError 创建缓存不可用错误，该错误永远不向调用方透出
func NewCacheUnavailableError(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeCacheUnavailable,
		Message: "result cache unavailable",
		Type:    ErrorTypeExternal,
		Cause:   cause,
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedQuery,
		Message: fmt.Sprintf("invalid value for '%s': %s", field, reason),
		Type:    ErrorTypeValidation,
	}
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeTransient
	}
	return false
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternal, "internal error").WithCause(err)
}
