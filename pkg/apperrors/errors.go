package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 对外暴露的稳定错误代码
type ErrorCode string

const (
	CodeValidation      ErrorCode = "VALIDATION_ERROR"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeClosed          ErrorCode = "RECRUITMENT_CLOSED"
	CodeCapacityFull    ErrorCode = "CAPACITY_FULL"
	CodeAlreadyApplied  ErrorCode = "ALREADY_APPLIED"
	CodeForbidden       ErrorCode = "FORBIDDEN"
	CodeRateLimited     ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeHasApplications ErrorCode = "HAS_APPLICATIONS"
	CodeServerError     ErrorCode = "SERVER_ERROR"
)

// Error 业务错误。Is 按 Code 比较，因此 errors.Is(err, ErrCapacityFull) 对任何同码错误成立。
type Error struct {
	Code      ErrorCode
	Message   string
	Fields    map[string][]string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation      = &Error{Code: CodeValidation, Message: "입력값 검증에 실패했습니다."}
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "대상을 찾을 수 없습니다."}
	ErrClosed          = &Error{Code: CodeClosed, Message: "모집이 마감되었습니다."}
	ErrCapacityFull    = &Error{Code: CodeCapacityFull, Message: "정원이 꽉 찼습니다."}
	ErrAlreadyApplied  = &Error{Code: CodeAlreadyApplied, Message: "이미 신청했습니다."}
	ErrForbidden       = &Error{Code: CodeForbidden, Message: "접근 권한이 없습니다."}
	ErrRateLimited     = &Error{Code: CodeRateLimited, Message: "요청이 너무 많습니다. 잠시 후 다시 시도해주세요."}
	ErrUnauthorized    = &Error{Code: CodeUnauthorized, Message: "관리자 인증이 필요합니다."}
	ErrHasApplications = &Error{Code: CodeHasApplications, Message: "신청자가 존재하여 글을 삭제할 수 없습니다."}
	ErrStorage         = &Error{Code: CodeServerError, Message: "요청 처리 중 오류가 발생했습니다.", Retryable: true}
)

// New 创建指定代码与消息的错误
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NotFound 指定资源不存在
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// Forbidden 拒绝访问
func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

// Validation 输入校验失败，fields 为 字段 -> 错误信息 列表
func Validation(message string, fields map[string][]string) *Error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

// FieldValidation 单字段校验失败
func FieldValidation(message, field, reason string) *Error {
	return Validation(message, map[string][]string{field: {reason}})
}

// Storage 包装底层存储错误；对外只暴露通用消息
func Storage(op string, err error) *Error {
	return &Error{
		Code:      CodeServerError,
		Message:   ErrStorage.Message,
		Retryable: true,
		Err:       fmt.Errorf("%s: %w", op, err),
	}
}

// CodeOf 提取错误代码；非 *Error 一律视为服务器错误
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServerError
}

// PublicMessage 返回可展示给调用方的消息；存储错误不泄露细节
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeServerError {
		return e.Message
	}
	return ErrStorage.Message
}

// FieldsOf 返回校验错误的字段明细
func FieldsOf(err error) map[string][]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsBusiness 业务结果（非基础设施故障），日志以 info 级别记录
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case CodeClosed, CodeCapacityFull, CodeAlreadyApplied, CodeNotFound,
		CodeForbidden, CodeValidation, CodeHasApplications:
		return true
	}
	return false
}

// HTTPStatus 错误代码到 HTTP 状态码的映射
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeClosed, CodeCapacityFull, CodeAlreadyApplied, CodeHasApplications:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
