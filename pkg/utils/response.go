package utils

import (
	"encoding/json"
	"io"
	"net/http"

	"church-recruit-backend/pkg/apperrors"
)

// MaxBodyBytes 请求体上限
const MaxBodyBytes = 1 << 20

// APIResponse 标准API响应结构
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// APIError 错误信息结构
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

// Meta 列表元数据
type Meta struct {
	Total int `json:"total"`
}

// WriteJSONResponse 写入JSON响应
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

// WriteSuccessResponse 写入成功响应
func WriteSuccessResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusOK, data)
}

// WriteCreatedResponse 写入创建成功响应
func WriteCreatedResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusCreated, data)
}

// WriteListResponse 写入列表响应（附带总数）
func WriteListResponse(w http.ResponseWriter, data interface{}, total int) {
	writeEnvelope(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &Meta{Total: total},
	})
}

// WriteErrorResponseWithCode 写入带错误代码的错误响应
func WriteErrorResponseWithCode(w http.ResponseWriter, statusCode int, code apperrors.ErrorCode, message string, fields map[string][]string) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    string(code),
			Message: message,
			Fields:  fields,
		},
	})
}

// WriteAppError 把错误映射为状态码与错误体；服务器错误只返回通用消息
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	WriteErrorResponseWithCode(w, apperrors.HTTPStatus(code), code, apperrors.PublicMessage(err), apperrors.FieldsOf(err))
}

// WriteUnauthorizedResponse 写入401错误响应
func WriteUnauthorizedResponse(w http.ResponseWriter) {
	WriteAppError(w, apperrors.ErrUnauthorized)
}

// WriteNotFoundResponse 写入404错误响应
func WriteNotFoundResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusNotFound, apperrors.CodeNotFound, message, nil)
}

// WriteInternalServerErrorResponse 写入500错误响应
func WriteInternalServerErrorResponse(w http.ResponseWriter) {
	WriteAppError(w, apperrors.ErrStorage)
}

func writeEnvelope(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// 头已写出，只能放弃
		return
	}
}

// ReadBody 读取请求体（超过上限返回校验错误）
func ReadBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, apperrors.FieldValidation("요청 본문을 읽을 수 없습니다.", "body", err.Error())
	}
	if len(data) > MaxBodyBytes {
		return nil, apperrors.FieldValidation("요청 본문이 너무 큽니다.", "body", "too large")
	}
	return data, nil
}

// GetQueryParam 获取查询参数，如果不存在则返回默认值
func GetQueryParam(r *http.Request, key, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}
