package middleware

import (
	"net/http"
	"strings"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/utils"
)

// ContentTypeJSON 带请求体的 POST/PATCH 必须是 application/json
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPatch) && r.ContentLength != 0 {
			contentType := r.Header.Get("Content-Type")
			// 忽略 charset 等参数
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json") {
				utils.WriteAppError(w, apperrors.FieldValidation("Content-Type must be application/json", "Content-Type", "application/json required"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize 限制请求体大小
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
