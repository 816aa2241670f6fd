package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/utils"
)

// Recovery 恢复中间件，处理panic并返回统一的错误体
func Recovery(cfg *config.Config, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// 连接已中断，交回 net/http 处理
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.Error("panic recovered", map[string]interface{}{
					"panic":  fmt.Sprint(rec),
					"path":   r.URL.Path,
					"method": r.Method,
					"stack":  string(debug.Stack()),
				})

				if cfg != nil && cfg.IsDevelopment() {
					// 开发环境：显示 panic 内容
					utils.WriteErrorResponseWithCode(w, http.StatusInternalServerError,
						apperrors.CodeServerError, fmt.Sprintf("Internal server error: %v", rec), nil)
					return
				}
				utils.WriteInternalServerErrorResponse(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
