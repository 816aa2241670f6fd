package middleware

import (
	"context"
	"net/http"

	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/models"
	"church-recruit-backend/pkg/utils"
)

// ContextKey 用于在context中存储会话信息的键
type ContextKey string

const (
	AdminContextKey ContextKey = "admin"
	UserContextKey  ContextKey = "user"
)

// 会话 cookie 名称
const (
	AdminCookieName = "admin_session"
	UserCookieName  = "session_user"
)

// RequireAdmin 校验 admin_session cookie，并把 church_code 放入 context。
// churchCode 非空时，令牌必须属于该教会。
func RequireAdmin(jwtSvc *utils.JWTService, churchCode string, log logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(AdminCookieName)
			if err != nil || cookie.Value == "" {
				utils.WriteUnauthorizedResponse(w)
				return
			}

			claims, err := jwtSvc.ValidateToken(cookie.Value, models.SessionTypeAdmin)
			if err != nil {
				log.Debug("admin session rejected", map[string]interface{}{"error": err.Error(), "path": r.URL.Path})
				utils.WriteUnauthorizedResponse(w)
				return
			}

			if churchCode != "" && claims.ChurchCode != churchCode {
				log.Warn("admin session for another church", map[string]interface{}{"path": r.URL.Path})
				utils.WriteUnauthorizedResponse(w)
				return
			}

			ctx := context.WithValue(r.Context(), AdminContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalUser 解析 session_user cookie；无效时按匿名继续
func OptionalUser(jwtSvc *utils.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(UserCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := jwtSvc.ValidateToken(cookie.Value, models.SessionTypeUser)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminFromContext 获取管理员会话
func GetAdminFromContext(ctx context.Context) (*models.SessionClaims, bool) {
	claims, ok := ctx.Value(AdminContextKey).(*models.SessionClaims)
	return claims, ok && claims != nil
}

// AdminChurchCode 管理员会话的 church_code；没有会话时为空
func AdminChurchCode(ctx context.Context) string {
	if claims, ok := GetAdminFromContext(ctx); ok {
		return claims.ChurchCode
	}
	return ""
}

// GetUserFromContext 获取用户会话
func GetUserFromContext(ctx context.Context) (*models.SessionClaims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.SessionClaims)
	return claims, ok && claims != nil
}
