package handlers

import (
	"net/http"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/middleware"
	"church-recruit-backend/pkg/utils"
	"church-recruit-backend/pkg/validation"
)

// decodeBody 读取请求体，按 schema 校验后解码
func decodeBody(r *http.Request, schema *validation.Schema, dst interface{}) error {
	raw, err := utils.ReadBody(r)
	if err != nil {
		return err
	}
	return schema.Decode(raw, dst)
}

// writeError 写出错误；服务器错误额外记录日志
func writeError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	if apperrors.CodeOf(err) == apperrors.CodeServerError {
		log.WithError(err).Error("request failed", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	utils.WriteAppError(w, err)
}

// setSessionCookie 写入 HttpOnly 会话 cookie
func setSessionCookie(w http.ResponseWriter, r *http.Request, cfg *config.Config, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction() || middleware.IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie 让浏览器删除会话 cookie
func clearSessionCookie(w http.ResponseWriter, r *http.Request, cfg *config.Config, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.IsProduction() || middleware.IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}
