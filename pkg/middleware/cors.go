package middleware

import (
	"net/http"
	"slices"

	"church-recruit-backend/pkg/config"

	"github.com/go-chi/cors"
)

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsHeaders = []string{"Accept", "Content-Type", "X-Requested-With"}
	// 前端需要读取限流等待时间与导出文件名
	corsExposed = []string{"Retry-After", "Content-Disposition", "X-Request-Id"}
)

// CORS 跨域中间件。
// 会话依赖 cookie：配置了具体来源时允许凭据；通配来源下浏览器不会携带 cookie。
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	return cors.Handler(corsOptions(cfg.AllowedOrigins))
}

func corsOptions(origins []string) cors.Options {
	wildcard := len(origins) == 0 || slices.Contains(origins, "*")
	if wildcard {
		origins = []string{"*"}
	}

	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   corsMethods,
		AllowedHeaders:   corsHeaders,
		ExposedHeaders:   corsExposed,
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}
}
