package middleware

import (
	"net/http"
	"time"

	"church-recruit-backend/pkg/metrics"

	"github.com/go-chi/chi/v5/middleware"
)

// Metrics 记录请求数与耗时；路由标签使用 chi 路由模板，避免 id 造成高基数
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(r.Method, routePattern(r), status, time.Since(start))
		})
	}
}
