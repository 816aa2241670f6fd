package middleware

import (
	"net/http"
	"strings"
)

// Normalize standardizes request fields coming through proxies (Vercel/Cloudflare)
//   - trims whitespace around URL.Path ("/api/apply%20" routes as "/api/apply")
//   - drops a trailing slash so "/api/recruitments/" matches "/api/recruitments"
//   - restores scheme/host from forwarding headers for logs and cookie attributes
func Normalize() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := strings.TrimSpace(r.URL.Path)
			if len(p) > 1 && strings.HasSuffix(p, "/") {
				p = strings.TrimRight(p, "/")
				if p == "" {
					p = "/"
				}
			}
			if p != r.URL.Path {
				r.URL.Path = p
				r.URL.RawPath = ""
			}

			if xfproto := r.Header.Get("X-Forwarded-Proto"); xfproto != "" {
				r.URL.Scheme = strings.TrimSpace(strings.Split(xfproto, ",")[0])
			}
			if xfhost := r.Header.Get("X-Forwarded-Host"); xfhost != "" {
				r.Host = strings.TrimSpace(strings.Split(xfhost, ",")[0])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsSecureRequest 请求是否经由 HTTPS（直接或代理）
func IsSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.URL.Scheme, "https")
}
