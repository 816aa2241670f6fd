package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownAddress 无法识别客户端地址时使用的 key
const UnknownAddress = "unknown"

// ClientAddress 取 X-Forwarded-For 第一跳，其次 X-Real-IP，否则 "unknown"
func ClientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return UnknownAddress
}
