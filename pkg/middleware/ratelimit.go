package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/metrics"
	"church-recruit-backend/pkg/ratelimit"
	"church-recruit-backend/pkg/utils"
)

// RateLimitOptions 限流中间件配置
type RateLimitOptions struct {
	// Name 指标与统计中的限流器名称
	Name    string
	Limiter ratelimit.Limiter
	// Stats 可选
	Stats      ratelimit.StatsStore
	Metrics    *metrics.Metrics
	Logger     logger.Logger
	RetryAfter time.Duration
	Now        func() time.Time
}

// 限流判定标签
const (
	decisionAllowed = "allowed"
	decisionDenied  = "denied"
	decisionError   = "error"
)

// RateLimit 按客户端地址限流；超限返回 429 RATE_LIMIT_EXCEEDED。
// 后端出错时放行（fail open），只记录日志与指标。
func RateLimit(opts RateLimitOptions) func(http.Handler) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = ratelimit.DefaultWindow
	}
	retryAfter := strconv.Itoa(int(math.Ceil(opts.RetryAfter.Seconds())))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.ClientAddress(r)
			now := opts.Now()

			allowed, err := opts.Limiter.Admit(r.Context(), key, now)
			if err != nil {
				opts.Metrics.RecordRateLimit(opts.Name, decisionError)
				opts.Logger.WithError(err).Warn("rate limiter unavailable, allowing request", map[string]interface{}{
					"limiter": opts.Name,
					"path":    r.URL.Path,
				})
				next.ServeHTTP(w, r)
				return
			}

			decision := decisionAllowed
			if !allowed {
				decision = decisionDenied
			}
			opts.Metrics.RecordRateLimit(opts.Name, decision)
			recordStats(r.Context(), opts, ratelimit.StatsEvent{
				Limiter: opts.Name,
				Key:     key,
				Allowed: allowed,
				Method:  r.Method,
				Path:    r.URL.Path,
				At:      now,
			})

			if !allowed {
				opts.Logger.Info("rate limit exceeded", map[string]interface{}{
					"limiter": opts.Name,
					"path":    r.URL.Path,
				})
				w.Header().Set("Retry-After", retryAfter)
				utils.WriteAppError(w, apperrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func recordStats(ctx context.Context, opts RateLimitOptions, ev ratelimit.StatsEvent) {
	if opts.Stats == nil {
		return
	}
	if err := opts.Stats.Record(ctx, ev); err != nil {
		opts.Logger.Debug("rate limit stats not recorded", map[string]interface{}{"error": err.Error()})
	}
}
