package router

import (
	"context"
	"fmt"

	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/ratelimit"

	"github.com/redis/go-redis/v9"
)

// Limiters 各端点使用的限流器
type Limiters struct {
	// Apply 提交申请：滑动窗口（进程内或 Redis）
	Apply ratelimit.Limiter
	// Login 管理员登录与身份识别：令牌桶
	Login *ratelimit.BucketStore
	// Stats 可选；未启用时为 nil
	Stats ratelimit.StatsStore
}

// NewRedisClient 按配置创建 Redis 客户端；未配置地址时返回 nil
func NewRedisClient(cfg *config.Config) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewLimiters 按 RATE_LIMIT_BACKEND 构建限流器。
// redis 后端要求 rdb 非 nil；统计在有 Redis 时写 Redis，否则写进程内。
func NewLimiters(cfg *config.Config, rdb redis.UniversalClient) (*Limiters, error) {
	rl := cfg.RateLimit
	l := &Limiters{
		Login: ratelimit.NewBucketStore(rl.LoginRPS, rl.LoginBurst, ratelimit.WithBucketMaxKeys(rl.MaxKeys)),
	}

	switch rl.Backend {
	case "", "memory":
		l.Apply = ratelimit.NewSlidingWindow(rl.MaxRequests, rl.Window, ratelimit.WithMaxKeys(rl.MaxKeys))
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("rate limit backend redis requires REDIS_ADDR")
		}
		l.Apply = ratelimit.NewRedisWindow(rdb, rl.MaxRequests, rl.Window, ratelimit.WithKeyPrefix("ratelimit:apply"))
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", rl.Backend)
	}

	if rl.StatsEnabled {
		if rdb != nil {
			l.Stats = ratelimit.NewRedisStatsStore(rdb)
		} else {
			l.Stats = ratelimit.NewMemoryStatsStore()
		}
	}
	return l, nil
}

// StartJanitor 启动令牌桶的后台清理
func (l *Limiters) StartJanitor(ctx context.Context) {
	if l.Login != nil {
		l.Login.StartJanitor(ctx)
	}
}
