package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript 与 SlidingWindow 相同的语义：
// 删除 score <= now-window 的记录；数量已达上限则拒绝且不写入。
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window * 2)
return 1
`)

// RedisWindow 基于 Redis 有序集合的滑动窗口限流器（多实例共享）
type RedisWindow struct {
	rdb    redis.Scripter
	prefix string
	window time.Duration
	max    int
}

type RedisOption func(*RedisWindow)

// WithKeyPrefix 设置 Redis key 前缀
func WithKeyPrefix(prefix string) RedisOption {
	return func(w *RedisWindow) {
		w.prefix = strings.Trim(prefix, ":")
	}
}

// NewRedisWindow 每个 key 在 window 内最多放行 max 次
func NewRedisWindow(rdb redis.Scripter, max int, window time.Duration, opts ...RedisOption) *RedisWindow {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	w := &RedisWindow{
		rdb:    rdb,
		prefix: "ratelimit:apply",
		window: window,
		max:    max,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Admit 实现 Limiter
func (w *RedisWindow) Admit(ctx context.Context, key string, now time.Time) (bool, error) {
	nowMs := now.UnixMilli()
	// 成员需在所有实例间唯一，否则同一毫秒的 ZADD 会互相覆盖
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, w.rdb,
		[]string{w.prefix + ":" + key},
		nowMs, w.window.Milliseconds(), w.max, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis sliding window: %w", err)
	}
	return res == 1, nil
}
