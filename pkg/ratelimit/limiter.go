package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 判断某个 key 在 now 时刻的请求是否放行。
// 被拒绝的请求不计入窗口。
type Limiter interface {
	Admit(ctx context.Context, key string, now time.Time) (bool, error)
}

// Default parameters for the apply endpoint
const (
	DefaultWindow      = 5 * time.Second
	DefaultMaxRequests = 5
	DefaultMaxKeys     = 1000
)

// SlidingWindow 进程内滑动日志限流器
type SlidingWindow struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	maxKeys int
	hits    map[string][]time.Time
}

type Option func(*SlidingWindow)

// WithMaxKeys 跟踪的 key 超过 n 个时触发清理
func WithMaxKeys(n int) Option {
	return func(s *SlidingWindow) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// NewSlidingWindow 每个 key 在 window 内最多放行 max 次
func NewSlidingWindow(max int, window time.Duration, opts ...Option) *SlidingWindow {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	s := &SlidingWindow{
		window:  window,
		max:     max,
		maxKeys: DefaultMaxKeys,
		hits:    make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlidingWindow) Window() time.Duration { return s.window }
func (s *SlidingWindow) Max() int              { return s.max }

// Admit 实现 Limiter
func (s *SlidingWindow) Admit(_ context.Context, key string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.prune(s.hits[key], now, s.window)
	if len(recent) >= s.max {
		s.hits[key] = recent
		return false, nil
	}

	s.hits[key] = append(recent, now)

	if len(s.hits) > s.maxKeys {
		s.gc(now)
	}
	return true, nil
}

// prune 保留 now - ts < window 的时间戳
func (s *SlidingWindow) prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}

// gc 删除 2×window 内没有任何请求的 key
func (s *SlidingWindow) gc(now time.Time) {
	for key, ts := range s.hits {
		active := false
		for _, t := range ts {
			if now.Sub(t) < 2*s.window {
				active = true
				break
			}
		}
		if !active {
			delete(s.hits, key)
		}
	}
}

// Len 当前跟踪的 key 数量
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}
