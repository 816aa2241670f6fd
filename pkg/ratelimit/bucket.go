package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketStore 每个 key 一个令牌桶（x/time/rate）。
// 空闲 key 由后台 janitor 定期清理；key 数超过 maxKeys 时在 Admit 中就地清理，
// 无后台协程的部署（serverless）也不会无限增长。
type BucketStore struct {
	mu           sync.Mutex
	entries      map[string]*bucketEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	maxKeys      int
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type BucketOption func(*BucketStore)

func WithIdleTTL(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.cleanupEvery = d }
}

// WithBucketMaxKeys key 数超过 n 时在 Admit 中清理空闲 key
func WithBucketMaxKeys(n int) BucketOption {
	return func(s *BucketStore) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// NewBucketStore rps 为每秒补充令牌数，burst 为桶容量
func NewBucketStore(rps float64, burst int, opts ...BucketOption) *BucketStore {
	if burst <= 0 {
		burst = 1
	}
	s := &BucketStore{
		entries:      make(map[string]*bucketEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		maxKeys:      DefaultMaxKeys,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BucketStore) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &bucketEntry{lim: lim, lastSeen: now}
	if len(s.entries) > s.maxKeys {
		s.cleanupLocked(now)
	}
	return lim
}

// Admit 实现 Limiter
func (s *BucketStore) Admit(_ context.Context, key string, now time.Time) (bool, error) {
	return s.get(key, now).AllowN(now, 1), nil
}

// Cleanup 删除 idleTTL 内未使用的 key
func (s *BucketStore) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked(now)
}

func (s *BucketStore) cleanupLocked(now time.Time) {
	cutoff := now.Add(-s.idleTTL)
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// Len 当前跟踪的 key 数量
func (s *BucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor 后台定期清理，ctx 取消后退出
func (s *BucketStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Cleanup(now)
			}
		}
	}()
}
