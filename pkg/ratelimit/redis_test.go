package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisWindow_Admit(t *testing.T) {
	_, client := newMiniredis(t)

	exerciseWindow(t, NewRedisWindow(client, 5, 5*time.Second))
}

func TestRedisWindow_SharedAcrossInstances(t *testing.T) {
	_, client := newMiniredis(t)
	ctx := context.Background()

	a := NewRedisWindow(client, 2, 5*time.Second)
	b := NewRedisWindow(client, 2, 5*time.Second)

	ok, err := a.Admit(ctx, "ip", at(0))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Admit(ctx, "ip", at(0))
	require.NoError(t, err)
	assert.True(t, ok, "same millisecond still records distinct members")
	ok, err = a.Admit(ctx, "ip", at(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisWindow_InstancesShareLimitWithinMillisecond(t *testing.T) {
	_, client := newMiniredis(t)
	ctx := context.Background()

	windows := []*RedisWindow{
		NewRedisWindow(client, 5, 5*time.Second),
		NewRedisWindow(client, 5, 5*time.Second),
	}

	admitted := 0
	for _, w := range windows {
		for i := 0; i < 5; i++ {
			ok, err := w.Admit(ctx, "ip", at(0))
			require.NoError(t, err)
			if ok {
				admitted++
			}
		}
	}
	assert.Equal(t, 5, admitted)
}

func TestRedisWindow_SetsExpiry(t *testing.T) {
	mr, client := newMiniredis(t)

	w := NewRedisWindow(client, 5, 5*time.Second, WithKeyPrefix("rl:test:"))
	ok, err := w.Admit(context.Background(), "ip", at(0))
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, mr.Exists("rl:test:ip"))
	assert.Equal(t, 10*time.Second, mr.TTL("rl:test:ip"))
}

func TestRedisWindow_ErrorWhenUnavailable(t *testing.T) {
	mr, client := newMiniredis(t)
	mr.Close()

	_, err := NewRedisWindow(client, 5, 5*time.Second).Admit(context.Background(), "ip", at(0))
	assert.Error(t, err)
}

func TestRedisStatsStore_Record(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()
	s := NewRedisStatsStore(client, WithStatsPrefix("stats"))
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, StatsEvent{Limiter: "apply", Allowed: true, Method: "POST", Path: "/api/apply", At: now}))
	require.NoError(t, s.Record(ctx, StatsEvent{Limiter: "apply", Allowed: false, Method: "POST", Path: "/api/apply", At: now}))
	require.NoError(t, s.Record(ctx, StatsEvent{Limiter: "apply", Allowed: true, Method: "POST", Path: "/api/apply", At: now}))

	assert.Equal(t, "2", mr.HGet("stats:total", "allowed"))
	assert.Equal(t, "1", mr.HGet("stats:total", "denied"))
	assert.Equal(t, "2", mr.HGet("stats:minute:202603011030", "allowed"))
	assert.Equal(t, "1", mr.HGet("stats:route", "apply POST /api/apply:denied"))
	assert.Equal(t, 24*time.Hour, mr.TTL("stats:minute:202603011030"))
}

func TestMemoryStatsStore_Record(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	_ = s.Record(ctx, StatsEvent{Limiter: "login", Allowed: true, Method: "POST", Path: "/api/admin/login"})
	_ = s.Record(ctx, StatsEvent{Limiter: "login", Allowed: false, Method: "POST", Path: "/api/admin/login"})

	total, routes := s.Snapshot()
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, total)
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, routes["login POST /api/admin/login"])
}
