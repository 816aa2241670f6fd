package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg := fromViper(newTestViper())

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "3000", cfg.Port)
	assert.True(t, cfg.UseLocalDB)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 1000, cfg.RateLimit.MaxKeys)
	assert.True(t, cfg.UsesDefaultJWTSecret())
}

func TestFromViper_AllowedOriginsList(t *testing.T) {
	v := newTestViper()
	v.Set("allowed_origins", "https://a.example, https://b.example ,")

	cfg := fromViper(v)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestFromViper_ProductionForcesPostgres(t *testing.T) {
	v := newTestViper()
	v.Set("environment", "production")
	v.Set("postgres_dsn", " postgres://u:p@db:5432/app \n")
	v.Set("debug", true)

	cfg := fromViper(v)
	assert.False(t, cfg.UseLocalDB)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "postgres://u:p@db:5432/app", cfg.PostgresDSN)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("CHURCH_CODE", "grace")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")
	t.Setenv("RATE_LIMIT_MAX", "3")
	t.Setenv("RATE_LIMIT_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "grace", cfg.ChurchCode)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := fromViper(newTestViper())
		cfg.ChurchCode = "grace"
		return cfg
	}

	t.Run("valid development config", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing church code", func(t *testing.T) {
		cfg := base()
		cfg.ChurchCode = ""
		assert.ErrorContains(t, cfg.Validate(), "CHURCH_CODE")
	})

	t.Run("production requires secrets", func(t *testing.T) {
		cfg := base()
		cfg.Environment = "production"
		cfg.AdminSecret = "s3cret"
		assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")

		cfg.JWTSecret = "real-secret"
		assert.NoError(t, cfg.Validate())

		cfg.AdminSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "ADMIN_SECRET")
	})

	t.Run("postgres required when local db disabled", func(t *testing.T) {
		cfg := base()
		cfg.UseLocalDB = false
		assert.Error(t, cfg.Validate())
	})

	t.Run("redis backend requires address", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit.Backend = "redis"
		assert.ErrorContains(t, cfg.Validate(), "REDIS_ADDR")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit.Backend = "etcd"
		assert.Error(t, cfg.Validate())
	})
}
