package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 数据库配置
	UseLocalDB  bool
	PostgresDSN string
	AutoMigrate bool

	// 本地库的 JSON 持久化目录，为空时只在内存中
	LocalDataDir string

	// 管理员配置（单租户部署：一个教会代码）
	AdminSecret string
	ChurchCode  string

	// JWT配置（admin_session / session_user cookie 签名）
	JWTSecret string

	// CORS配置
	AllowedOrigins []string

	// 日志配置
	LogLevel  string
	LogFormat string

	// Redis配置（共享限流器与限流统计）
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// 限流配置
	RateLimit RateLimitConfig

	// 调试配置
	Debug bool
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Backend 为 "memory"（进程内）或 "redis"（多实例共享）
	Backend      string
	Window       time.Duration
	MaxRequests  int
	MaxKeys      int
	StatsEnabled bool

	// 管理员登录/身份识别使用令牌桶限流
	LoginRPS   float64
	LoginBurst int
}

// LoadConfig 加载配置（.env 文件 + configs/config.yaml + 环境变量）
func LoadConfig() (*Config, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return fromViper(v), nil
}

// setDefaults 默认值，键名与环境变量一致（AutomaticEnv 直接覆盖）
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", "3000")
	v.SetDefault("use_local_db", true)
	v.SetDefault("auto_migrate", false)
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("allowed_origins", "*")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("redis_db", 0)
	v.SetDefault("rate_limit_backend", "memory")
	v.SetDefault("rate_limit_window", "5s")
	v.SetDefault("rate_limit_max", 5)
	v.SetDefault("rate_limit_max_keys", 1000)
	v.SetDefault("rate_stats_enabled", false)
	v.SetDefault("login_rate_rps", 0.2)
	v.SetDefault("login_rate_burst", 5)
	v.SetDefault("debug", false)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Environment: strings.TrimSpace(v.GetString("environment")),
		Port:        strings.TrimSpace(v.GetString("port")),
		UseLocalDB:  v.GetBool("use_local_db"),
		// Trim whitespace to avoid trailing spaces/newlines from env sources
		PostgresDSN:   strings.TrimSpace(v.GetString("postgres_dsn")),
		AutoMigrate:   v.GetBool("auto_migrate"),
		LocalDataDir:  strings.TrimSpace(v.GetString("local_data_dir")),
		AdminSecret:   strings.TrimSpace(v.GetString("admin_secret")),
		ChurchCode:    strings.TrimSpace(v.GetString("church_code")),
		JWTSecret:     v.GetString("jwt_secret"),
		LogLevel:      strings.ToLower(v.GetString("log_level")),
		LogFormat:     strings.ToLower(v.GetString("log_format")),
		RedisAddr:     strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		RateLimit: RateLimitConfig{
			Backend:      strings.ToLower(strings.TrimSpace(v.GetString("rate_limit_backend"))),
			Window:       v.GetDuration("rate_limit_window"),
			MaxRequests:  v.GetInt("rate_limit_max"),
			MaxKeys:      v.GetInt("rate_limit_max_keys"),
			StatsEnabled: v.GetBool("rate_stats_enabled"),
			LoginRPS:     v.GetFloat64("login_rate_rps"),
			LoginBurst:   v.GetInt("login_rate_burst"),
		},
		Debug: v.GetBool("debug"),
	}

	// CORS配置
	allowedOrigins := strings.TrimSpace(v.GetString("allowed_origins"))
	if allowedOrigins == "" || allowedOrigins == "*" {
		cfg.AllowedOrigins = []string{"*"}
	} else {
		for _, origin := range strings.Split(allowedOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	// 环境特定配置
	if cfg.IsProduction() {
		// 生产环境配置了 PostgreSQL 时强制使用外部数据库
		if cfg.PostgresDSN != "" {
			cfg.UseLocalDB = false
		}
		cfg.Debug = false
	}

	return cfg
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	cachedErr    error
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// On serverless it initializes once per cold start and
// reuses it across warm invocations.
func GetCached() (*Config, error) {
	configOnce.Do(func() {
		cachedConfig, cachedErr = LoadConfig()
	})
	return cachedConfig, cachedErr
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.ChurchCode == "" {
		return fmt.Errorf("CHURCH_CODE is required")
	}

	if c.AdminSecret == "" && c.IsProduction() {
		return fmt.Errorf("ADMIN_SECRET must be set in production")
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	if !c.UseLocalDB && c.PostgresDSN == "" {
		return fmt.Errorf("数据库配置不完整：请配置 POSTGRES_DSN 或启用 USE_LOCAL_DB")
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %q", c.RateLimit.Backend)
	}

	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW and RATE_LIMIT_MAX must be positive")
	}

	return nil
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// UsesDefaultJWTSecret 是否仍在使用默认JWT密钥
func (c *Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

// loadEnvFile 加载 .env 文件到环境变量（不覆盖已存在的变量）
func loadEnvFile(filename string) {
	if _, err := os.Stat(filename); err != nil {
		return
	}
	_ = godotenv.Load(filename)
}
