package handler

import (
	"context"
	"net/http"
	"sync"

	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/router"
	"church-recruit-backend/pkg/utils"
)

// 冷启动时构建，热调用复用（本地内存库与限流器状态随实例保留）。
// 构建失败不缓存，下一次请求重试。
var (
	mu            sync.Mutex
	cachedHandler http.Handler
	buildHandler  = build
)

// Handler 是 Vercel 函数的入口点，所有 API 端点集中在一个 chi 路由器中
func Handler(w http.ResponseWriter, r *http.Request) {
	h, err := resolveHandler()
	if err != nil {
		utils.WriteInternalServerErrorResponse(w)
		return
	}
	h.ServeHTTP(w, r)
}

func resolveHandler() (http.Handler, error) {
	mu.Lock()
	defer mu.Unlock()

	if cachedHandler != nil {
		return cachedHandler, nil
	}
	h, err := buildHandler()
	if err != nil {
		return nil, err
	}
	cachedHandler = h
	return h, nil
}

func build() (http.Handler, error) {
	cfg, err := config.GetCached()
	if err != nil {
		return nil, err
	}

	log := logger.NewStructured(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("configuration error", nil)
		return nil, err
	}

	// 每次调用经由连接池取实例，失效连接在后续请求中重建
	db, err := database.NewPooledDatabase(database.DatabaseConfig{
		UseLocalDB:   cfg.UseLocalDB,
		PostgresDSN:  cfg.PostgresDSN,
		LocalDataDir: cfg.LocalDataDir,
		Debug:        cfg.Debug,
		Logger:       log,
	})
	if err != nil {
		log.WithError(err).Error("database unavailable", nil)
		return nil, err
	}

	limiters, err := router.NewLimiters(cfg, router.NewRedisClient(cfg))
	if err != nil {
		log.WithError(err).Error("rate limiter setup failed", nil)
		return nil, err
	}
	// 实例存活期间持续清理；实例冻结时由令牌桶的 key 上限兜底
	limiters.StartJanitor(context.Background())

	return router.New(router.Deps{
		Config:   cfg,
		DB:       db,
		Logger:   log,
		Limiters: limiters,
	})
}
