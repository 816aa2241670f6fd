package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/router"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewStructured("info", "console").WithError(err).Error("failed to load config", nil)
		os.Exit(1)
	}

	log := logger.NewStructured(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server stopped with error", nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.UsesDefaultJWTSecret() {
		log.Warn("using default JWT secret; set JWT_SECRET outside development", nil)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.NewPooledDatabase(database.DatabaseConfig{
		UseLocalDB:   cfg.UseLocalDB,
		PostgresDSN:  cfg.PostgresDSN,
		LocalDataDir: cfg.LocalDataDir,
		Debug:        cfg.Debug,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		current, err := db.Current()
		if err != nil {
			return err
		}
		if pg, ok := current.(*database.PostgresDatabase); ok {
			if err := database.Migrate(pg.DB()); err != nil {
				return err
			}
			log.Info("database migrations applied", nil)
		}
	}

	rdb := router.NewRedisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// 限流器出错时放行，启动不因此失败
			log.WithError(err).Warn("redis unreachable at startup", map[string]interface{}{"addr": cfg.RedisAddr})
		}
		pingCancel()
	}

	limiters, err := router.NewLimiters(cfg, rdb)
	if err != nil {
		return err
	}
	limiters.StartJanitor(ctx)

	h, err := router.New(router.Deps{
		Config:   cfg,
		DB:       db,
		Logger:   log,
		Limiters: limiters,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown incomplete", nil)
		}
	}()

	log.Info("server listening", map[string]interface{}{
		"addr":        srv.Addr,
		"environment": cfg.Environment,
		"rate_limit":  cfg.RateLimit.Backend,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped", nil)
	return nil
}
