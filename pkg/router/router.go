package router

import (
	"fmt"
	"net/http"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/handlers"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/metrics"
	customMiddleware "church-recruit-backend/pkg/middleware"
	"church-recruit-backend/pkg/ratelimit"
	"church-recruit-backend/pkg/services"
	"church-recruit-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestTimeout 单个请求的处理时限（无服务器函数有执行时间限制）
const RequestTimeout = 25 * time.Second

const codeMethodNotAllowed apperrors.ErrorCode = "METHOD_NOT_ALLOWED"

// Deps 构建路由所需的依赖
type Deps struct {
	Config  *config.Config
	DB      database.DatabaseInterface
	Logger  logger.Logger
	Metrics *metrics.Metrics
	// Limiters 为 nil 时按配置以进程内后端构建
	Limiters *Limiters
}

// New 创建 chi 路由器，集中管理全部 API 端点
func New(deps Deps) (*chi.Mux, error) {
	if deps.Config == nil || deps.DB == nil {
		return nil, fmt.Errorf("router requires config and database")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default
	}
	if deps.Limiters == nil {
		limiters, err := NewLimiters(deps.Config, nil)
		if err != nil {
			return nil, err
		}
		deps.Limiters = limiters
	}

	router := chi.NewRouter()
	setupMiddleware(router, deps)
	setupRoutes(router, deps)
	return router, nil
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, deps Deps) {
	cfg := deps.Config

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// 先规范化路径与转发头，再记录日志和匹配路由
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(deps.Logger))
	router.Use(customMiddleware.Recovery(cfg, deps.Logger))
	router.Use(customMiddleware.Metrics(deps.Metrics))
	router.Use(customMiddleware.CORS(cfg))
	router.Use(middleware.Timeout(RequestTimeout))
	router.Use(middleware.Compress(5))

	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有路由
func setupRoutes(router *chi.Mux, deps Deps) {
	cfg, db, log := deps.Config, deps.DB, deps.Logger
	jwtSvc := utils.NewJWTService(cfg.JWTSecret)

	applicationSvc := services.NewApplicationService(db, log, deps.Metrics)
	recruitmentSvc := services.NewRecruitmentService(db, log, deps.Metrics, !cfg.IsProduction())
	identitySvc := services.NewIdentityService(db, log)

	healthHandler := handlers.NewHealthHandler(cfg, db)
	applicationsHandler := handlers.NewApplicationsHandler(cfg, applicationSvc, log)
	recruitmentsHandler := handlers.NewRecruitmentsHandler(cfg, recruitmentSvc, log)
	adminHandler := handlers.NewAdminHandler(cfg, jwtSvc, recruitmentSvc, log)
	identityHandler := handlers.NewIdentityHandler(cfg, jwtSvc, identitySvc, log)

	applyLimit := customMiddleware.RateLimit(customMiddleware.RateLimitOptions{
		Name:       "apply",
		Limiter:    deps.Limiters.Apply,
		Stats:      deps.Limiters.Stats,
		Metrics:    deps.Metrics,
		Logger:     log,
		RetryAfter: cfg.RateLimit.Window,
	})
	loginLimit := customMiddleware.RateLimit(customMiddleware.RateLimitOptions{
		Name:    "login",
		Limiter: deps.Limiters.Login,
		Stats:   deps.Limiters.Stats,
		Metrics: deps.Metrics,
		Logger:  log,
		// 令牌桶补充一个令牌所需时间
		RetryAfter: loginRetryAfter(cfg.RateLimit.LoginRPS),
	})

	router.Get("/", healthHandler.HealthCheck)
	router.Get("/healthz", healthHandler.HealthCheck)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			stats := database.GetConnectionStats()
			stats["serverless"] = database.IsServerlessEnvironment()
			if mem, ok := deps.Limiters.Stats.(*ratelimit.MemoryStatsStore); ok {
				total, routes := mem.Snapshot()
				stats["rate_limit"] = map[string]interface{}{"total": total, "routes": routes}
			}
			utils.WriteSuccessResponse(w, stats)
		})
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.MaxBodySize(utils.MaxBodyBytes))
		r.Use(customMiddleware.ContentTypeJSON)

		// 公开：招募列表与详情
		r.Get("/recruitments", recruitmentsHandler.ListRecruitments)
		r.Get("/recruitments/{id}", recruitmentsHandler.GetRecruitment)

		// 申请人：以联系方式作为凭据
		r.With(applyLimit).Post("/apply", applicationsHandler.Apply)
		r.Get("/my-application", applicationsHandler.GetMyApplication)
		r.Get("/recruitments/{id}/my-application", applicationsHandler.GetMyApplicationForRecruitment)
		r.Get("/my-applications", applicationsHandler.ListMyApplications)
		r.Patch("/my-application/{id}", applicationsHandler.UpdateMyApplication)
		r.Delete("/my-application/{id}", applicationsHandler.DeleteMyApplication)

		// 申请人身份（仅用于展示）
		r.With(loginLimit).Post("/identify", identityHandler.Identify)
		r.With(customMiddleware.OptionalUser(jwtSvc)).Get("/me", identityHandler.Me)

		r.Route("/admin", func(r chi.Router) {
			r.With(loginLimit).Post("/login", adminHandler.Login)
			r.Post("/logout", adminHandler.Logout)

			// 需要管理员会话的路由
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RequireAdmin(jwtSvc, cfg.ChurchCode, log))

				r.Route("/recruitments", func(r chi.Router) {
					r.Get("/", adminHandler.ListRecruitments)
					r.Post("/", adminHandler.CreateRecruitment)
					r.Get("/{id}", adminHandler.GetRecruitment)
					r.Patch("/{id}", adminHandler.UpdateRecruitment)
					r.Delete("/{id}", adminHandler.DeleteRecruitment)
					r.Post("/{id}/status", adminHandler.UpdateStatus)
					r.Get("/{id}/applications", adminHandler.ListApplications)
				})
				r.Post("/cleanup-corrupt", adminHandler.CleanupCorrupt)
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, codeMethodNotAllowed,
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), nil)
	})
}

func loginRetryAfter(rps float64) time.Duration {
	if rps <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / rps)
}
