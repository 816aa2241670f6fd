package handlers

import (
	"context"
	"net/http"
	"time"

	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/utils"
)

// HealthHandler 健康检查
type HealthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
}

func NewHealthHandler(cfg *config.Config, db database.DatabaseInterface) *HealthHandler {
	return &HealthHandler{config: cfg, db: db}
}

// HealthCheck GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	dbStatus := "healthy"
	if err := h.db.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unhealthy"
	}

	utils.WriteJSONResponse(w, status, map[string]interface{}{
		"service":     "church-recruit-backend",
		"environment": h.config.Environment,
		"database":    h.databaseType(),
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
	})
}

// databaseType 数据库类型
func (h *HealthHandler) databaseType() string {
	if h.config.UseLocalDB || h.config.PostgresDSN == "" {
		return "local"
	}
	return "postgresql"
}
