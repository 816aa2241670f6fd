package handlers

import (
	"net/http"

	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/services"
	"church-recruit-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// RecruitmentsHandler 公开的招募查询接口
type RecruitmentsHandler struct {
	config *config.Config
	svc    *services.RecruitmentService
	log    logger.Logger
}

func NewRecruitmentsHandler(cfg *config.Config, svc *services.RecruitmentService, log logger.Logger) *RecruitmentsHandler {
	return &RecruitmentsHandler{config: cfg, svc: svc, log: log}
}

// ListRecruitments GET /api/recruitments[?churchCode=]
func (h *RecruitmentsHandler) ListRecruitments(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), r.URL.Query().Get("churchCode"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteListResponse(w, items, len(items))
}

// GetRecruitment GET /api/recruitments/{id}
func (h *RecruitmentsHandler) GetRecruitment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chiRoute.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteSuccessResponse(w, rec)
}
