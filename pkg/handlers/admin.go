package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/middleware"
	"church-recruit-backend/pkg/models"
	"church-recruit-backend/pkg/ratelimit"
	"church-recruit-backend/pkg/services"
	"church-recruit-backend/pkg/utils"
	"church-recruit-backend/pkg/validation"

	chiRoute "github.com/go-chi/chi/v5"
)

var errWrongSecret = &apperrors.Error{Code: apperrors.CodeUnauthorized, Message: "관리자 비밀번호가 올바르지 않습니다."}

// AdminHandler 管理员会话与招募管理接口。church_code 来自会话。
type AdminHandler struct {
	config *config.Config
	jwt    *utils.JWTService
	svc    *services.RecruitmentService
	log    logger.Logger
}

func NewAdminHandler(cfg *config.Config, jwtSvc *utils.JWTService, svc *services.RecruitmentService, log logger.Logger) *AdminHandler {
	return &AdminHandler{config: cfg, jwt: jwtSvc, svc: svc, log: log}
}

// Login POST /api/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.config.AdminSecret == "" || h.config.ChurchCode == "" {
		writeError(w, r, h.log, apperrors.Storage("admin login", fmt.Errorf("ADMIN_SECRET or CHURCH_CODE not configured")))
		return
	}

	var req models.AdminLoginRequest
	if err := decodeBody(r, validation.AdminLogin, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.config.AdminSecret)) != 1 {
		h.log.Warn("admin login failed", map[string]interface{}{"ip": ratelimit.ClientAddress(r)})
		utils.WriteAppError(w, errWrongSecret)
		return
	}

	token, expires, err := h.jwt.IssueAdmin(h.config.ChurchCode)
	if err != nil {
		writeError(w, r, h.log, apperrors.Storage("issue admin session", err))
		return
	}

	setSessionCookie(w, r, h.config, middleware.AdminCookieName, token, expires)
	h.log.Info("admin logged in", map[string]interface{}{"church_code": h.config.ChurchCode})
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"churchCode": h.config.ChurchCode,
		"expiresAt":  expires.Unix(),
	})
}

// Logout POST /api/admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, r, h.config, middleware.AdminCookieName)
	utils.WriteSuccessResponse(w, map[string]interface{}{"loggedOut": true})
}

// ListRecruitments GET /api/admin/recruitments
func (h *AdminHandler) ListRecruitments(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), middleware.AdminChurchCode(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteListResponse(w, items, len(items))
}

// CreateRecruitment POST /api/admin/recruitments
func (h *AdminHandler) CreateRecruitment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRecruitmentRequest
	if err := decodeBody(r, validation.CreateRecruitment, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	rec, err := h.svc.Create(r.Context(), middleware.AdminChurchCode(r.Context()), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteCreatedResponse(w, rec)
}

// GetRecruitment GET /api/admin/recruitments/{id}
func (h *AdminHandler) GetRecruitment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.AdminGet(r.Context(), middleware.AdminChurchCode(r.Context()), chiRoute.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteSuccessResponse(w, rec)
}

// UpdateRecruitment PATCH /api/admin/recruitments/{id}
func (h *AdminHandler) UpdateRecruitment(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateRecruitmentRequest
	if err := decodeBody(r, validation.UpdateRecruitment, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	rec, err := h.svc.Update(r.Context(), middleware.AdminChurchCode(r.Context()), chiRoute.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteSuccessResponse(w, rec)
}

// UpdateStatus POST /api/admin/recruitments/{id}/status
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatusRequest
	if err := decodeBody(r, validation.UpdateStatus, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	rec, err := h.svc.SetStatus(r.Context(), middleware.AdminChurchCode(r.Context()), chiRoute.URLParam(r, "id"), models.RecruitmentStatus(req.Status))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteSuccessResponse(w, rec)
}

// DeleteRecruitment DELETE /api/admin/recruitments/{id}
func (h *AdminHandler) DeleteRecruitment(w http.ResponseWriter, r *http.Request) {
	id := chiRoute.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), middleware.AdminChurchCode(r.Context()), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"id": id, "deleted": true})
}

// ListApplications GET /api/admin/recruitments/{id}/applications[?format=csv|tsv]
func (h *AdminHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	churchCode := middleware.AdminChurchCode(r.Context())
	id := chiRoute.URLParam(r, "id")

	if raw := r.URL.Query().Get("format"); raw != "" && raw != "json" {
		h.export(w, r, churchCode, id, raw)
		return
	}

	items, err := h.svc.Applications(r.Context(), churchCode, id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteListResponse(w, items, len(items))
}

func (h *AdminHandler) export(w http.ResponseWriter, r *http.Request, churchCode, id, rawFormat string) {
	format, err := services.ParseExportFormat(rawFormat)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	// 先取完整列表，避免写出一半后才发现错误
	items, err := h.svc.Applications(r.Context(), churchCode, id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == services.FormatTSV {
		contentType = "text/tab-separated-values; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="applications-%s.%s"`, id, format))
	w.WriteHeader(http.StatusOK)

	if err := services.WriteApplications(w, format, items); err != nil {
		h.log.WithError(err).Error("application export interrupted", map[string]interface{}{"recruitment_id": id})
	}
}

// CleanupCorrupt POST /api/admin/cleanup-corrupt（仅非生产环境）
func (h *AdminHandler) CleanupCorrupt(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.CleanupCorrupt(r.Context(), middleware.AdminChurchCode(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteSuccessResponse(w, result)
}
