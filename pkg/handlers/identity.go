package handlers

import (
	"net/http"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/middleware"
	"church-recruit-backend/pkg/models"
	"church-recruit-backend/pkg/services"
	"church-recruit-backend/pkg/utils"
	"church-recruit-backend/pkg/validation"
)

// IdentityHandler 申请人的弱身份（仅用于展示）
type IdentityHandler struct {
	config *config.Config
	jwt    *utils.JWTService
	svc    *services.IdentityService
	log    logger.Logger
}

func NewIdentityHandler(cfg *config.Config, jwtSvc *utils.JWTService, svc *services.IdentityService, log logger.Logger) *IdentityHandler {
	return &IdentityHandler{config: cfg, jwt: jwtSvc, svc: svc, log: log}
}

// Identify POST /api/identify
func (h *IdentityHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req models.IdentifyRequest
	if err := decodeBody(r, validation.Identify, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	user, err := h.svc.Identify(r.Context(), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	token, expires, err := h.jwt.IssueUser(user.ID, user.ChurchCode)
	if err != nil {
		writeError(w, r, h.log, apperrors.Storage("issue user session", err))
		return
	}

	setSessionCookie(w, r, h.config, middleware.UserCookieName, token, expires)
	utils.WriteSuccessResponse(w, user)
}

// Me GET /api/me
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		utils.WriteAppError(w, apperrors.New(apperrors.CodeUnauthorized, "로그인이 필요합니다."))
		return
	}

	user, err := h.svc.Me(r.Context(), claims.Subject)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnauthorized {
			clearSessionCookie(w, r, h.config, middleware.UserCookieName)
		}
		writeError(w, r, h.log, err)
		return
	}
	utils.WriteSuccessResponse(w, user)
}
