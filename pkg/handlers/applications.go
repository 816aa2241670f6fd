package handlers

import (
	"net/http"
	"strings"

	"church-recruit-backend/pkg/config"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/models"
	"church-recruit-backend/pkg/services"
	"church-recruit-backend/pkg/utils"
	"church-recruit-backend/pkg/validation"

	chiRoute "github.com/go-chi/chi/v5"
)

// ApplicationsHandler 申请提交与申请人自助接口
type ApplicationsHandler struct {
	config *config.Config
	svc    *services.ApplicationService
	log    logger.Logger
}

func NewApplicationsHandler(cfg *config.Config, svc *services.ApplicationService, log logger.Logger) *ApplicationsHandler {
	return &ApplicationsHandler{config: cfg, svc: svc, log: log}
}

// Apply POST /api/apply
func (h *ApplicationsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitApplicationRequest
	if err := decodeBody(r, validation.Apply, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	result, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	utils.WriteCreatedResponse(w, result)
}

// GetMyApplication GET /api/my-application?recruitmentId=&contact=
func (h *ApplicationsHandler) GetMyApplication(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, r.URL.Query().Get("recruitmentId"))
}

// GetMyApplicationForRecruitment GET /api/recruitments/{id}/my-application?contact=
func (h *ApplicationsHandler) GetMyApplicationForRecruitment(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, chiRoute.URLParam(r, "id"))
}

func (h *ApplicationsHandler) lookup(w http.ResponseWriter, r *http.Request, recruitmentID string) {
	app, err := h.svc.Lookup(r.Context(), recruitmentID, r.URL.Query().Get("contact"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	// 没有申请时 item 为 null
	utils.WriteSuccessResponse(w, map[string]interface{}{"item": app})
}

// ListMyApplications GET /api/my-applications?contact=
func (h *ApplicationsHandler) ListMyApplications(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListForContact(r.Context(), r.URL.Query().Get("contact"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	utils.WriteListResponse(w, items, len(items))
}

// UpdateMyApplication PATCH /api/my-application/{id}
func (h *ApplicationsHandler) UpdateMyApplication(w http.ResponseWriter, r *http.Request) {
	var req models.EditApplicationRequest
	if err := decodeBody(r, validation.EditApplication, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	app, err := h.svc.Edit(r.Context(), chiRoute.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	utils.WriteSuccessResponse(w, app)
}

// DeleteMyApplication DELETE /api/my-application/{id}
// contact 取自 JSON 请求体；没有请求体时取 ?contact=
func (h *ApplicationsHandler) DeleteMyApplication(w http.ResponseWriter, r *http.Request) {
	raw, err := utils.ReadBody(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	var req models.WithdrawApplicationRequest
	if strings.TrimSpace(string(raw)) == "" {
		req.Contact = r.URL.Query().Get("contact")
	} else if err := validation.Withdraw.Decode(raw, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	rec, err := h.svc.Withdraw(r.Context(), chiRoute.URLParam(r, "id"), req.Contact)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"recruitmentId": rec.ID,
		"appliedCount":  rec.AppliedCount,
		"capacity":      rec.Capacity,
	})
}
