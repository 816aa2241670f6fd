// Package services 组合联系方式校验、存储事务、日志与指标，供 HTTP 处理器调用
package services

import (
	"context"
	"strings"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/contact"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/metrics"
	"church-recruit-backend/pkg/models"
	"church-recruit-backend/pkg/utils"

	"github.com/google/uuid"
)

// lifecycle 操作名（日志与指标标签）
const (
	OpSubmit   = "submit"
	OpLookup   = "lookup"
	OpList     = "list"
	OpEdit     = "edit"
	OpWithdraw = "withdraw"
)

var (
	errContactRequired = apperrors.FieldValidation("contact는 필수입니다.", "contact", "required")
	errContactInvalid  = apperrors.FieldValidation("올바른 이메일 또는 전화번호를 입력해주세요.", "contact", "invalid")
	errRecruitmentID   = apperrors.FieldValidation("recruitmentId 는 필수입니다.", "recruitmentId", "required")
	errApplicationID   = apperrors.FieldValidation("applicationId가 필요합니다.", "applicationId", "required")

	errRecruitmentNotFound = apperrors.NotFound("해당 모집글을 찾을 수 없습니다.")
	errApplicationNotFound = apperrors.NotFound("신청 내역을 찾을 수 없습니다.")
)

// ApplicationService 申请提交与申请人自助操作
type ApplicationService struct {
	db      database.DatabaseInterface
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewApplicationService 创建申请服务
func NewApplicationService(db database.DatabaseInterface, log logger.Logger, m *metrics.Metrics) *ApplicationService {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if m == nil {
		m = metrics.Default
	}
	return &ApplicationService{db: db, log: log, metrics: m}
}

// normalizeContact 规范化并校验；返回 (原始去空白值, 规范化值)
func normalizeContact(raw string) (string, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", errContactRequired
	}
	normalized := contact.Normalize(trimmed)
	if !contact.IsValid(normalized) {
		return "", "", errContactInvalid
	}
	return trimmed, normalized, nil
}

// validID 非 UUID 的 id 不可能存在
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Submit 提交申请
func (s *ApplicationService) Submit(ctx context.Context, req models.SubmitApplicationRequest) (result *models.SubmitResult, err error) {
	defer func() { s.metrics.RecordSubmission(err) }()

	recruitmentID := strings.TrimSpace(req.RecruitmentID)
	if recruitmentID == "" {
		return nil, errRecruitmentID
	}
	raw, normalized, err := normalizeContact(req.Contact)
	if err != nil {
		return nil, err
	}
	if !validID(recruitmentID) {
		return nil, errRecruitmentNotFound
	}

	start := time.Now()
	app, rec, err := s.db.SubmitApplication(ctx, models.NewApplication{
		RecruitmentID:     recruitmentID,
		Contact:           raw,
		ContactNormalized: normalized,
		Name:              utils.TrimOptional(req.Name),
		Message:           utils.TrimOptional(req.Message),
	})
	s.metrics.ObserveTx(OpSubmit, time.Since(start))

	if err != nil {
		s.logOutcome(OpSubmit, err, map[string]interface{}{
			"recruitment_id": recruitmentID,
			"contact":        contact.Mask(normalized),
		})
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return nil, errRecruitmentNotFound
		}
		return nil, err
	}

	s.log.Info("application submitted", map[string]interface{}{
		"application_id": app.ID,
		"recruitment_id": rec.ID,
		"applied_count":  rec.AppliedCount,
		"capacity":       rec.Capacity,
	})

	return &models.SubmitResult{
		Application:       app,
		ContactNormalized: app.ContactNormalized,
		AppliedCount:      rec.AppliedCount,
		Capacity:          rec.Capacity,
	}, nil
}

// Lookup 按招募与联系方式查询；没有申请时返回 (nil, nil)
func (s *ApplicationService) Lookup(ctx context.Context, recruitmentID, rawContact string) (app *models.Application, err error) {
	defer func() { s.metrics.RecordLifecycle(OpLookup, err) }()

	recruitmentID = strings.TrimSpace(recruitmentID)
	if recruitmentID == "" {
		return nil, errRecruitmentID
	}
	if strings.TrimSpace(rawContact) == "" {
		return nil, errContactRequired
	}
	if !validID(recruitmentID) {
		return nil, nil
	}

	app, err = s.db.FindApplication(ctx, recruitmentID, contact.Normalize(rawContact))
	if err != nil {
		s.logOutcome(OpLookup, err, map[string]interface{}{"recruitment_id": recruitmentID})
		return nil, err
	}
	return app, nil
}

// ListForContact 联系人的全部申请，新的在前
func (s *ApplicationService) ListForContact(ctx context.Context, rawContact string) (items []models.ApplicationWithRecruitment, err error) {
	defer func() { s.metrics.RecordLifecycle(OpList, err) }()

	if strings.TrimSpace(rawContact) == "" {
		return nil, errContactRequired
	}

	items, err = s.db.ListApplicationsByContact(ctx, contact.Normalize(rawContact))
	if err != nil {
		s.logOutcome(OpList, err, nil)
		return nil, err
	}
	return items, nil
}

// Edit 修改 name/message；nil 保持不变，空串清空
func (s *ApplicationService) Edit(ctx context.Context, applicationID string, req models.EditApplicationRequest) (app *models.Application, err error) {
	defer func() { s.metrics.RecordLifecycle(OpEdit, err) }()

	normalized, err := s.ownerContact(applicationID, req.Contact)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	app, err = s.db.UpdateApplication(ctx, applicationID, normalized, models.ApplicationPatch{
		Name:    utils.TrimOptional(req.Name),
		Message: utils.TrimOptional(req.Message),
	})
	s.metrics.ObserveTx(OpEdit, time.Since(start))

	if err != nil {
		s.logOutcome(OpEdit, err, map[string]interface{}{"application_id": applicationID})
		return nil, s.lifecycleError(err)
	}

	s.log.Info("application updated", map[string]interface{}{"application_id": app.ID})
	return app, nil
}

// Withdraw 撤回申请，返回更新后的招募
func (s *ApplicationService) Withdraw(ctx context.Context, applicationID, rawContact string) (rec *models.Recruitment, err error) {
	defer func() { s.metrics.RecordLifecycle(OpWithdraw, err) }()

	normalized, err := s.ownerContact(applicationID, rawContact)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rec, err = s.db.WithdrawApplication(ctx, applicationID, normalized)
	s.metrics.ObserveTx(OpWithdraw, time.Since(start))

	if err != nil {
		s.logOutcome(OpWithdraw, err, map[string]interface{}{"application_id": applicationID})
		return nil, s.lifecycleError(err)
	}

	s.log.Info("application withdrawn", map[string]interface{}{
		"application_id": applicationID,
		"recruitment_id": rec.ID,
		"applied_count":  rec.AppliedCount,
	})
	return rec, nil
}

// ownerContact 校验申请 id 与联系方式，返回规范化联系方式
func (s *ApplicationService) ownerContact(applicationID, rawContact string) (string, error) {
	if strings.TrimSpace(applicationID) == "" {
		return "", errApplicationID
	}
	if strings.TrimSpace(rawContact) == "" {
		return "", errContactRequired
	}
	if !validID(applicationID) {
		return "", errApplicationNotFound
	}
	return contact.Normalize(rawContact), nil
}

func (s *ApplicationService) lifecycleError(err error) error {
	if apperrors.CodeOf(err) == apperrors.CodeNotFound {
		return errApplicationNotFound
	}
	return err
}

// logOutcome 业务结果记 info，存储故障记 error
func (s *ApplicationService) logOutcome(op string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["op"] = op
	fields["code"] = string(apperrors.CodeOf(err))

	if apperrors.IsBusiness(err) {
		s.log.Info("application request rejected", fields)
		return
	}
	s.log.WithError(err).Error("application storage failure", fields)
}
