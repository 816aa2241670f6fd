package services

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/metrics"
	"church-recruit-backend/pkg/models"
	"church-recruit-backend/pkg/utils"
)

// ExportFormat 申请列表导出格式
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatTSV ExportFormat = "tsv"
)

var exportHeader = []string{"contact", "name", "message", "createdAt"}

var (
	errCrossTenant     = apperrors.Forbidden("해당 모집글에 접근할 수 없습니다.")
	errCleanupDisabled = apperrors.Forbidden("개발 환경에서만 사용할 수 있습니다.")
	errCorruptedText   = apperrors.FieldValidation("텍스트 인코딩이 손상된 것으로 보입니다.", "body", "corrupted")
	errEmptyPatch      = apperrors.FieldValidation("수정할 항목이 없습니다.", "body", "empty")
	errUnknownFormat   = apperrors.FieldValidation("지원하지 않는 형식입니다.", "format", "csv or tsv")
)

// CleanupResult 清理损坏招募的结果
type CleanupResult struct {
	DeletedRecruitments int      `json:"deletedRecruitments"`
	DeletedApplications int      `json:"deletedApplications"`
	CorruptedIDs        []string `json:"corruptedIds"`
}

// RecruitmentService 招募的公开查询与管理员操作（按 church_code 隔离）
type RecruitmentService struct {
	db           database.DatabaseInterface
	log          logger.Logger
	metrics      *metrics.Metrics
	allowCleanup bool
}

// NewRecruitmentService allowCleanup 为 false 时 CleanupCorrupt 返回 Forbidden
func NewRecruitmentService(db database.DatabaseInterface, log logger.Logger, m *metrics.Metrics, allowCleanup bool) *RecruitmentService {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if m == nil {
		m = metrics.Default
	}
	return &RecruitmentService{db: db, log: log, metrics: m, allowCleanup: allowCleanup}
}

// List 公开列表；churchCode 为空时返回全部
func (s *RecruitmentService) List(ctx context.Context, churchCode string) ([]models.Recruitment, error) {
	return s.db.ListRecruitments(ctx, strings.TrimSpace(churchCode))
}

// Get 公开详情
func (s *RecruitmentService) Get(ctx context.Context, id string) (*models.Recruitment, error) {
	if !validID(id) {
		return nil, errRecruitmentNotFound
	}
	r, err := s.db.GetRecruitment(ctx, id)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return nil, errRecruitmentNotFound
		}
		return nil, err
	}
	return r, nil
}

// owned 读取招募并确认属于 churchCode
func (s *RecruitmentService) owned(ctx context.Context, churchCode, id string) (*models.Recruitment, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.ChurchCode != churchCode {
		s.log.Warn("cross-tenant recruitment access", map[string]interface{}{
			"recruitment_id": id,
			"church_code":    churchCode,
		})
		return nil, errCrossTenant
	}
	return r, nil
}

// AdminGet 管理员查看单个招募
func (s *RecruitmentService) AdminGet(ctx context.Context, churchCode, id string) (*models.Recruitment, error) {
	return s.owned(ctx, churchCode, id)
}

// Create 创建招募（状态 open，applied_count 0）
func (s *RecruitmentService) Create(ctx context.Context, churchCode string, req models.CreateRecruitmentRequest) (*models.Recruitment, error) {
	title := strings.TrimSpace(req.Title)
	body := strings.TrimSpace(req.Body())

	fields := map[string][]string{}
	if title == "" {
		fields["title"] = append(fields["title"], "required")
	}
	if body == "" {
		fields["description"] = append(fields["description"], "required")
	}
	if req.Capacity < 1 {
		fields["capacity"] = append(fields["capacity"], "must be at least 1")
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation("title, description, capacity 가 모두 필요합니다.", fields)
	}
	if utils.IsCorrupted(title) || utils.IsCorrupted(body) {
		return nil, errCorruptedText
	}

	r := &models.Recruitment{
		ChurchCode: churchCode,
		Title:      title,
		Content:    body,
		Capacity:   req.Capacity,
		Status:     models.StatusOpen,
	}
	if err := s.db.CreateRecruitment(ctx, r); err != nil {
		s.log.WithError(err).Error("failed to create recruitment", map[string]interface{}{"church_code": churchCode})
		return nil, err
	}

	s.log.Info("recruitment created", map[string]interface{}{
		"recruitment_id": r.ID,
		"church_code":    churchCode,
		"capacity":       r.Capacity,
	})
	return r, nil
}

// Update 部分更新；容量可以低于当前申请数（之后的提交返回 CapacityFull）
func (s *RecruitmentService) Update(ctx context.Context, churchCode, id string, req models.UpdateRecruitmentRequest) (*models.Recruitment, error) {
	patch, err := buildPatch(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, churchCode, id); err != nil {
		return nil, err
	}

	start := time.Now()
	r, err := s.db.UpdateRecruitment(ctx, id, patch)
	s.metrics.ObserveTx("update_recruitment", time.Since(start))
	if err != nil {
		return nil, err
	}

	s.log.Info("recruitment updated", map[string]interface{}{
		"recruitment_id": id,
		"status":         string(r.Status),
		"capacity":       r.Capacity,
	})
	return r, nil
}

// SetStatus 开启/关闭招募
func (s *RecruitmentService) SetStatus(ctx context.Context, churchCode, id string, status models.RecruitmentStatus) (*models.Recruitment, error) {
	raw := string(status)
	return s.Update(ctx, churchCode, id, models.UpdateRecruitmentRequest{Status: &raw})
}

func buildPatch(req models.UpdateRecruitmentRequest) (models.RecruitmentPatch, error) {
	var patch models.RecruitmentPatch
	fields := map[string][]string{}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			fields["title"] = append(fields["title"], "must not be blank")
		}
		patch.Title = &title
	}
	if req.Content != nil {
		content := strings.TrimSpace(*req.Content)
		if content == "" {
			fields["content"] = append(fields["content"], "must not be blank")
		}
		patch.Content = &content
	}
	if req.Capacity != nil {
		if *req.Capacity < 1 {
			fields["capacity"] = append(fields["capacity"], "must be at least 1")
		}
		patch.Capacity = req.Capacity
	}
	if req.Status != nil {
		st := models.RecruitmentStatus(strings.TrimSpace(*req.Status))
		if !st.Valid() {
			fields["status"] = append(fields["status"], "must be open or closed")
		}
		patch.Status = &st
	}

	if len(fields) > 0 {
		return patch, apperrors.Validation(apperrors.ErrValidation.Message, fields)
	}
	if patch.IsEmpty() {
		return patch, errEmptyPatch
	}
	if (patch.Title != nil && utils.IsCorrupted(*patch.Title)) ||
		(patch.Content != nil && utils.IsCorrupted(*patch.Content)) {
		return patch, errCorruptedText
	}
	return patch, nil
}

// Delete 删除招募；存在申请时返回 HasApplications
func (s *RecruitmentService) Delete(ctx context.Context, churchCode, id string) error {
	if _, err := s.owned(ctx, churchCode, id); err != nil {
		return err
	}

	if err := s.db.DeleteRecruitment(ctx, id); err != nil {
		if apperrors.IsBusiness(err) {
			s.log.Info("recruitment delete rejected", map[string]interface{}{"recruitment_id": id, "code": string(apperrors.CodeOf(err))})
		} else {
			s.log.WithError(err).Error("failed to delete recruitment", map[string]interface{}{"recruitment_id": id})
		}
		return err
	}

	s.log.Info("recruitment deleted", map[string]interface{}{"recruitment_id": id})
	return nil
}

// Applications 招募的申请列表，新的在前
func (s *RecruitmentService) Applications(ctx context.Context, churchCode, id string) ([]models.Application, error) {
	if _, err := s.owned(ctx, churchCode, id); err != nil {
		return nil, err
	}

	items, err := s.db.ListApplicationsByRecruitment(ctx, id)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// ParseExportFormat 解析导出格式
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatTSV:
		return FormatTSV, nil
	}
	return "", errUnknownFormat
}

// Export 以 CSV/TSV 写出申请列表
func (s *RecruitmentService) Export(ctx context.Context, churchCode, id string, format ExportFormat, w io.Writer) error {
	items, err := s.Applications(ctx, churchCode, id)
	if err != nil {
		return err
	}
	return WriteApplications(w, format, items)
}

// WriteApplications 写出表头与每条申请（时间为 UTC RFC3339）
func WriteApplications(w io.Writer, format ExportFormat, items []models.Application) error {
	cw := csv.NewWriter(w)
	if format == FormatTSV {
		cw.Comma = '\t'
	}

	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, a := range items {
		row := []string{
			a.Contact,
			deref(a.Name),
			deref(a.Message),
			a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CleanupCorrupt 删除本租户内文本损坏的招募及其申请（仅非生产环境）
func (s *RecruitmentService) CleanupCorrupt(ctx context.Context, churchCode string) (*CleanupResult, error) {
	if !s.allowCleanup {
		return nil, errCleanupDisabled
	}

	items, err := s.db.ListRecruitments(ctx, churchCode)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{CorruptedIDs: []string{}}
	for _, r := range items {
		if utils.IsCorrupted(r.Title) || utils.IsCorrupted(r.Content) {
			result.CorruptedIDs = append(result.CorruptedIDs, r.ID)
		}
	}
	if len(result.CorruptedIDs) == 0 {
		return result, nil
	}

	result.DeletedRecruitments, result.DeletedApplications, err = s.db.PurgeRecruitments(ctx, result.CorruptedIDs)
	if err != nil {
		s.log.WithError(err).Error("failed to purge corrupted recruitments", map[string]interface{}{"church_code": churchCode})
		return nil, err
	}

	s.log.Warn("corrupted recruitments purged", map[string]interface{}{
		"church_code":          churchCode,
		"deleted_recruitments": result.DeletedRecruitments,
		"deleted_applications": result.DeletedApplications,
	})
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
