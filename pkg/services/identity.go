package services

import (
	"context"
	"strings"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/models"
)

// IdentityService 展示用的弱身份（不授予任何申请的所有权）
type IdentityService struct {
	db  database.DatabaseInterface
	log logger.Logger
}

func NewIdentityService(db database.DatabaseInterface, log logger.Logger) *IdentityService {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &IdentityService{db: db, log: log}
}

// Identify 按 (churchCode, name, phoneLast4) 创建或复用用户
func (s *IdentityService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.User, error) {
	u := &models.User{
		ChurchCode: strings.TrimSpace(req.ChurchCode),
		Name:       strings.TrimSpace(req.Name),
		PhoneLast4: strings.TrimSpace(req.PhoneLast4),
	}

	fields := map[string][]string{}
	if u.ChurchCode == "" {
		fields["churchCode"] = []string{"churchCode 는 필수입니다."}
	}
	if u.Name == "" || len([]rune(u.Name)) > 100 {
		fields["name"] = []string{"name 은 1~100자여야 합니다."}
	}
	if !isFourDigits(u.PhoneLast4) {
		fields["phoneLast4"] = []string{"phoneLast4 는 숫자 4자리여야 합니다."}
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation(apperrors.ErrValidation.Message, fields)
	}

	if err := s.db.UpsertUser(ctx, u); err != nil {
		s.log.WithError(err).Error("failed to upsert user", map[string]interface{}{"church_code": u.ChurchCode})
		return nil, err
	}
	return u, nil
}

// Me 会话中的用户
func (s *IdentityService) Me(ctx context.Context, userID string) (*models.User, error) {
	if !validID(userID) {
		return nil, apperrors.ErrUnauthorized
	}
	u, err := s.db.GetUser(ctx, userID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}
	return u, nil
}

func isFourDigits(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
