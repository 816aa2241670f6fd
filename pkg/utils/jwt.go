package utils

import (
	"fmt"
	"time"

	"church-recruit-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
)

// 会话有效期
const (
	AdminSessionTTL = 7 * 24 * time.Hour
	UserSessionTTL  = 365 * 24 * time.Hour
)

// JWTService 签发与校验会话令牌（HS256）
type JWTService struct {
	secretKey []byte
	now       func() time.Time
}

// NewJWTService 创建JWT服务
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

// IssueAdmin 签发管理员会话，subject 为空
func (j *JWTService) IssueAdmin(churchCode string) (string, time.Time, error) {
	return j.issue("", churchCode, models.SessionTypeAdmin, AdminSessionTTL)
}

// IssueUser 签发用户会话
func (j *JWTService) IssueUser(userID, churchCode string) (string, time.Time, error) {
	return j.issue(userID, churchCode, models.SessionTypeUser, UserSessionTTL)
}

func (j *JWTService) issue(subject, churchCode, typ string, ttl time.Duration) (string, time.Time, error) {
	now := j.now()
	expiry := now.Add(ttl)

	claims := &models.SessionClaims{
		Subject:    subject,
		ChurchCode: churchCode,
		Type:       typ,
		Exp:        expiry.Unix(),
		Iat:        now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s session: %w", typ, err)
	}
	return tokenString, expiry, nil
}

// ValidateToken 验证令牌并检查类型
func (j *JWTService) ValidateToken(tokenString, wantType string) (*models.SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名方法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.Type != wantType {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", wantType, claims.Type)
	}

	return claims, nil
}
