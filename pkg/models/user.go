package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User represents a display-only identity; it never grants ownership of applications
type User struct {
	ID         string    `json:"id" db:"id"`
	ChurchCode string    `json:"churchCode" db:"church_code"`
	Name       string    `json:"name" db:"name"`
	PhoneLast4 string    `json:"phoneLast4" db:"phone_last4"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// IdentifyRequest represents the payload for upserting a User
type IdentifyRequest struct {
	ChurchCode string `json:"churchCode"`
	Name       string `json:"name"`
	PhoneLast4 string `json:"phoneLast4"`
}

// AdminLoginRequest represents the admin login payload
type AdminLoginRequest struct {
	Secret string `json:"secret"`
}

// Session token types
const (
	SessionTypeAdmin = "admin"
	SessionTypeUser  = "user"
)

// SessionClaims represents the JWT carried by the admin_session and session_user cookies
type SessionClaims struct {
	Subject    string `json:"sub,omitempty"`
	ChurchCode string `json:"church_code"`
	Type       string `json:"type"` // "admin" or "user"
	Exp        int64  `json:"exp"`
	Iat        int64  `json:"iat"`
}

// GetExpirationTime implements jwt.Claims interface
func (c *SessionClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

// GetIssuedAt implements jwt.Claims interface
func (c *SessionClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

// GetNotBefore implements jwt.Claims interface
func (c *SessionClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims interface
func (c *SessionClaims) GetIssuer() (string, error) {
	return "", nil
}

// GetSubject implements jwt.Claims interface
func (c *SessionClaims) GetSubject() (string, error) {
	return c.Subject, nil
}

// GetAudience implements jwt.Claims interface
func (c *SessionClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}
