package apperrors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(CodeCapacityFull, "custom message"))

	assert.True(t, errors.Is(err, ErrCapacityFull))
	assert.False(t, errors.Is(err, ErrAlreadyApplied))
	assert.Equal(t, CodeCapacityFull, CodeOf(err))
}

func TestStorageHidesDetail(t *testing.T) {
	err := Storage("load recruitment", sql.ErrConnDone)

	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.Equal(t, CodeServerError, CodeOf(err))
	assert.Equal(t, ErrStorage.Message, PublicMessage(err))
	assert.Contains(t, err.Error(), "load recruitment")
	assert.True(t, err.Retryable)
}

func TestPlainErrorIsServerError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, CodeServerError, CodeOf(err))
	assert.Equal(t, ErrStorage.Message, PublicMessage(err))
	assert.False(t, IsBusiness(err))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestValidationFields(t *testing.T) {
	err := FieldValidation("bad contact", "contact", "invalid")

	assert.Equal(t, map[string][]string{"contact": {"invalid"}}, FieldsOf(err))
	assert.Equal(t, "bad contact", PublicMessage(err))
	assert.True(t, IsBusiness(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeClosed, http.StatusConflict},
		{CodeCapacityFull, http.StatusConflict},
		{CodeAlreadyApplied, http.StatusConflict},
		{CodeHasApplications, http.StatusConflict},
		{CodeForbidden, http.StatusForbidden},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.code))
		})
	}
}
