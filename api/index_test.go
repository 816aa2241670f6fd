package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubBuild(t *testing.T, fn func() (http.Handler, error)) {
	t.Helper()
	mu.Lock()
	cachedHandler = nil
	buildHandler = fn
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		cachedHandler = nil
		buildHandler = build
		mu.Unlock()
	})
}

func TestHandler_RetriesAfterFailedBuild(t *testing.T) {
	calls := 0
	stubBuild(t, func() (http.Handler, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("database unavailable")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}), nil
	})

	send := func() int {
		rec := httptest.NewRecorder()
		Handler(rec, httptest.NewRequest(http.MethodGet, "/api/recruitments", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusInternalServerError, send())
	assert.Equal(t, http.StatusTeapot, send())
	assert.Equal(t, http.StatusTeapot, send())
	assert.Equal(t, 2, calls, "successful build is cached")
}
