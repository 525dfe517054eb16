package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"stash/database"
	"stash/middleware"
	"stash/upload"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "validation",
			err:        fmt.Errorf("%w: project name is required", database.ErrValidation),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"project name is required"}`,
		},
		{
			name:       "not found",
			err:        database.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"Project not found"}`,
		},
		{
			name:       "unauthorized",
			err:        middleware.ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"Invalid Project ID or API Key"}`,
		},
		{
			name:       "no file",
			err:        fmt.Errorf("%w: not multipart", upload.ErrNoFile),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"No file uploaded"}`,
		},
		{
			name:       "too large",
			err:        upload.ErrPayloadTooLarge,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   `{"error":"File too large"}`,
		},
		{
			name:       "internal",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestSafeSegment(t *testing.T) {
	tests := []struct {
		segment  string
		expected bool
	}{
		{segment: "1700000000000-42.png", expected: true},
		{segment: "", expected: false},
		{segment: ".", expected: false},
		{segment: "..", expected: false},
		{segment: ".upload-1.part", expected: false},
		{segment: `a\b`, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.segment, func(t *testing.T) {
			assert.Equal(t, tt.expected, safeSegment(tt.segment))
		})
	}
}
