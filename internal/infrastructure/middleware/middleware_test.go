package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/pkg/auth"
	apperrors "relaylink/pkg/errors"
	"relaylink/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRouter(t *testing.T, middleware ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.Use(middleware...)
	return router
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_MapsSessionErrors(t *testing.T) {
	router := newTestRouter(t)
	router.GET("/missing", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("unpublish: %w", domain.ErrStreamNotFound))
	})
	router.GET("/rejected", func(c *gin.Context) {
		_ = c.Error(&domain.SdpOfferRejectedError{Message: "bad sdp"})
	})
	router.GET("/invalid", func(c *gin.Context) {
		_ = c.Error(apperrors.NewInvalidInputError("message is required").WithContext("field", "message"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "STREAM_NOT_FOUND", decodeBody(t, w)["error"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rejected", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "SDP_REJECTED", decodeBody(t, w)["error"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invalid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "INVALID_INPUT", body["error"])
	assert.Equal(t, map[string]interface{}{"field": "message"}, body["details"])
}

func TestRecoveryMiddleware(t *testing.T) {
	router := newTestRouter(t, RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, w)["error"])
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenService("control-secret", time.Hour)
	valid, err := tokens.GenerateToken("operator")
	require.NoError(t, err)

	other := auth.NewTokenService("other-secret", time.Hour)
	forged, err := other.GenerateToken("operator")
	require.NoError(t, err)

	router := newTestRouter(t, AuthMiddleware(tokens))
	router.GET("/streams", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectKey))
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"foreign signature", "Bearer " + forged, http.StatusUnauthorized},
		{"valid token", "Bearer " + valid, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/streams", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "operator", w.Body.String())
			} else {
				assert.Equal(t, "UNAUTHORIZED", decodeBody(t, w)["error"])
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := newTestRouter(t, AuthMiddleware(nil))
	router.GET("/streams", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/streams", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLogMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := newTestRouter(t, RequestLogMiddleware(logger.NewContextLogger(zap.New(core))), TracingMiddleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "/health", fields["path"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}
