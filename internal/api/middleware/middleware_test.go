package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tollgate.io/tollgate/internal/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testKey = []byte("test-signing-key-0123456789abcdef")

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), ErrorHandler())
	r.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(apperrors.ErrRequestNotPendingf("r-1", "approved"))
	})
	r.GET("/validation", func(c *gin.Context) {
		_ = c.Error(apperrors.Validation(apperrors.FieldError{Field: "name", Code: "required", Message: "must not be empty"}))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("connection reset"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperrors.CodeRequestNotPending, body.Code)
	assert.Equal(t, "approved", body.Params["status"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/validation", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body = decodeError(t, w)
	require.Len(t, body.FieldErrors, 1)
	assert.Equal(t, "name", body.FieldErrors[0].Field)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = decodeError(t, w)
	assert.Equal(t, apperrors.CodeInternal, body.Code)
	assert.NotContains(t, body.Message, "connection reset")
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) { seen = GetRequestID(c.Request.Context()) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "rid-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "rid-123", seen)
	assert.Equal(t, "rid-123", w.Header().Get(RequestIDHeader))
}

func TestValidateToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testKey, Issuer: "tollgate", ExpiresIn: time.Hour}
	token, _, err := GenerateToken(cfg, "alice", []string{"reviewer"}, []string{PermDecide})
	require.NoError(t, err)

	claims, err := cfg.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, []string{PermDecide}, claims.Permissions)

	_, err = JWTConfig{SigningKey: testKey, Issuer: "someone-else"}.ValidateToken(token)
	assert.Error(t, err)

	_, err = JWTConfig{SigningKey: []byte("another-key-0123456789abcdef0000")}.ValidateToken(token)
	assert.Error(t, err)

	expired, _, err := GenerateToken(JWTConfig{SigningKey: testKey, ExpiresIn: -time.Minute}, "alice", nil, nil)
	require.NoError(t, err)
	_, err = cfg.ValidateToken(expired)
	assert.Error(t, err)
}

func authRouter(cfg JWTConfig, permission string) *gin.Engine {
	r := gin.New()
	r.Use(JWTAuth(cfg))
	handlers := []gin.HandlerFunc{}
	if permission != "" {
		handlers = append(handlers, RequirePermission(permission))
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, Actor(c)+"|"+GetUserID(c.Request.Context()))
	})
	r.GET("/", handlers...)
	return r
}

func TestJWTAuth(t *testing.T) {
	cfg := JWTConfig{SigningKey: testKey}
	token, _, err := GenerateToken(cfg, "bob", nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, status: http.StatusOK},
		{name: "case-insensitive scheme", header: "bearer " + token, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			authRouter(cfg, "").ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "bob|bob", w.Body.String())
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	cfg := JWTConfig{SigningKey: testKey}
	tests := []struct {
		name   string
		perms  []string
		status int
	}{
		{name: "granted", perms: []string{PermWorkflowWrite}, status: http.StatusOK},
		{name: "admin implies all", perms: []string{PermAdmin}, status: http.StatusOK},
		{name: "other permission", perms: []string{PermDecide}, status: http.StatusForbidden},
		{name: "none", perms: nil, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _, err := GenerateToken(cfg, "carol", nil, tt.perms)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			authRouter(cfg, PermWorkflowWrite).ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestOpenAPIValidator(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	api := r.Group("/api/v1")
	api.Use(MustOpenAPIValidator(OpenAPIOptions{BasePath: "/api/v1", ValidateResponses: true}))
	api.POST("/workflows", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{
			"id": "w-1", "owner_id": "o", "name": "n", "min_severity": "error",
			"required_approvers": 1, "status": "active",
			"created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z",
		})
	})
	api.GET("/gates/:validation_run_id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"blocked": "yes"})
	})
	api.GET("/requests/:request_id", func(c *gin.Context) {
		_ = c.Error(apperrors.ErrRequestNotFoundf(c.Param("request_id")))
	})
	api.GET("/unlisted", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/v1/workflows", `{"owner_id":"o","name":"n","required_approvers":1}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(http.MethodPost, "/api/v1/workflows", `{"owner_id":"o","name":"n","required_approvers":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidRequestField, decodeError(t, w).Code)

	w = do(http.MethodPost, "/api/v1/workflows", `{"owner_id":"o","name":"n","required_approvers":1,"min_severity":"fatal"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodGet, "/api/v1/gates/run-1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code, "response breaking the contract is replaced")
	assert.Equal(t, "OPENAPI_RESPONSE_INVALID", decodeError(t, w).Code)

	w = do(http.MethodGet, "/api/v1/requests/r-9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.CodeRequestNotFound, decodeError(t, w).Code)

	w = do(http.MethodGet, "/api/v1/unlisted", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
