package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate.io/tollgate/internal/api/middleware"
	"tollgate.io/tollgate/internal/governance/approval"
	"tollgate.io/tollgate/internal/governance/policy"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/testutil"
	"tollgate.io/tollgate/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var jwtCfg = middleware.JWTConfig{
	SigningKey: []byte("handlers-test-key-0123456789abcdef"),
	Issuer:     "tollgate",
	ExpiresIn:  time.Hour,
}

type harness struct {
	router *gin.Engine
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := testutil.OpenSQLiteStore(t)
	h := &harness{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	policies := policy.NewStore(repo, nil, policy.WithClock(clock))
	ledger := approval.NewLedger(repo, approval.WithClock(clock))
	srv := NewServer(ServerDeps{
		Policies: policies,
		Ledger:   ledger,
		Outcomes: usecase.NewHandleOutcomeUseCase(policies, ledger),
		DB:       repo,
		Clock:    clock,
	})

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	api := r.Group("/api/v1", middleware.JWTAuth(jwtCfg))
	srv.RegisterRoutes(api)
	h.router = r
	return h
}

func (h *harness) do(t *testing.T, method, path, user string, perms []string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, _, err := middleware.GenerateToken(jwtCfg, user, nil, perms)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var (
	admin    = []string{middleware.PermAdmin}
	deciders = []string{middleware.PermDecide}
)

func (h *harness) createWorkflow(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/workflows", "admin", admin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](t, w)
}

func TestWorkflowCRUD(t *testing.T) {
	h := newHarness(t)

	wf := h.createWorkflow(t, map[string]any{
		"owner_id":              "org-1",
		"name":                  "release gate",
		"trigger_on_validation": true,
		"min_severity":          "warning",
		"max_violations":        3,
		"required_approvers":    2,
		"request_ttl":           "72h",
	})
	id := wf["id"].(string)
	assert.Equal(t, "72h0m0s", wf["request_ttl"])
	assert.Equal(t, "admin", wf["created_by"])
	assert.EqualValues(t, 3, wf["max_violations"])

	w := h.do(t, http.MethodGet, "/api/v1/workflows?owner_id=org-1", "reader", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, id, list.Items[0]["id"])

	w = h.do(t, http.MethodPatch, "/api/v1/workflows/"+id, "admin", admin, map[string]any{
		"max_violations": nil,
		"request_ttl":    "",
		"description":    "changed",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	patched := decode[map[string]any](t, w)
	assert.NotContains(t, patched, "max_violations")
	assert.NotContains(t, patched, "request_ttl")
	assert.Equal(t, "changed", patched["description"])
	assert.EqualValues(t, 2, patched["required_approvers"])

	w = h.do(t, http.MethodDelete, "/api/v1/workflows/"+id, "admin", admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/workflows/"+id, "reader", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[map[string]any](t, w)["deleted_at"])

	w = h.do(t, http.MethodGet, "/api/v1/workflows?owner_id=org-1", "reader", nil, nil)
	assert.Empty(t, decode[struct {
		Items []map[string]any `json:"items"`
	}](t, w).Items)
}

func TestWorkflowErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		user   string
		perms  []string
		body   map[string]any
		status int
		code   string
	}{
		{"unauthenticated", "", nil, map[string]any{"owner_id": "o", "name": "n", "required_approvers": 1}, http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"missing permission", "bob", deciders, map[string]any{"owner_id": "o", "name": "n", "required_approvers": 1}, http.StatusForbidden, apperrors.CodeForbidden},
		{"bad ttl", "admin", admin, map[string]any{"owner_id": "o", "name": "n", "required_approvers": 1, "request_ttl": "soon"}, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"fractional ttl", "admin", admin, map[string]any{"owner_id": "o", "name": "n", "required_approvers": 1, "request_ttl": "1500ms"}, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"max violations overflow", "admin", admin, map[string]any{"owner_id": "o", "name": "n", "required_approvers": 1, "max_violations": int64(1) << 31}, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"zero approvers", "admin", admin, map[string]any{"owner_id": "o", "name": "n", "required_approvers": 0}, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"malformed", "admin", admin, map[string]any{"owner_id": 7}, http.StatusBadRequest, apperrors.CodeInvalidRequestField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/v1/workflows", tt.user, tt.perms, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[middleware.ErrorResponse](t, w).Code)
		})
	}

	w := h.do(t, http.MethodGet, "/api/v1/workflows/missing", "reader", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.CodeWorkflowNotFound, decode[middleware.ErrorResponse](t, w).Code)
}

func TestOutcomeToApproval(t *testing.T) {
	h := newHarness(t)
	wf := h.createWorkflow(t, map[string]any{
		"owner_id":              "org-1",
		"name":                  "merge gate",
		"trigger_on_validation": true,
		"min_severity":          "error",
		"required_approvers":    2,
		"block_merge":           true,
	})

	w := h.do(t, http.MethodPost, "/api/v1/outcomes", "ci", []string{middleware.PermOutcomeSubmit}, map[string]any{
		"owner_id": "org-1",
		"outcome": map[string]any{
			"validation_run_id": "run-1",
			"violations":        map[string]any{"error": 2},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[usecase.OutcomeOutput](t, w)
	assert.True(t, out.BlockMerge)
	require.Len(t, out.Results, 1)
	require.NotNil(t, out.Results[0].Request)
	reqID := out.Results[0].Request.ID
	assert.Equal(t, wf["id"], out.Results[0].WorkflowID)

	h.now = h.now.Add(5 * 24 * time.Hour)
	w = h.do(t, http.MethodGet, "/api/v1/requests/pending?owner_id=org-1", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, w)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, "warning", pending.Items[0]["priority"])

	w = h.do(t, http.MethodGet, "/api/v1/gates/run-1", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[approval.GateStatus](t, w).Blocked)

	w = h.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/approve", "alice", deciders, map[string]any{"approver_id": "bob"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.CodeApproverMismatch, decode[middleware.ErrorResponse](t, w).Code)

	w = h.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/approve", "alice", deciders, map[string]any{"comment": "lgtm"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.EqualValues(t, 1, first["approvals"])

	w = h.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/approve", "alice", deciders, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeDuplicateDecision, decode[middleware.ErrorResponse](t, w).Code)

	w = h.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/approve", "bob", deciders, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, http.MethodGet, "/api/v1/requests/"+reqID, "alice", nil, nil)
	assert.Equal(t, "approved", decode[map[string]any](t, w)["status"])

	w = h.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/decisions", "alice", nil, nil)
	decisions := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, w)
	require.Len(t, decisions.Items, 2)
	assert.Equal(t, "alice", decisions.Items[0]["approver_id"])
	assert.Equal(t, "lgtm", decisions.Items[0]["comment"])

	w = h.do(t, http.MethodGet, "/api/v1/gates/run-1", "alice", nil, nil)
	assert.False(t, decode[approval.GateStatus](t, w).Blocked)

	w = h.do(t, http.MethodGet, "/api/v1/requests/history?status=approved&approver_id=bob", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, w)
	require.Len(t, history.Items, 1)
	assert.Equal(t, reqID, history.Items[0]["id"])
}

func TestOpenAndReject(t *testing.T) {
	h := newHarness(t)
	wf := h.createWorkflow(t, map[string]any{
		"owner_id":           "org-1",
		"name":               "manual",
		"required_approvers": 3,
	})
	submit := []string{middleware.PermOutcomeSubmit}

	body := map[string]any{"workflow_id": wf["id"], "validation_run_id": "run-9"}
	w := h.do(t, http.MethodPost, "/api/v1/requests", "ci", submit, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	opened := decode[map[string]any](t, w)
	assert.Equal(t, "ci", opened["requested_by"])

	w = h.do(t, http.MethodPost, "/api/v1/requests", "ci", submit, body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, opened["id"], decode[map[string]any](t, w)["id"])

	id := opened["id"].(string)
	w = h.do(t, http.MethodPost, "/api/v1/requests/"+id+"/reject", "carol", deciders, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve", "dave", deciders, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeRequestNotPending, decode[middleware.ErrorResponse](t, w).Code)

	w = h.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve", "erin", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/requests/history?status=pending", "carol", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/requests/pending?limit=-1", "carol", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/requests/unknown", "carol", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		ping   error
		status int
		want   string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"database down", errors.New("dial tcp: refused"), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(ServerDeps{DB: pingerFunc(func(context.Context) error { return tt.ping })})
			r := gin.New()
			r.GET("/healthz", srv.GetLiveness)
			r.GET("/readyz", srv.GetReadiness)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, http.StatusOK, w.Code)

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.want, decode[HealthResponse](t, w).Status)
		})
	}
}
