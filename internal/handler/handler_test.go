package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/aadvita/dues-engine/internal/config"
	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository/memory"
	"github.com/aadvita/dues-engine/internal/service"
	customError "github.com/aadvita/dues-engine/pkg/errors"
	"github.com/aadvita/dues-engine/pkg/logger"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

const testTickSecret = "tick-secret-for-tests"

type MockTickRunner struct {
	mock.Mock
}

func (m *MockTickRunner) RunMonthlyTick(ctx context.Context) (*domain.TickResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TickResult), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Kind    string          `json:"kind"`
}

type testServer struct {
	router http.Handler
	store  *memory.Store
	tick   *MockTickRunner
	token  string
}

func newTestServer(t *testing.T, limiter *ClientLimiter) *testServer {
	t.Helper()

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC", TickTimeout: time.Minute, TickLockTTL: time.Minute},
		Business:  config.BusinessConfig{ScheduleMonths: 12, FirstDueBusinessDays: 3},
		Auth:      config.AuthConfig{PasswordMinLength: 8},
	}
	log := logger.Discard()
	store := memory.NewStore()
	generator := service.NewScheduleGenerator(cfg, nil)

	members := service.NewMembershipService(store.Members(), store.Installments(), generator, cfg, log)
	ledger := service.NewLedgerService(store.Members(), store.Installments(), log)
	reports := service.NewReportService(store.Members(), store.Installments(), generator, log)
	tick := &MockTickRunner{}
	v := NewValidator()

	router := NewRouter(Handlers{
		Members: NewMemberHandler(members, ledger, v),
		Ledger:  NewLedgerHandler(ledger, reports, v, time.UTC),
		Tick:    NewTickHandler(tick),
		Health: NewHealthHandler(map[string]Checker{
			"database": func(context.Context) error { return nil },
		}, time.Second),
	}, RouterOptions{
		AdminSecret:         testSecret,
		TickSecret:          testTickSecret,
		RegistrationLimiter: limiter,
		RequestTimeout:      5 * time.Second,
		Logger:              log,
	})

	token, err := IssueAdminToken(testSecret, "admin@example.org", time.Hour)
	require.NoError(t, err)

	return &testServer{router: router, store: store, tick: tick, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json" && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) admin(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + s.token})
}

func (s *testServer) register(t *testing.T, nationalID string) *domain.Member {
	t.Helper()

	w, env := s.do(t, http.MethodPost, "/api/v1/members", map[string]string{
		"national_id": nationalID,
		"full_name":   "Maria da Silva",
		"password":    "correct horse",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var member domain.Member
	require.NoError(t, json.Unmarshal(env.Data, &member))
	return &member
}

func TestRegister(t *testing.T) {
	s := newTestServer(t, nil)

	member := s.register(t, "12345678901")
	assert.Equal(t, "123.456.789-01", member.NationalID)
	assert.Equal(t, domain.MemberStatusPending, member.Status)
	assert.Empty(t, member.PasswordHash)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantKind string
	}{
		{
			name:     "duplicate",
			body:     map[string]string{"national_id": "123.456.789-01", "full_name": "Other Person", "password": "long enough"},
			wantCode: http.StatusConflict,
			wantKind: string(customError.KindConflict),
		},
		{
			name:     "malformed national id",
			body:     map[string]string{"national_id": "12-34", "full_name": "Other Person", "password": "long enough"},
			wantCode: http.StatusBadRequest,
			wantKind: string(customError.KindValidation),
		},
		{
			name:     "missing name",
			body:     map[string]string{"national_id": "98765432100", "password": "long enough"},
			wantCode: http.StatusBadRequest,
			wantKind: string(customError.KindValidation),
		},
		{
			name:     "not json",
			body:     "{",
			wantCode: http.StatusBadRequest,
			wantKind: string(customError.KindValidation),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, http.MethodPost, "/api/v1/members", tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantKind, env.Kind)
			assert.False(t, env.Success)
		})
	}
}

func TestRegister_RateLimitedPerClient(t *testing.T) {
	s := newTestServer(t, NewClientLimiter(rate.Every(time.Hour), 1, time.Hour))

	post := func(remoteAddr, nationalID string) int {
		body, err := json.Marshal(map[string]string{
			"national_id": nationalID, "full_name": "Some Applicant", "password": "long enough",
		})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/members", bytes.NewReader(body))
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, post("198.51.100.7:5000", "12345678901"))
	assert.Equal(t, http.StatusTooManyRequests, post("198.51.100.7:5001", "98765432100"))
	assert.Equal(t, http.StatusCreated, post("203.0.113.9:6000", "98765432100"))
}

func TestClientLimiter_DropsIdleClients(t *testing.T) {
	now := time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)
	l := NewClientLimiter(rate.Every(24*time.Hour), 1, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("b"))
	assert.NotContains(t, l.clients, "a")

	assert.True(t, l.Allow("a"), "an evicted client starts with a fresh bucket")
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, nil)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	member, err := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		Role: "member",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "someone",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	foreign, err := IssueAdminToken([]byte("another-secret-another-secret-xx"), "admin", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"expired", "Bearer " + expired},
		{"wrong role", "Bearer " + member},
		{"wrong secret", "Bearer " + foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := s.do(t, http.MethodGet, "/api/v1/admin/members", nil, map[string]string{"Authorization": tt.header})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	w, _ := s.admin(t, http.MethodGet, "/api/v1/admin/members", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMemberLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	member := s.register(t, "12345678901")
	base := "/api/v1/admin/members/" + member.ID.String()

	w, env := s.admin(t, http.MethodPut, base+"/dues", map[string]interface{}{"base_amount": "70"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(customError.KindPrecondition), env.Kind)

	w, env = s.admin(t, http.MethodPost, base+"/approve", map[string]interface{}{"base_amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(customError.KindValidation), env.Kind)

	w, env = s.admin(t, http.MethodPost, base+"/approve", map[string]interface{}{"base_amount": "100000000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(customError.KindValidation), env.Kind)

	w, env = s.admin(t, http.MethodPost, base+"/approve", map[string]interface{}{
		"base_amount": "80.00", "discount_kind": "percent", "discount_value": "25",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var approved domain.MemberScheduleResponse
	require.NoError(t, json.Unmarshal(env.Data, &approved))
	assert.Equal(t, domain.MemberStatusApproved, approved.Member.Status)
	require.Len(t, approved.Installments, 12)
	for _, installment := range approved.Installments {
		assert.Equal(t, "60.00", installment.FinalAmount.StringFixed(2))
	}

	w, env = s.admin(t, http.MethodPost, base+"/approve", map[string]interface{}{"base_amount": "80"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(customError.KindInvalidTransition), env.Kind)

	w, env = s.admin(t, http.MethodPut, base+"/active", map[string]interface{}{"active": false})
	require.Equal(t, http.StatusOK, w.Code)
	var updated domain.Member
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.False(t, updated.Active)

	w, _ = s.admin(t, http.MethodPut, base+"/active", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.admin(t, http.MethodGet, base+"/installments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var installments []*domain.Installment
	require.NoError(t, json.Unmarshal(env.Data, &installments))
	assert.Len(t, installments, 12)

	w, _ = s.admin(t, http.MethodGet, "/api/v1/admin/members?status=approved", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.admin(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = s.admin(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, customError.ErrCodeMemberNotFound, env.Code)

	w, env = s.admin(t, http.MethodGet, "/api/v1/admin/members/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(customError.KindValidation), env.Kind)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := s.do(t, http.MethodGet, "/api/v1/nothing-here", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestInstallmentTransitions(t *testing.T) {
	s := newTestServer(t, nil)
	member := s.register(t, "12345678901")

	w, env := s.admin(t, http.MethodPost, "/api/v1/admin/members/"+member.ID.String()+"/approve",
		map[string]interface{}{"base_amount": 100})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved domain.MemberScheduleResponse
	require.NoError(t, json.Unmarshal(env.Data, &approved))

	first := "/api/v1/admin/installments/" + approved.Installments[0].ID.String()
	second := "/api/v1/admin/installments/" + approved.Installments[1].ID.String()

	w, _ = s.admin(t, http.MethodPost, first+"/pay", map[string]string{"paid_on": "15/03/2025"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.admin(t, http.MethodPost, first+"/pay", map[string]string{"paid_on": "2025-03-15"})
	require.Equal(t, http.StatusOK, w.Code)
	var paid domain.Installment
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, domain.InstallmentStatusPaid, paid.Status)

	w, env = s.admin(t, http.MethodPost, first+"/pay", map[string]string{"paid_on": "2025-03-16"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(customError.KindInvalidTransition), env.Kind)

	w, _ = s.admin(t, http.MethodPost, first+"/revert", map[string]string{"reason": "bank chargeback"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.admin(t, http.MethodPost, second+"/cancel", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.admin(t, http.MethodPost, second+"/cancel", map[string]string{"reason": "waived"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.admin(t, http.MethodPost, second+"/reopen", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.admin(t, http.MethodGet, "/api/v1/admin/installments/overdue?as_of=2100-01-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var overdue []*domain.Installment
	require.NoError(t, json.Unmarshal(env.Data, &overdue))
	assert.Len(t, overdue, 12)

	w, _ = s.admin(t, http.MethodGet, "/api/v1/admin/installments/overdue?as_of=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerReports(t *testing.T) {
	s := newTestServer(t, nil)
	member := s.register(t, "12345678901")
	w, _ := s.admin(t, http.MethodPost, "/api/v1/admin/members/"+member.ID.String()+"/approve",
		map[string]interface{}{"base_amount": "50"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.admin(t, http.MethodGet, "/api/v1/admin/ledger/summary?status=pending,paid&member_id="+member.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary domain.LedgerSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 12, summary.TotalCount)
	assert.Equal(t, "600.00", summary.TotalAmount.StringFixed(2))

	w, _ = s.admin(t, http.MethodGet, "/api/v1/admin/ledger/summary?status=late", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.admin(t, http.MethodGet, "/api/v1/admin/ledger/summary?from=2025-13-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.admin(t, http.MethodGet, "/api/v1/admin/ledger/export.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestTickEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(t, http.MethodPost, "/api/v1/tick", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/tick", nil, map[string]string{TickSecretHeader: "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.tick.On("RunMonthlyTick", mock.MatchedBy(func(ctx context.Context) bool {
		return domain.ActorFrom(ctx) == "scheduler"
	})).Return(&domain.TickResult{Generated: 3, Skipped: 1}, nil).Once()

	w, env := s.do(t, http.MethodPost, "/api/v1/tick", nil, map[string]string{TickSecretHeader: testTickSecret})
	require.Equal(t, http.StatusOK, w.Code)
	var result domain.TickResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, domain.TickResult{Generated: 3, Skipped: 1}, result)

	s.tick.On("RunMonthlyTick", mock.Anything).Return(nil, customError.NewBusinessError(
		customError.KindPrecondition, customError.ErrCodePrecondition, "tick called out of order", customError.ErrTickOutOfOrder,
	)).Once()
	w, _ = s.do(t, http.MethodPost, "/api/v1/tick", nil, map[string]string{TickSecretHeader: testTickSecret})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	s.tick.On("RunMonthlyTick", mock.Anything).Return(nil, errors.New("redis down")).Once()
	w, env = s.do(t, http.MethodPost, "/api/v1/tick", nil, map[string]string{TickSecretHeader: testTickSecret})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, env.Error, "redis down")

	s.tick.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]Checker{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, time.Second)

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var status HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "ok", status.Checks["database"])
	assert.Equal(t, "failed: connection refused", status.Checks["redis"])
}
