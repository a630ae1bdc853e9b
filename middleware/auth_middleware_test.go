package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/staffing-erp/internal/observability"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/session"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*models.Principal, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Principal), args.Error(1)
}

// MockOrganizationLookup is a mock implementation of OrganizationLookup
type MockOrganizationLookup struct {
	mock.Mock
}

func (m *MockOrganizationLookup) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response.Error
}

func mustNotRun(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token in Authorization header", func(t *testing.T) {
		validator := new(MockTokenValidator)
		m := NewAuthMiddleware(validator, "", logger)
		principal := &models.Principal{ID: uuid.New(), OrgID: uuid.New(), Role: models.RoleAdmin}
		validator.On("ValidateToken", mock.Anything, "valid-token").Return(principal, nil)

		handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, principal, GetPrincipalFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		validator.AssertExpectations(t)
	})

	t.Run("valid token in session cookie", func(t *testing.T) {
		validator := new(MockTokenValidator)
		m := NewAuthMiddleware(validator, "erp_session", logger)
		validator.On("ValidateToken", mock.Anything, "cookie-token").Return(&models.Principal{ID: uuid.New()}, nil)

		handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "erp_session", Value: "cookie-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		validator.AssertExpectations(t)
	})

	t.Run("header takes precedence over cookie", func(t *testing.T) {
		validator := new(MockTokenValidator)
		m := NewAuthMiddleware(validator, "", logger)
		validator.On("ValidateToken", mock.Anything, "header-token").Return(&models.Principal{ID: uuid.New()}, nil)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer header-token")
		req.AddCookie(&http.Cookie{Name: "session", Value: "cookie-token"})
		w := httptest.NewRecorder()
		m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(w, req)

		validator.AssertExpectations(t)
	})

	tests := []struct {
		name   string
		header string
		token  string
		err    error
	}{
		{name: "missing token"},
		{name: "malformed header", header: "InvalidFormat"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "invalid token", header: "Bearer invalid-token", token: "invalid-token", err: session.ErrInvalidToken},
		{name: "expired token", header: "Bearer expired-token", token: "expired-token", err: session.ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name+" returns 401", func(t *testing.T) {
			validator := new(MockTokenValidator)
			m := NewAuthMiddleware(validator, "", logger)
			if tt.token != "" {
				validator.On("ValidateToken", mock.Anything, tt.token).Return(nil, tt.err)
			}

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			m.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
			validator.AssertExpectations(t)
			if tt.token == "" {
				validator.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestExtractTenant(t *testing.T) {
	m := NewAuthMiddleware(new(MockTokenValidator), "", zap.NewNop())

	t.Run("attaches scope of the principal's organization", func(t *testing.T) {
		orgID := uuid.New()
		handler := m.ExtractTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := GetScopeFromContext(r.Context())
			require.True(t, ok)
			assert.Equal(t, orgID, scope.OrgID())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &models.Principal{ID: uuid.New(), OrgID: orgID}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("principal without organization returns 403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &models.Principal{ID: uuid.New()}))
		w := httptest.NewRecorder()
		m.ExtractTenant(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", errorCode(t, w))
	})

	t.Run("missing principal returns 401", func(t *testing.T) {
		w := httptest.NewRecorder()
		m.ExtractTenant(mustNotRun(t)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestExtractTenant_OrganizationLookup(t *testing.T) {
	orgID := uuid.New()
	request := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		return req.WithContext(WithPrincipal(req.Context(), &models.Principal{ID: uuid.New(), OrgID: orgID}))
	}

	t.Run("known organization passes", func(t *testing.T) {
		orgs := new(MockOrganizationLookup)
		orgs.On("GetByID", mock.Anything, orgID).Return(&models.Organization{ID: orgID}, nil)
		m := NewAuthMiddleware(new(MockTokenValidator), "", zap.NewNop()).WithOrganizations(orgs)

		w := httptest.NewRecorder()
		m.ExtractTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(w, request())

		assert.Equal(t, http.StatusOK, w.Code)
		orgs.AssertExpectations(t)
	})

	t.Run("unknown organization returns 403", func(t *testing.T) {
		orgs := new(MockOrganizationLookup)
		orgs.On("GetByID", mock.Anything, orgID).Return(nil, repositories.ErrNotFound)
		m := NewAuthMiddleware(new(MockTokenValidator), "", zap.NewNop()).WithOrganizations(orgs)

		w := httptest.NewRecorder()
		m.ExtractTenant(mustNotRun(t)).ServeHTTP(w, request())

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", errorCode(t, w))
	})

	t.Run("lookup failure returns 500", func(t *testing.T) {
		orgs := new(MockOrganizationLookup)
		orgs.On("GetByID", mock.Anything, orgID).Return(nil, errors.New("connection reset"))
		m := NewAuthMiddleware(new(MockTokenValidator), "", zap.NewNop()).WithOrganizations(orgs)

		w := httptest.NewRecorder()
		m.ExtractTenant(mustNotRun(t)).ServeHTTP(w, request())

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAuthChainOrdering(t *testing.T) {
	validator := new(MockTokenValidator)
	m := NewAuthMiddleware(validator, "", zap.NewNop())
	chain := m.RequireAuth(m.ExtractTenant(mustNotRun(t)))

	validator.On("ValidateToken", mock.Anything, "orphan").Return(&models.Principal{ID: uuid.New(), Role: models.RoleAdmin}, nil)

	// No credentials: the authentication gate answers before the tenant gate.
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer orphan")
	w = httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(new(MockTokenValidator), "", zap.NewNop())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		role   string
		roles  []string
		status int
	}{
		{"matching role", models.RoleManager, []string{models.RoleManager}, http.StatusOK},
		{"admin passes every check", models.RoleAdmin, []string{models.RoleManager}, http.StatusOK},
		{"one of several", models.RoleEmployee, []string{models.RoleManager, models.RoleEmployee}, http.StatusOK},
		{"missing role", models.RoleEmployee, []string{models.RoleAdmin}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req = req.WithContext(WithPrincipal(req.Context(), &models.Principal{ID: uuid.New(), OrgID: uuid.New(), Role: tt.role}))
			w := httptest.NewRecorder()
			m.RequireRole(tt.roles...)(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("missing principal returns 401", func(t *testing.T) {
		w := httptest.NewRecorder()
		m.RequireRole(models.RoleAdmin)(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestActorFromRequest(t *testing.T) {
	principal := &models.Principal{ID: uuid.New(), OrgID: uuid.New()}
	var actor models.Actor
	handler := chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = ActorFromRequest(r.WithContext(WithPrincipal(r.Context(), principal)))
	}))

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	req.Header.Set("User-Agent", "erp-web/2.1")
	req.Header.Set("X-Request-Id", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, principal, actor.Principal)
	assert.Equal(t, "req-42", actor.RequestID)
	assert.Equal(t, "203.0.113.9", actor.IPAddress)
	assert.Equal(t, "erp-web/2.1", actor.UserAgent)
}

func TestMetrics(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := observability.RequestsTotal.WithLabelValues(http.MethodGet, "/widgets/{id}", "418")
	before := testutil.ToFloat64(counter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/widgets/1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/widgets/2", nil))

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}
