package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating session tokens
type TokenValidator interface {
	// ValidateToken validates a token and returns the principal it carries
	ValidateToken(ctx context.Context, token string) (*models.Principal, error)
}

// OrganizationLookup resolves the organization a session belongs to
type OrganizationLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// AuthMiddleware provides the authentication and tenant gates
type AuthMiddleware struct {
	validator  TokenValidator
	orgs       OrganizationLookup
	cookieName string
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. Tokens are read from the
// Authorization header first and then from the named session cookie.
func NewAuthMiddleware(validator TokenValidator, cookieName string, logger *zap.Logger) *AuthMiddleware {
	if cookieName == "" {
		cookieName = "session"
	}
	return &AuthMiddleware{
		validator:  validator,
		cookieName: cookieName,
		logger:     logger,
	}
}

// WithOrganizations makes ExtractTenant reject sessions whose organization
// does not exist
func (m *AuthMiddleware) WithOrganizations(orgs OrganizationLookup) *AuthMiddleware {
	m.orgs = orgs
	return m
}

// RequireAuth rejects requests without a valid session with 401
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := m.extractToken(r)
		if token == "" {
			m.logger.Debug("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		principal, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("principal_id", principal.ID.String()))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}

// ExtractTenant rejects principals without an organization with 403 and
// attaches the tenant scope otherwise. It must run after RequireAuth.
func (m *AuthMiddleware) ExtractTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		principal := GetPrincipalFromContext(ctx)
		if principal == nil {
			m.logger.Error("principal not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		scope, err := tenant.NewScope(principal.OrgID)
		if err != nil {
			m.logger.Warn("principal has no organization",
				zap.String("request_id", requestID),
				zap.String("principal_id", principal.ID.String()))
			_ = utils.WriteForbidden(w, "No organization associated with this account")
			return
		}

		if m.orgs != nil {
			if _, err := m.orgs.GetByID(ctx, scope.OrgID()); err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					m.logger.Warn("principal organization not found",
						zap.String("request_id", requestID),
						zap.String("org_id", scope.OrgID().String()))
					_ = utils.WriteForbidden(w, "No organization associated with this account")
					return
				}
				m.logger.Error("failed to look up organization",
					zap.String("request_id", requestID),
					zap.Error(err))
				_ = utils.WriteInternalServerError(w, "Failed to resolve organization")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(tenant.WithScope(ctx, scope)))
	})
}

// RequireRole rejects principals holding none of the roles with 403.
// Admins pass every role check.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			principal := GetPrincipalFromContext(ctx)
			if principal == nil {
				m.logger.Error("principal not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !principal.HasRole(roles...) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.Strings("required_roles", roles),
					zap.String("role", principal.Role))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads the bearer token, falling back to the session cookie.
// The Authorization header takes precedence when both are present.
func (m *AuthMiddleware) extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
