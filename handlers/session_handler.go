package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// SessionResponse describes the authenticated principal
type SessionResponse struct {
	UserID uuid.UUID `json:"user_id"`
	OrgID  uuid.UUID `json:"org_id"`
	Role   string    `json:"role"`
	Email  string    `json:"email,omitempty"`
}

// SessionHandler handles session-related HTTP requests
type SessionHandler struct {
	logger *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(logger *zap.Logger) *SessionHandler {
	return &SessionHandler{logger: logger}
}

// HandleMe handles GET /api/v1/session/me
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		h.logger.Error("principal not found in context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	_ = utils.WriteOK(w, SessionResponse{
		UserID: principal.ID,
		OrgID:  principal.OrgID,
		Role:   principal.Role,
		Email:  principal.Email,
	})
}
