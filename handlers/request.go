package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/services"
	"github.com/upb/staffing-erp/tenant"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// requireScope returns the tenant scope attached by ExtractTenant, writing
// 403 when the route was mounted without the tenant gate
func requireScope(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (tenant.Scope, bool) {
	scope, ok := middleware.GetScopeFromContext(r.Context())
	if !ok {
		logger.Error("tenant scope missing from context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path))
		_ = utils.WriteForbidden(w, "No organization associated with this account")
		return tenant.Scope{}, false
	}
	return scope, true
}

// decodeAndValidate reads a JSON body into dst and runs struct validation
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	if err := utils.DecodeJSON(r, dst); err != nil {
		logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}

// pathUUID parses the named chi URL parameter
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return utils.ParseUUID(chi.URLParam(r, name), name)
}

// queryUUID parses an optional UUID query parameter
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := utils.ParseUUID(raw, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// queryTime parses an optional RFC 3339 query parameter
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, services.Validation(name, fmt.Sprintf("%s must be an RFC 3339 timestamp", name))
	}
	return &t, nil
}

// pageFromQuery reads page and page_size; range checks happen in the service
func pageFromQuery(r *http.Request) (services.PageRequest, error) {
	var page services.PageRequest
	for name, dst := range map[string]*int{"page": &page.Page, "page_size": &page.PageSize} {
		n, err := queryInt(r, name)
		if err != nil {
			return page, err
		}
		*dst = n
	}
	return page, nil
}

// queryInt parses an optional integer query parameter; absent means zero
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, services.Validation(name, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}
