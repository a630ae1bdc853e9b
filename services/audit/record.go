package audit

import (
	"context"

	"github.com/upb/staffing-erp/internal/observability"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/services"
)

// Record appends event to the audit trail of the tenant repos is bound to.
// It is called inside the mutation's transaction, so a failed write rolls
// the mutation back as well.
func Record(ctx context.Context, repos *repositories.Repositories, event *models.AuditEvent) error {
	event.OrgID = repos.Scope.OrgID()
	if err := repos.Audit.Insert(ctx, event); err != nil {
		return services.WrapInternal("failed to write audit event", err)
	}
	observability.AuditEventsWritten.WithLabelValues(string(event.Action)).Inc()
	return nil
}
