package events

import (
	"context"
	"log/slog"
)

type Invalidator interface {
	InvalidateProfessional(ctx context.Context, companyID, professionalID string) error
}

// InvalidateOnChange drops cached availability of the professional an event
// concerns. It backs up the invalidation done right after commit, so its
// failures are logged and never fail the event: entries still expire by TTL.
func InvalidateOnChange(inv Invalidator, logger *slog.Logger) Handler {
	return func(ctx context.Context, e Event) error {
		p, err := e.AppointmentPayload()
		if err != nil {
			logger.WarnContext(ctx, "cache invalidation skipped, unreadable payload",
				"event_id", e.ID, "event_type", e.Type, "err", err)
			return nil
		}
		if err := inv.InvalidateProfessional(ctx, e.CompanyID, p.ProfessionalID); err != nil {
			logger.WarnContext(ctx, "cache invalidation from event failed",
				"event_id", e.ID,
				"company_id", e.CompanyID,
				"professional_id", p.ProfessionalID,
				"err", err,
			)
		}
		return nil
	}
}
