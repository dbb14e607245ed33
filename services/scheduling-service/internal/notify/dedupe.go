package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/redis/go-redis/v9"
)

type RecentChecker interface {
	ExistsRecent(ctx context.Context, companyID, appointmentID string, typ model.TemplateType, since time.Time) (bool, error)
}

// Deduper claims (appointment, template type) for a window so a redelivered
// event does not send twice. Redis SET NX is the claim; when Redis is
// unavailable it falls back to looking for a recent log row.
type Deduper struct {
	rdb     redis.UniversalClient
	logs    RecentChecker
	window  time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewDeduper(rdb redis.UniversalClient, logs RecentChecker, window time.Duration, logger *slog.Logger) *Deduper {
	if window <= 0 {
		window = time.Hour
	}
	return &Deduper{rdb: rdb, logs: logs, window: window, timeout: 200 * time.Millisecond, logger: logger, now: time.Now}
}

func dedupeKey(companyID, appointmentID string, typ model.TemplateType) string {
	return strings.Join([]string{"notify", "dedupe", companyID, appointmentID, string(typ)}, ":")
}

// Claim reports whether the caller owns this dispatch.
func (d *Deduper) Claim(ctx context.Context, companyID, appointmentID string, typ model.TemplateType) (bool, error) {
	if d.rdb != nil {
		cctx, cancel := context.WithTimeout(ctx, d.timeout)
		ok, err := d.rdb.SetNX(cctx, dedupeKey(companyID, appointmentID, typ), d.now().UTC().Format(time.RFC3339), d.window).Result()
		cancel()
		if err == nil {
			return ok, nil
		}
		d.logger.Warn("notification dedupe unavailable, checking logs", "err", err)
	}
	exists, err := d.logs.ExistsRecent(ctx, companyID, appointmentID, typ, d.now().Add(-d.window))
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Release gives up a claim so a later delivery of the same event may retry.
func (d *Deduper) Release(ctx context.Context, companyID, appointmentID string, typ model.TemplateType) {
	if d.rdb == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.rdb.Del(cctx, dedupeKey(companyID, appointmentID, typ)).Err(); err != nil {
		d.logger.Warn("notification dedupe release failed", "err", err)
	}
}
