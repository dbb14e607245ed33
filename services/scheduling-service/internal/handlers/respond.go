// Package handlers exposes the scheduling engine over HTTP. The company scope
// comes from X-Company-Id and the acting user from X-User-Id, both set by the
// gateway in front of this service.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
)

const (
	HeaderCompanyID      = "X-Company-Id"
	HeaderUserID         = "X-User-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type ctxKey int

const (
	ctxKeyCompanyID ctxKey = iota
	ctxKeyUserID
)

// requireCompany rejects requests without a company scope.
func requireCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		companyID := strings.TrimSpace(r.Header.Get(HeaderCompanyID))
		if companyID == "" {
			httpx.WriteError(w, http.StatusBadRequest, string(apperr.Validation), "missing "+HeaderCompanyID+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyCompanyID, companyID)
		ctx = context.WithValue(ctx, ctxKeyUserID, strings.TrimSpace(r.Header.Get(HeaderUserID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func companyID(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyCompanyID).(string)
	return v
}

func userID(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyUserID).(string)
	return v
}

// statusFor maps error kinds to HTTP statuses. Business-rule violations never
// become a 500.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.SlotUnavailable, apperr.InvalidTransition:
		return http.StatusConflict
	case apperr.OutOfBookingWindow, apperr.ReferenceNotFound, apperr.ConfigurationMissing:
		return http.StatusUnprocessableEntity
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.ProviderTransientFailure:
		return http.StatusServiceUnavailable
	case apperr.ProviderPermanentFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		if errors.Is(err, context.DeadlineExceeded) {
			w.Header().Set("Retry-After", "1")
			httpx.WriteError(w, http.StatusServiceUnavailable, "timeout", "request timed out", nil)
			return
		}
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}

	status := statusFor(e.Kind)
	var details map[string]any
	if e.Conflict != nil {
		details = map[string]any{"conflict": e.Conflict}
	}
	if e.EarliestStart != nil {
		if details == nil {
			details = map[string]any{}
		}
		details["earliest_start"] = e.EarliestStart.UTC().Format(time.RFC3339)
	}
	if e.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	if status >= 500 {
		logger.WarnContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "kind", string(e.Kind), "err", err)
	}
	httpx.WriteError(w, status, string(e.Kind), e.Message, details)
}

func decode(r *http.Request, v any) error {
	if err := httpx.DecodeJSON(r, v); err != nil {
		return apperr.Wrap(apperr.Validation, err, "invalid json body")
	}
	return nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

func parseTimestamp(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.New(apperr.Validation, "invalid %s: want RFC 3339", field)
	}
	return t, nil
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.New(apperr.Validation, "invalid %s: want YYYY-MM-DD", field)
	}
	return t, nil
}

// parseClock reads "HH:MM" as minutes after midnight; "24:00" is allowed as a close time.
func parseClock(field, raw string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(raw, "%d:%d", &h, &m); err != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, apperr.New(apperr.Validation, "invalid %s: want HH:MM", field)
	}
	return h*60 + m, nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
