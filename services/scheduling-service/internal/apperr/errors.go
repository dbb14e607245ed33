package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure so callers can react without string matching.
type Kind string

const (
	ConfigurationMissing     Kind = "configuration_missing"
	SlotUnavailable          Kind = "slot_unavailable"
	InvalidTransition        Kind = "invalid_transition"
	OutOfBookingWindow       Kind = "out_of_booking_window"
	ReferenceNotFound        Kind = "reference_not_found"
	ProviderTransientFailure Kind = "provider_transient_failure"
	ProviderPermanentFailure Kind = "provider_permanent_failure"
	NotFound                 Kind = "not_found"
	Validation               Kind = "validation"
)

// Error satisfies errors.Is against its Kind, so errors.Is(err, apperr.SlotUnavailable) works.
func (k Kind) Error() string { return string(k) }

// Interval is the conflicting range reported with SlotUnavailable.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Error struct {
	Kind          Kind
	Message       string
	Conflict      *Interval
	EarliestStart *time.Time
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == ProviderTransientFailure
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Conflict(start, end time.Time, format string, args ...any) *Error {
	e := New(SlotUnavailable, format, args...)
	e.Conflict = &Interval{Start: start, End: end}
	return e
}

func TooSoon(earliest time.Time, format string, args ...any) *Error {
	e := New(OutOfBookingWindow, format, args...)
	e.EarliestStart = &earliest
	return e
}

// KindOf returns the Kind carried by err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
