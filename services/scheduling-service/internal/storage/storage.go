// Package storage holds the Postgres repositories of the scheduling service.
// Every repository takes a db.Beginner so tests can substitute pgxmock.
package storage

import (
	"fmt"

	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
)

// mapErr classifies driver errors into apperr kinds. Errors that already carry
// a kind pass through unchanged.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != "" {
		return err
	}
	switch {
	case db.IsNotFound(err):
		return apperr.Wrap(apperr.NotFound, err, "%s not found", what)
	case db.IsExclusionViolation(err):
		return apperr.Wrap(apperr.SlotUnavailable, err, "%s overlaps an existing appointment", what)
	case db.IsUniqueViolation(err):
		return apperr.Wrap(apperr.Validation, err, "%s already exists", what)
	case db.IsForeignKeyViolation(err):
		return apperr.Wrap(apperr.ReferenceNotFound, err, "%s references a missing row", what)
	case db.IsTimeout(err):
		return apperr.Wrap(apperr.ProviderTransientFailure, err, "%s: database timeout", what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
