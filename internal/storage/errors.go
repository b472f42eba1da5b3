package storage

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kalambet/leadnexus/internal/apperr"
)

// Postgres SQLSTATE codes translated to domain kinds.
const (
	pqUniqueViolation       = "23505"
	pqForeignKeyViolation   = "23503"
	pqNotNullViolation      = "23502"
	pqInsufficientPrivilege = "42501"
	pqInvalidTextRepr       = "22P02"
	pqCheckViolation        = "23514"
)

// translateSQLite maps SQLite constraint failures to apperr kinds. Other
// errors are returned unchanged.
func translateSQLite(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return err
	}
	msg := se.Error()
	switch {
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		strings.Contains(msg, "UNIQUE constraint"):
		return classifyUnique(msg, err)
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, strings.Contains(msg, "FOREIGN KEY"):
		return apperr.Wrap(apperr.InvalidReference, err, "referenced lead does not exist")
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_NOTNULL, strings.Contains(msg, "NOT NULL"):
		return apperr.Wrap(apperr.MissingRequiredField, err, "a required field is missing")
	default:
		return apperr.Wrap(apperr.ValidationFailure, err, "record violates a field constraint")
	}
}

// translatePostgres maps Postgres SQLSTATEs to apperr kinds. Other errors
// are returned unchanged.
func translatePostgres(err error) error {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return err
	}
	switch string(pe.Code) {
	case pqUniqueViolation:
		return classifyUnique(pe.Constraint+" "+pe.Message, err)
	case pqForeignKeyViolation:
		return apperr.Wrap(apperr.InvalidReference, err, "referenced lead does not exist")
	case pqNotNullViolation:
		if pe.Column != "" {
			return apperr.Wrap(apperr.MissingRequiredField, err, "%s is required", pe.Column)
		}
		return apperr.Wrap(apperr.MissingRequiredField, err, "a required field is missing")
	case pqInsufficientPrivilege:
		return apperr.Wrap(apperr.Unauthorized, err, "insufficient database privileges")
	case pqInvalidTextRepr, pqCheckViolation:
		return apperr.Wrap(apperr.ValidationFailure, err, "record violates a field constraint")
	}
	return err
}

func classifyUnique(detail string, err error) error {
	switch {
	case strings.Contains(detail, "email"):
		return apperr.Wrap(apperr.DuplicateEmail, err, "a lead with this email already exists")
	case strings.Contains(detail, "lead_metadata"):
		return apperr.Wrap(apperr.ValidationFailure, err, "relationship already exists")
	default:
		return apperr.Wrap(apperr.ValidationFailure, err, "record already exists")
	}
}
