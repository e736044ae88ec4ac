package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrRetriesExceeded is returned when a transaction stayed busy for every
// allowed attempt.
var ErrRetriesExceeded = errors.New("db tx retries exceeded")

// ErrorKind classifies a SQLite failure by what the caller can do about it.
type ErrorKind uint8

const (
	// KindOther is anything not covered below.
	KindOther ErrorKind = iota

	// KindUnique is a unique or primary key violation. Outreach records
	// and accounts are keyed, so this usually means a duplicate write.
	KindUnique

	// KindBusy means another connection, typically the CLI, holds the
	// write lock past the busy timeout.
	KindBusy

	// KindLocked is a lock conflict within one connection.
	KindLocked

	// KindSchema means the schema does not match the query, most often
	// because migrations were skipped.
	KindSchema
)

// String returns the kind's name.
func (k ErrorKind) String() string {
	switch k {
	case KindUnique:
		return "unique"
	case KindBusy:
		return "busy"
	case KindLocked:
		return "locked"
	case KindSchema:
		return "schema"
	default:
		return "other"
	}
}

// SQLError is a classified SQLite error.
type SQLError struct {
	Kind ErrorKind
	Err  error
}

// Error implements error.
func (e *SQLError) Error() string {
	return fmt.Sprintf("sqlite %v error: %v", e.Kind, e.Err)
}

// Unwrap returns the driver error.
func (e *SQLError) Unwrap() error {
	return e.Err
}

// MapSQLError classifies a go-sqlite3 error. Any other error, including
// ones returned by a transaction body, comes back unchanged.
func MapSQLError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	return &SQLError{Kind: classify(sqliteErr), Err: sqliteErr}
}

func classify(err sqlite3.Error) ErrorKind {
	switch err.Code {
	case sqlite3.ErrConstraint:
		switch err.ExtendedCode {
		case sqlite3.ErrConstraintUnique,
			sqlite3.ErrConstraintPrimaryKey:

			return KindUnique
		}

	case sqlite3.ErrBusy:
		return KindBusy

	case sqlite3.ErrLocked:
		return KindLocked

	case sqlite3.ErrError:
		msg := err.Error()
		if strings.Contains(msg, "no such table") ||
			strings.Contains(msg, "no such column") {

			return KindSchema
		}
	}

	return KindOther
}

// KindOf returns the kind of a mapped error, or KindOther.
func KindOf(err error) ErrorKind {
	var sqlErr *SQLError
	if errors.As(err, &sqlErr) {
		return sqlErr.Kind
	}

	return KindOther
}

// IsRetryable reports whether a transaction that failed with err may be
// run again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindBusy, KindLocked:
		return true
	default:
		return false
	}
}

// IsUniqueConstraintViolation reports whether err is a unique or primary
// key violation.
func IsUniqueConstraintViolation(err error) bool {
	return KindOf(err) == KindUnique
}
