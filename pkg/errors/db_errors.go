// Package errors classifies MySQL errors from the item store. The scheduler
// retries transient infrastructure failures on its failed-item timer, but a
// row the database will never accept must not burn that retry budget.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// DBErrorType partitions store errors by how the ingestion path reacts.
type DBErrorType int

const (
	// ErrorTypeUnknown is anything not recognized below. Treated as
	// transient so a new failure mode is not silently dropped from the
	// retry path.
	ErrorTypeUnknown DBErrorType = iota
	// ErrorTypeDuplicateKey is a unique index hit (MySQL 1062). For the
	// inbound_items table this means the message_id was already stored by
	// an earlier fetch; not a failure.
	ErrorTypeDuplicateKey
	// ErrorTypeInvalidData covers values a column will never accept: NULL
	// in a NOT NULL column (1048), truncated or wrong-typed values
	// (1265, 1366), data too long for the column (1406). Permanent.
	ErrorTypeInvalidData
	// ErrorTypeDeadlock is MySQL 1213. The aborted statement is safe to
	// re-run.
	ErrorTypeDeadlock
	// ErrorTypeConnection is a network-level failure reaching the server.
	ErrorTypeConnection
	// ErrorTypeTimeout is a cancelled or timed-out statement.
	ErrorTypeTimeout
)

// DBError carries the classification alongside the original error.
type DBError struct {
	Type DBErrorType
	Code uint16 // MySQL server error number, 0 when not a server error
	Err  error
}

// Error implements the error interface.
func (e *DBError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("store error (mysql %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("store error: %v", e.Err)
}

// Unwrap keeps the original error visible to errors.Is and errors.As.
func (e *DBError) Unwrap() error {
	return e.Err
}

// ClassifyDBError classifies an error from a store operation. The error may
// be wrapped; the MySQL server error is found anywhere in the chain. Returns
// nil for a nil error.
func ClassifyDBError(err error) *DBError {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		t := ErrorTypeUnknown
		switch mysqlErr.Number {
		case 1062:
			t = ErrorTypeDuplicateKey
		case 1048, 1265, 1366, 1406:
			t = ErrorTypeInvalidData
		case 1213:
			t = ErrorTypeDeadlock
		}
		return &DBError{Type: t, Code: mysqlErr.Number, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &DBError{Type: ErrorTypeTimeout, Err: err}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") {
		return &DBError{Type: ErrorTypeTimeout, Err: err}
	}
	if isConnectionMessage(msg) {
		return &DBError{Type: ErrorTypeConnection, Err: err}
	}

	return &DBError{Type: ErrorTypeUnknown, Err: err}
}

// isConnectionMessage matches the driver and net error strings seen when the
// server is unreachable. msg must already be lowercased.
func isConnectionMessage(msg string) bool {
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"dial tcp",
		"invalid connection",
		"bad connection",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether re-running the failed operation later could
// succeed. Duplicate rows and rejected values are permanent; everything else,
// including unknown errors, stays on the retry path.
func IsRetryable(err error) bool {
	dbErr := ClassifyDBError(err)
	if dbErr == nil {
		return false
	}
	switch dbErr.Type {
	case ErrorTypeDuplicateKey, ErrorTypeInvalidData:
		return false
	default:
		return true
	}
}

// IsDuplicateKeyError reports a unique index hit anywhere in the chain.
func IsDuplicateKeyError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeDuplicateKey
}
