package common

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorCode int

const (
	// DuplicateObjectError indicates an attempt to create a table that already exists in the catalog.
	DuplicateObjectError ErrorCode = iota
	// NoSuchObjectError indicates a request for a table that does not exist in the catalog.
	NoSuchObjectError
	// SchemaMismatchError indicates a relation that lacks a required column or stores it with the wrong type.
	SchemaMismatchError
	// ValidationError indicates rows that violate the data-quality rules of a run.
	ValidationError
	// ConfigurationError indicates invalid run parameters or settings.
	ConfigurationError
	// ConnectivityError indicates a source or destination that could not be reached.
	ConnectivityError
)

func (ec ErrorCode) String() string {
	switch ec {
	case DuplicateObjectError:
		return "DuplicateObjectError"
	case NoSuchObjectError:
		return "NoSuchObjectError"
	case SchemaMismatchError:
		return "SchemaMismatchError"
	case ValidationError:
		return "ValidationError"
	case ConfigurationError:
		return "ConfigurationError"
	case ConnectivityError:
		return "ConnectivityError"
	}
	return "unknown"
}

// Error is the error type shared by every layer of the job. It wraps a specific ErrorCode with a detailed
// message, so callers can tell a missing table from a bad row without parsing strings.
type Error struct {
	Code      ErrorCode
	ErrString string
}

func (e Error) Error() string {
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.ErrString)
}

// NewError builds an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) Error {
	return Error{Code: code, ErrString: fmt.Sprintf(format, args...)}
}

// IsErrorCode reports whether any error in err's chain is an Error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}
