package export

import (
	"errors"
	"fmt"
)

const (
	CodeTransientBackend       = "E_TRANSIENT_BACKEND"
	CodeBackendRejected        = "E_BACKEND_REJECTED"
	CodeUnsupportedFormat      = "E_UNSUPPORTED_FORMAT"
	CodeDirectoryAlreadyExists = "E_DIRECTORY_EXISTS"
	CodeEmptyJob               = "E_EMPTY_JOB"
	CodeSchemaUnification      = "E_SCHEMA_UNIFICATION"
	CodeInvalidInput           = "E_INVALID_INPUT"
	CodeIO                     = "E_IO"
	CodeRunFailed              = "E_RUN_FAILED"
	CodeUnclassified           = "E_UNCLASSIFIED"
)

// Sentinels for errors.Is; matching is by code only.
var (
	ErrTransientBackend       = &Error{Code: CodeTransientBackend, Retryable: true}
	ErrBackendRejected        = &Error{Code: CodeBackendRejected}
	ErrUnsupportedFormat      = &Error{Code: CodeUnsupportedFormat}
	ErrDirectoryAlreadyExists = &Error{Code: CodeDirectoryAlreadyExists}
	ErrEmptyJob               = &Error{Code: CodeEmptyJob}
	ErrSchemaUnification      = &Error{Code: CodeSchemaUnification}
	ErrInvalidInput           = &Error{Code: CodeInvalidInput}
	ErrRunFailed              = &Error{Code: CodeRunFailed}
)

// Error carries a classification code and a retryability hint decided where
// the failure originated.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WrapError classifies err under code.
func WrapError(code string, retryable bool, err error) *Error {
	if err == nil {
		return &Error{Code: code, Retryable: retryable}
	}
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(code string, retryable bool, format string, args ...any) *Error {
	return &Error{Code: code, Retryable: retryable, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" when
// err is unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err may succeed on another attempt. Unclassified
// errors are treated as retryable; fatal conditions are always classified.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// FatalCodes lists codes that must never be retried by a step executor.
func FatalCodes() []string {
	return []string{
		CodeBackendRejected,
		CodeUnsupportedFormat,
		CodeDirectoryAlreadyExists,
		CodeEmptyJob,
		CodeSchemaUnification,
		CodeInvalidInput,
		CodeRunFailed,
	}
}
