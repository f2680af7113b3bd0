package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Wrap them in a DomainError to attach the operation and a
// human-readable detail; ErrorCodeOf resolves any wrapped chain back to a code.
var (
	ErrUnknownPin            = fmt.Errorf("unknown pin")
	ErrUnsupportedCapability = fmt.Errorf("unsupported capability")
	ErrValidation            = fmt.Errorf("validation failed")
	ErrNotFound              = fmt.Errorf("not found")
	ErrConnectivityTimeout   = fmt.Errorf("station connect budget exhausted")
	ErrTimeSyncFailed        = fmt.Errorf("time sync failed")
	ErrTransportFault        = fmt.Errorf("transport fault")
	ErrDriver                = fmt.Errorf("pin driver failure")
	ErrRadio                 = fmt.Errorf("radio failure")
	ErrJournalWrite          = fmt.Errorf("journal write failed")
	ErrTimeSourceUnavailable = fmt.Errorf("time source unavailable")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.SetPWM")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail, safe to echo to API clients
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// DetailOf returns the Detail of the outermost DomainError in err's chain,
// falling back to err.Error().
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

// ErrorCode is a machine-parseable error category for logs and API mapping.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeUnknownPin            ErrorCode = "UNKNOWN_PIN"
	CodeUnsupportedCapability ErrorCode = "UNSUPPORTED_CAPABILITY"
	CodeValidation            ErrorCode = "VALIDATION"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeConnectivityTimeout   ErrorCode = "CONNECTIVITY_TIMEOUT"
	CodeTimeSyncFailed        ErrorCode = "TIME_SYNC_FAILED"
	CodeTransportFault        ErrorCode = "TRANSPORT_FAULT"
	CodeDriver                ErrorCode = "DRIVER"
	CodeRadio                 ErrorCode = "RADIO"
	CodeJournalWrite          ErrorCode = "JOURNAL_WRITE"
	CodeTimeSourceUnavailable ErrorCode = "TIME_SOURCE_UNAVAILABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrUnknownPin:            CodeUnknownPin,
	ErrUnsupportedCapability: CodeUnsupportedCapability,
	ErrValidation:            CodeValidation,
	ErrNotFound:              CodeNotFound,
	ErrConnectivityTimeout:   CodeConnectivityTimeout,
	ErrTimeSyncFailed:        CodeTimeSyncFailed,
	ErrTransportFault:        CodeTransportFault,
	ErrDriver:                CodeDriver,
	ErrRadio:                 CodeRadio,
	ErrJournalWrite:          CodeJournalWrite,
	ErrTimeSourceUnavailable: CodeTimeSourceUnavailable,
}

// codePriority fixes the lookup order when an error chain matches more than
// one sentinel (e.g. a validation error wrapping a driver failure).
var codePriority = []error{
	ErrUnknownPin,
	ErrUnsupportedCapability,
	ErrValidation,
	ErrNotFound,
	ErrConnectivityTimeout,
	ErrTimeSyncFailed,
	ErrTransportFault,
	ErrDriver,
	ErrRadio,
	ErrJournalWrite,
	ErrTimeSourceUnavailable,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
