package gridbase

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of error, independent of transport.
type ErrorKind string

const (
	ErrorKindBadRequest   ErrorKind = "bad_request"
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindForbidden    ErrorKind = "forbidden"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindConflict     ErrorKind = "conflict"
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindRateLimit    ErrorKind = "rate_limit"
	ErrorKindInternal     ErrorKind = "internal"
)

// Error codes used across the engine.
const (
	// Schema errors
	ErrCodeTableNotFound       = "TABLE_NOT_FOUND"
	ErrCodeTableAlreadyExists  = "TABLE_ALREADY_EXISTS"
	ErrCodeColumnNotFound      = "COLUMN_NOT_FOUND"
	ErrCodeColumnAlreadyExists = "COLUMN_ALREADY_EXISTS"
	ErrCodeSchemaNotFound      = "SCHEMA_NOT_FOUND"
	ErrCodeSchemaInvalid       = "SCHEMA_INVALID"
	ErrCodePatchFailed         = "PATCH_FAILED"

	// Record errors
	ErrCodeRecordNotFound  = "RECORD_NOT_FOUND"
	ErrCodeDuplicateRecord = "DUPLICATE_RECORD"

	// Request errors
	ErrCodeInvalidIdentifier = "INVALID_IDENTIFIER"
	ErrCodeInvalidFilter     = "INVALID_FILTER"
	ErrCodeInvalidFormula    = "INVALID_FORMULA"
	ErrCodeInvalidLink       = "INVALID_LINK"
	ErrCodeInvalidPageSize   = "INVALID_PAGE_SIZE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeNotEnabled        = "OPERATION_NOT_ENABLED"

	// Backend errors
	ErrCodeQueryFailed       = "QUERY_FAILED"
	ErrCodeQueryBuildFailed  = "QUERY_BUILD_FAILED"
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
	ErrCodeCopyDepthExceeded = "COPY_DEPTH_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// EngineError is the unified error type surfaced by the record engine.
type EngineError struct {
	Kind    ErrorKind      `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Kind, e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithField adds field context to an EngineError.
func (e *EngineError) WithField(field string) *EngineError {
	e.Field = field
	return e
}

// WithCause attaches the underlying error.
func (e *EngineError) WithCause(cause error) *EngineError {
	e.Cause = cause
	return e
}

// WithDetail adds a single detail entry.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewEngineError creates a new EngineError.
func NewEngineError(kind ErrorKind, code, message string) *EngineError {
	return &EngineError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// NewBadRequestError creates a bad-request error.
func NewBadRequestError(code, message string) *EngineError {
	return NewEngineError(ErrorKindBadRequest, code, message)
}

// NewInvalidIdentifierError is raised when a user-supplied identifier fails
// the storage-name or alias regex. The identifier is reported in the details
// and is never interpolated into SQL.
func NewInvalidIdentifierError(name string) *EngineError {
	return NewEngineError(ErrorKindBadRequest, ErrCodeInvalidIdentifier,
		"invalid identifier").WithDetail("identifier", name)
}

// NewRecordNotFoundError creates a record not found error.
func NewRecordNotFoundError(id string) *EngineError {
	return NewEngineError(ErrorKindNotFound, ErrCodeRecordNotFound,
		"record not found").WithDetail("record_id", id)
}

// NewTableNotFoundError creates a table not found error.
func NewTableNotFoundError(id string) *EngineError {
	return NewEngineError(ErrorKindNotFound, ErrCodeTableNotFound,
		fmt.Sprintf("table '%s' not found", id))
}

// NewColumnNotFoundError creates a column not found error.
func NewColumnNotFoundError(id string) *EngineError {
	return NewEngineError(ErrorKindNotFound, ErrCodeColumnNotFound,
		fmt.Sprintf("column '%s' not found", id))
}

// NewSchemaNotFoundError creates a schema snapshot not found error.
func NewSchemaNotFoundError(domain, entityID string) *EngineError {
	return NewEngineError(ErrorKindNotFound, ErrCodeSchemaNotFound,
		fmt.Sprintf("schema for %s/%s not found", domain, entityID))
}

// NewConflictError creates a duplicate-id or unique-key error.
func NewConflictError(code, message string) *EngineError {
	return NewEngineError(ErrorKindConflict, code, message)
}

// NewValidationError creates a constraint-violation error.
func NewValidationError(field, message string) *EngineError {
	return NewEngineError(ErrorKindValidation, ErrCodeValidationFailed, message).WithField(field)
}

// NewQueryError wraps a backend query failure.
func NewQueryError(message string, cause error) *EngineError {
	return NewEngineError(ErrorKindInternal, ErrCodeQueryFailed, message).WithCause(cause)
}

// NewTransactionError wraps a transaction begin/commit failure.
func NewTransactionError(message string, cause error) *EngineError {
	return NewEngineError(ErrorKindInternal, ErrCodeTransactionFailed, message).WithCause(cause)
}

// NewInternalError wraps an unexpected state.
func NewInternalError(message string, cause error) *EngineError {
	return NewEngineError(ErrorKindInternal, ErrCodeInternalError, message).WithCause(cause)
}

// NewNotEnabledError is returned when a façade bundle does not carry the
// requested capability.
func NewNotEnabledError(op string) *EngineError {
	return NewEngineError(ErrorKindBadRequest, ErrCodeNotEnabled,
		fmt.Sprintf("operation '%s' is not enabled on this model", op))
}

// IsKind reports whether err is an EngineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}

// IsCode reports whether err is an EngineError carrying the given code.
func IsCode(err error, code string) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsNotFound reports whether err is a not-found engine error.
func IsNotFound(err error) bool { return IsKind(err, ErrorKindNotFound) }

// IsBadRequest reports whether err is a bad-request engine error.
func IsBadRequest(err error) bool { return IsKind(err, ErrorKindBadRequest) }

// IsConflict reports whether err is a conflict engine error.
func IsConflict(err error) bool { return IsKind(err, ErrorKindConflict) }

// IsValidation reports whether err is a validation engine error.
func IsValidation(err error) bool { return IsKind(err, ErrorKindValidation) }

// IsInternal reports whether err is an internal engine error.
func IsInternal(err error) bool { return IsKind(err, ErrorKindInternal) }
