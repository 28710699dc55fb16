package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code and message, so a sentinel
// still matches after WithCause attached a cause to a copy of it.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithCause returns a copy of the error with an underlying cause attached
func (e *DomainError) WithCause(err error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first DomainError in err's chain, or "" if none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Common domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected    = "PROVIDER_REJECTED"
	ErrCodeInvalidDimension    = "INVALID_DIMENSION"
	ErrCodeInvalidScope        = "INVALID_SCOPE"
)

// Embedding provider errors
var (
	ErrProviderUnavailable = NewDomainError(ErrCodeProviderUnavailable, "embedding provider unavailable")
	ErrProviderRejected    = NewDomainError(ErrCodeProviderRejected, "embedding provider rejected input")
)

// Vector store errors
var (
	ErrInvalidDimension  = NewDomainError(ErrCodeInvalidDimension, "vector has wrong dimension")
	ErrZeroVector        = NewDomainError(ErrCodeInvalidDimension, "zero vector has undefined similarity")
	ErrInvalidScope      = NewDomainError(ErrCodeInvalidScope, "owner scope is required")
	ErrTenantScopeNested = NewDomainError(ErrCodeInvalidScope, "tenant scope cannot contain '/'")
)

// Validation errors
var (
	ErrInvalidSourceType      = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrMissingSourceID        = NewDomainError(ErrCodeValidation, "source id is required")
	ErrInvalidChunkSize       = NewDomainError(ErrCodeValidation, "max chunk size must be positive")
	ErrInvalidLimit           = NewDomainError(ErrCodeValidation, "k must be positive")
	ErrInvalidMinSimilarity   = NewDomainError(ErrCodeValidation, "min similarity must be within [-1, 1]")
	ErrInvalidIngestJobStatus = NewDomainError(ErrCodeValidation, "invalid ingest job status")
	ErrUnsupportedContentType = NewDomainError(ErrCodeValidation, "unsupported content type")
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidAPIKeyRecord    = NewDomainError(ErrCodeValidation, "api key id, name and hash are required")
	ErrMissingAPIKeyName      = NewDomainError(ErrCodeValidation, "api key name is required")
	ErrMissingAPIKeyID        = NewDomainError(ErrCodeValidation, "api key id is required")
	ErrMalformedAPIToken      = NewDomainError(ErrCodeValidation, "invalid api key format (expected rcl_<64 hex chars>)")
)

// Not found errors
var (
	ErrIngestJobNotFound = NewDomainError(ErrCodeNotFound, "ingest job not found")
	ErrAPIKeyNotFound    = NewDomainError(ErrCodeNotFound, "api key not found")
)

// Already exists errors
var (
	ErrAPIKeyAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "api key already exists")
)

// Authorization errors
var (
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Storage errors
var (
	ErrStorageNotConfigured = NewDomainError(ErrCodeInternalError, "object storage not configured")
	ErrStorageOperationFail = NewDomainError(ErrCodeInternalError, "storage operation failed")
)
