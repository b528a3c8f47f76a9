package domain

import "fmt"

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

// Common domain error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeExternalService = "EXTERNAL_SERVICE_ERROR"
	ErrCodePersistence     = "PERSISTENCE_FAILURE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidDocumentStatus = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrInvalidMessageRole    = NewDomainError(ErrCodeValidation, "invalid message role")
	ErrEmptyDocumentText     = NewDomainError(ErrCodeValidation, "document text is empty")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrDocumentNotFound     = NewDomainError(ErrCodeNotFound, "document not found")
	ErrLargeChunkNotFound   = NewDomainError(ErrCodeNotFound, "large chunk not found")
	ErrConversationNotFound = NewDomainError(ErrCodeNotFound, "conversation not found")
	ErrMessageNotFound      = NewDomainError(ErrCodeNotFound, "message not found")
)

// GenerationAborted reports a generation stream that failed mid-flight.
// The text accumulated before the failure has already been finalized and
// persisted by the time this error reaches the caller.
type GenerationAborted struct {
	Partial string
	Cause   error
}

func (e *GenerationAborted) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation aborted early: %v", e.Cause)
	}
	return "generation aborted early"
}

func (e *GenerationAborted) Unwrap() error {
	return e.Cause
}
