package cyibot

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeRetrieval        = "RETRIEVAL_ERROR"
	ErrCodeQuery            = "QUERY_ERROR"
	ErrCodeSynthesis        = "SYNTHESIS_ERROR"
	ErrCodeSessionState     = "SESSION_STATE_ERROR"
	ErrCodeRouting          = "ROUTING_ERROR"
	ErrCodeToolValidation   = "TOOL_VALIDATION_ERROR"
	ErrCodeToolNotFound     = "TOOL_NOT_FOUND"
	ErrCodeFilterValidation = "FILTER_VALIDATION_ERROR"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeCancelled        = "CANCELLED"
)

// Sentinel errors usable with errors.Is. An *Error matches the sentinel
// carrying the same code regardless of stage, message or cause.
var (
	ErrConfiguration    = &Error{Code: ErrCodeConfiguration}
	ErrRetrieval        = &Error{Code: ErrCodeRetrieval}
	ErrQuery            = &Error{Code: ErrCodeQuery}
	ErrSynthesis        = &Error{Code: ErrCodeSynthesis}
	ErrSessionState     = &Error{Code: ErrCodeSessionState}
	ErrRouting          = &Error{Code: ErrCodeRouting}
	ErrToolValidation   = &Error{Code: ErrCodeToolValidation}
	ErrToolNotFound     = &Error{Code: ErrCodeToolNotFound}
	ErrFilterValidation = &Error{Code: ErrCodeFilterValidation}
	ErrTimeout          = &Error{Code: ErrCodeTimeout}
	ErrCancelled        = &Error{Code: ErrCodeCancelled}
)

// Error is the error type returned by every component of the bot.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeRetrieval)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "retrieval", "routing")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewRetrievalError(cause error) *Error {
	return NewError(ErrCodeRetrieval, "retrieval", "vector search failed", cause)
}

func NewQueryError(message string, cause error) *Error {
	return NewError(ErrCodeQuery, "structured_query", message, cause)
}

func NewSynthesisError(cause error) *Error {
	return NewError(ErrCodeSynthesis, "synthesis", "failed to synthesize answer", cause)
}

func NewSessionStateError(sessionID string, cause error) *Error {
	return NewError(ErrCodeSessionState, "session", fmt.Sprintf("session '%s' holds invalid state", sessionID), cause)
}

func NewRoutingError(message string, cause error) *Error {
	return NewError(ErrCodeRouting, "routing", message, cause)
}

func NewToolValidationError(toolName string, cause error) *Error {
	return NewError(ErrCodeToolValidation, "routing", fmt.Sprintf("invalid arguments for tool '%s'", toolName), cause)
}

func NewToolNotFoundError(toolName string) *Error {
	return NewError(ErrCodeToolNotFound, "routing", fmt.Sprintf("tool '%s' not found", toolName), nil)
}

func NewFilterValidationError(message string) *Error {
	return NewError(ErrCodeFilterValidation, "filter", message, nil)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "collaborator did not respond in time", cause)
}

func NewCancelledError(stage string, cause error) *Error {
	return NewError(ErrCodeCancelled, stage, "turn cancelled", cause)
}

// classifyContextError converts context expiry into the matching bot error.
// Any other error is returned unchanged.
func classifyContextError(stage string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(stage, err)
	case errors.Is(err, context.Canceled):
		return NewCancelledError(stage, err)
	default:
		return err
	}
}

// UserMessage maps an error to text that is safe to show in chat.
// Internal details (causes, SQL, stack stages) are never included.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "Sorry, that took too long to answer. Please try again in a moment."
	case errors.Is(err, ErrCancelled):
		return "The request was cancelled before an answer was ready."
	case errors.Is(err, ErrRetrieval):
		return "Sorry, I couldn't search the document archive right now. Please try again later."
	case errors.Is(err, ErrQuery):
		return "Sorry, I couldn't look that up in the directory right now. Please try again later."
	case errors.Is(err, ErrSynthesis):
		return "Sorry, I found some information but couldn't put an answer together. Please try again."
	case errors.Is(err, ErrSessionState):
		return "Our conversation state was reset. Please ask your question again."
	default:
		return "Sorry, something went wrong while answering your question."
	}
}
