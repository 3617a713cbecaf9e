package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Tilth error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"         // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"               // 404
	ErrNotAvailableOffline   ErrorCode = "NOT_AVAILABLE_OFFLINE"   // 404
	ErrAttachmentTooLarge    ErrorCode = "ATTACHMENT_TOO_LARGE"    // 413
	ErrNotAPlant             ErrorCode = "NOT_A_PLANT"             // 422
	ErrUnidentifiable        ErrorCode = "UNIDENTIFIABLE"          // 422
	ErrInternal              ErrorCode = "INTERNAL"                // 500
	ErrUnknownAction         ErrorCode = "UNKNOWN_ACTION"          // 500
	ErrDispatchFailed        ErrorCode = "DISPATCH_FAILED"         // 502
	ErrOnlineOperationFailed ErrorCode = "ONLINE_OPERATION_FAILED" // 502
	ErrStoreUnavailable      ErrorCode = "STORE_UNAVAILABLE"       // 503
	ErrEnqueueFailed         ErrorCode = "ENQUEUE_FAILED"          // 503
	ErrAIUnavailable         ErrorCode = "AI_UNAVAILABLE"          // 503
)

// TilthError represents a structured error with code, status, and details.
// Err, when set, is the underlying cause and is reachable through Unwrap.
type TilthError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *TilthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *TilthError) Unwrap() error {
	return e.Err
}

func causeMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *TilthError {
	return &TilthError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing remote or local entity.
func NewNotFound(kind, identifier string) *TilthError {
	return &TilthError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewNotAvailableOffline creates a 404 error for a cache miss.
// partition is "content" or "knowledge".
func NewNotAvailableOffline(partition, key string) *TilthError {
	return &TilthError{
		Code:    ErrNotAvailableOffline,
		Status:  404,
		Message: fmt.Sprintf("not available offline: %s %q", partition, key),
		Details: map[string]any{"partition": partition, "key": key},
	}
}

// NewAttachmentTooLarge creates a 413 error when an attachment exceeds the configured limit.
func NewAttachmentTooLarge(max, actual int64) *TilthError {
	return &TilthError{
		Code:    ErrAttachmentTooLarge,
		Status:  413,
		Message: fmt.Sprintf("attachment exceeds maximum size: %d bytes (max %d)", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewNotAPlant creates a 422 error when a diagnosis image does not show a plant.
func NewNotAPlant(explanation string) *TilthError {
	return &TilthError{
		Code:    ErrNotAPlant,
		Status:  422,
		Message: "image does not appear to contain a plant",
		Details: map[string]any{"explanation": explanation},
	}
}

// NewUnidentifiable creates a 422 error when a plant is visible but no diagnosis could be made.
func NewUnidentifiable(explanation string) *TilthError {
	return &TilthError{
		Code:    ErrUnidentifiable,
		Status:  422,
		Message: "plant condition could not be identified",
		Details: map[string]any{"explanation": explanation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *TilthError {
	return &TilthError{
		Code:    ErrInternal,
		Status:  500,
		Message: causeMessage(err, "internal error"),
		Err:     err,
	}
}

// NewUnknownAction creates a 500 error for a (service, method) pair with no action variant.
// Reaching this at runtime is a programming error.
func NewUnknownAction(service, method string) *TilthError {
	return &TilthError{
		Code:    ErrUnknownAction,
		Status:  500,
		Message: fmt.Sprintf("unknown action: %s.%s", service, method),
		Details: map[string]any{"service": service, "method": method},
	}
}

// NewDispatchFailed creates a 502 error for a queued action whose remote operation failed during drain.
func NewDispatchFailed(service, method string, timestamp int64, err error) *TilthError {
	return &TilthError{
		Code:    ErrDispatchFailed,
		Status:  502,
		Message: fmt.Sprintf("%s.%s failed: %s", service, method, causeMessage(err, "unknown error")),
		Details: map[string]any{"service": service, "method": method, "timestamp": timestamp},
		Err:     err,
	}
}

// NewOnlineOperationFailed creates a 502 error for an immediate remote operation that failed.
func NewOnlineOperationFailed(operation string, err error) *TilthError {
	return &TilthError{
		Code:    ErrOnlineOperationFailed,
		Status:  502,
		Message: fmt.Sprintf("%s failed: %s", operation, causeMessage(err, "unknown error")),
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

// NewStoreUnavailable creates a 503 error when the durable store cannot be opened or used.
func NewStoreUnavailable(err error) *TilthError {
	return &TilthError{
		Code:    ErrStoreUnavailable,
		Status:  503,
		Message: "local store unavailable: " + causeMessage(err, "unknown error"),
		Err:     err,
	}
}

// NewEnqueueFailed creates a 503 error when an action could not be written to the queue.
func NewEnqueueFailed(service, method string, err error) *TilthError {
	return &TilthError{
		Code:    ErrEnqueueFailed,
		Status:  503,
		Message: fmt.Sprintf("action not saved, try again: %s.%s", service, method),
		Details: map[string]any{"service": service, "method": method},
		Err:     err,
	}
}

// NewAIUnavailable creates a 503 error when no inference client is configured or reachable.
func NewAIUnavailable(msg string) *TilthError {
	return &TilthError{
		Code:    ErrAIUnavailable,
		Status:  503,
		Message: msg,
	}
}

// Is checks if err, or any error it wraps, is a TilthError with the given code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if tErr, ok := err.(*TilthError); ok && tErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// CodeOf returns the code of the outermost TilthError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var tErr *TilthError
	if stderrors.As(err, &tErr) {
		return tErr.Code
	}
	return ErrInternal
}
