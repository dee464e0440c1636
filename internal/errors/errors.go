package errors

import "fmt"

// ErrorCode represents a namecall error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrInvalidSelection ErrorCode = "INVALID_SELECTION" // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrFileNotFound     ErrorCode = "FILE_NOT_FOUND"    // 404
	ErrUnavailable      ErrorCode = "UNAVAILABLE"       // 503
	ErrInternal         ErrorCode = "INTERNAL"          // 500
)

// BotError represents a structured error with code, status, and details.
type BotError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *BotError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *BotError {
	return &BotError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidSelection creates a 400 error for a group number outside the
// listing. index is the digits as sent; they may not fit an int.
func NewInvalidSelection(index string, available int) *BotError {
	return &BotError{
		Code:    ErrInvalidSelection,
		Status:  400,
		Message: fmt.Sprintf("invalid group number %s (have %d groups)", index, available),
		Details: map[string]any{"index": index, "available": available},
	}
}

// NewNotFound creates a 404 error for a token with no known mapping.
func NewNotFound(token string) *BotError {
	return &BotError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("name not found: %s", token),
		Details: map[string]any{"token": token},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *BotError {
	return &BotError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewUnavailable creates a 503 error when an external collaborator cannot be reached.
func NewUnavailable(what string, err error) *BotError {
	msg := what + " unavailable"
	if err != nil {
		msg = fmt.Sprintf("%s unavailable: %v", what, err)
	}
	return &BotError{
		Code:    ErrUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"collaborator": what},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *BotError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &BotError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a BotError with the given code.
func Is(err error, code ErrorCode) bool {
	if bErr, ok := err.(*BotError); ok {
		return bErr.Code == code
	}
	return false
}
