package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the unified error type returned by pvkit.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an *AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Constructors ---

// ConnectionAbandoned reports a connect that was cancelled before completion.
func ConnectionAbandoned(channel string) *AppError {
	return &AppError{
		Code: ErrCodeConnectionAbandoned, Message: "connect abandoned before the channel came up",
		Details: channelDetails(channel),
	}
}

// StreamClosed reports iteration past the end of a closed monitor.
func StreamClosed() *AppError {
	return &AppError{Code: ErrCodeStreamClosed, Message: "stream ended"}
}

// ChannelClosed reports an operation attempted on a closed channel.
func ChannelClosed(channel string) *AppError {
	return &AppError{
		Code: ErrCodeChannelClosed, Message: "channel is closed",
		Details: channelDetails(channel),
	}
}

// NotConnected reports an operation while the provider has the channel down.
func NotConnected(channel string) *AppError {
	return &AppError{
		Code: ErrCodeNotConnected, Message: "channel is not connected",
		Retryable: true, Details: channelDetails(channel),
	}
}

// Timeout reports an operation that outlived the caller's deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s did not complete before the deadline", operation),
		Retryable: true, Details: map[string]any{"operation": operation},
	}
}

// Provider wraps a synchronous rejection from the provider.
func Provider(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeProvider, Message: fmt.Sprintf("provider rejected %s", operation),
		Retryable: true, Details: map[string]any{"operation": operation}, Cause: cause,
	}
}

// UnknownProvider reports a lookup for an unregistered provider backend.
func UnknownProvider(name string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownProvider, Message: fmt.Sprintf("provider %q is not registered", name),
		Details: map[string]any{"provider": name},
	}
}

// DoubleResolution reports a one-shot callback delivered more than once.
func DoubleResolution(operation string) *AppError {
	return &AppError{
		Code: ErrCodeDoubleResolution, Message: fmt.Sprintf("%s callback delivered more than once", operation),
		Details: map[string]any{"operation": operation},
	}
}

// InvalidConfig reports a configuration validation failure.
func InvalidConfig(reason string) *AppError {
	return &AppError{Code: ErrCodeInvalidConfig, Message: reason}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred", Cause: cause,
	}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

func channelDetails(channel string) map[string]any {
	if channel == "" {
		return nil
	}
	return map[string]any{"channel": channel}
}
