package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Lifecycle errors
const (
	// ErrCodeConnectionAbandoned indicates a connect was cancelled before the
	// provider reported the channel connected.
	ErrCodeConnectionAbandoned ErrorCode = "CONNECTION_ABANDONED"
	// ErrCodeStreamClosed indicates iteration continued after a monitor closed.
	ErrCodeStreamClosed ErrorCode = "STREAM_CLOSED"
	// ErrCodeChannelClosed indicates an operation on a closed channel.
	ErrCodeChannelClosed ErrorCode = "CHANNEL_CLOSED"
	// ErrCodeNotConnected indicates the provider reported the channel down.
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"
	// ErrCodeTimeout indicates the caller's deadline expired first.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Provider errors
const (
	// ErrCodeProvider indicates the provider rejected a request.
	ErrCodeProvider ErrorCode = "PROVIDER_ERROR"
	// ErrCodeUnknownProvider indicates no factory is registered under a name.
	ErrCodeUnknownProvider ErrorCode = "UNKNOWN_PROVIDER"
	// ErrCodeDoubleResolution indicates a one-shot callback fired twice.
	ErrCodeDoubleResolution ErrorCode = "DOUBLE_RESOLUTION"
)

// Configuration and internal errors
const (
	// ErrCodeInvalidConfig indicates configuration failed validation.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeProvider:     true,
	ErrCodeTimeout:      true,
	ErrCodeInternal:     false,
	ErrCodeStreamClosed: false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
