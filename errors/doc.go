// Package errors provides the structured error type shared by the pvkit
// packages.
//
// Every failure surfaced to callers is an *AppError carrying a
// machine-readable ErrorCode, a human-readable message, an optional cause
// and a retryable hint. Errors compare by code, so
//
//	errors.Is(err, pvkiterrors.StreamClosed())
//
// holds for any STREAM_CLOSED error regardless of its message or details.
package errors
