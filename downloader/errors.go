package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strings"
	"syscall"
)

// ErrorType represents different categories of download errors
type ErrorType int

const (
	ErrorInvalidRequest ErrorType = iota
	ErrorNetworkFailure
	ErrorFileSystemError
	ErrorRemote
	ErrorChecksumMismatch
	ErrorInsufficientSpace
	ErrorRetriesExhausted
	ErrorCancelled
	ErrorUnknown
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorInvalidRequest:
		return "invalid_request"
	case ErrorNetworkFailure:
		return "network_failure"
	case ErrorFileSystemError:
		return "filesystem_error"
	case ErrorRemote:
		return "remote_error"
	case ErrorChecksumMismatch:
		return "checksum_mismatch"
	case ErrorInsufficientSpace:
		return "insufficient_space"
	case ErrorRetriesExhausted:
		return "retries_exhausted"
	case ErrorCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DownloadError is a classified failure of a download, a file transfer, or a preflight check
type DownloadError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Cause   error          `json:"cause,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Error implements the error interface
func (de *DownloadError) Error() string {
	if de.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", de.Type.String(), de.Message, de.Cause)
	}
	return fmt.Sprintf("%s: %s", de.Type.String(), de.Message)
}

// Unwrap returns the underlying cause error
func (de *DownloadError) Unwrap() error {
	return de.Cause
}

// NewDownloadError creates a new DownloadError with the specified type and message
func NewDownloadError(errorType ErrorType, message string) *DownloadError {
	return &DownloadError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

// NewDownloadErrorWithCause creates a new DownloadError with a cause
func NewDownloadErrorWithCause(errorType ErrorType, message string, cause error) *DownloadError {
	return &DownloadError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext attaches a key/value pair and returns the same error for chaining
func (de *DownloadError) WithContext(key string, value any) *DownloadError {
	if de.Context == nil {
		de.Context = make(map[string]any)
	}
	de.Context[key] = value
	return de
}

// IsType checks if the error is of a specific type
func (de *DownloadError) IsType(errorType ErrorType) bool {
	return de.Type == errorType
}

// IsDownloadError reports whether err wraps a DownloadError, optionally of one of the given types
func IsDownloadError(err error, errorType ...ErrorType) bool {
	var de *DownloadError
	if !errors.As(err, &de) {
		return false
	}
	if len(errorType) == 0 {
		return true
	}
	for _, et := range errorType {
		if de.Type == et {
			return true
		}
	}
	return false
}

// NonRecoverable is implemented by errors that must never be retried,
// such as a missing repository or a rejected token.
type NonRecoverable interface {
	NonRecoverable() bool
}

// IsRecoverable determines whether a transfer error is worth another attempt.
// Remote API errors, checksum mismatches and cancellation are final; I/O and
// network failures are retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var nr NonRecoverable
	if errors.As(err, &nr) && nr.NonRecoverable() {
		return false
	}

	var de *DownloadError
	if errors.As(err, &de) {
		switch de.Type {
		case ErrorNetworkFailure, ErrorFileSystemError:
			return true
		case ErrorUnknown:
			// fall through to the cause inspection below
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.EPIPE, syscall.ENOSPC:
			return true
		}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}

	errorMsg := strings.ToLower(err.Error())
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"no route to host",
		"unexpected eof",
	}
	for _, retryableError := range retryableErrors {
		if strings.Contains(errorMsg, retryableError) {
			return true
		}
	}

	return false
}
