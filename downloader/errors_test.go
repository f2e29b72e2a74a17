package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrorInvalidRequest, "invalid_request"},
		{ErrorNetworkFailure, "network_failure"},
		{ErrorFileSystemError, "filesystem_error"},
		{ErrorRemote, "remote_error"},
		{ErrorChecksumMismatch, "checksum_mismatch"},
		{ErrorInsufficientSpace, "insufficient_space"},
		{ErrorRetriesExhausted, "retries_exhausted"},
		{ErrorCancelled, "cancelled"},
		{ErrorUnknown, "unknown"},
	}

	for _, tt := range tests {
		if got := tt.errorType.String(); got != tt.expected {
			t.Errorf("ErrorType.String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestDownloadError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewDownloadErrorWithCause(ErrorFileSystemError, "write failed", cause).
		WithContext("file", "model.bin")

	if !strings.Contains(err.Error(), "filesystem_error: write failed") {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to unwrap to its cause")
	}
	if err.Context["file"] != "model.bin" {
		t.Errorf("Expected context to be recorded, got %v", err.Context)
	}
	if !err.IsType(ErrorFileSystemError) {
		t.Error("Expected IsType to match")
	}

	wrapped := fmt.Errorf("step: %w", err)
	if !IsDownloadError(wrapped) || !IsDownloadError(wrapped, ErrorRemote, ErrorFileSystemError) {
		t.Error("Expected IsDownloadError to see through wrapping")
	}
	if IsDownloadError(wrapped, ErrorRemote) {
		t.Error("Expected type filter to exclude other types")
	}
}

func TestIsRecoverable(t *testing.T) {
	_, statErr := os.Open(filepath.Join(t.TempDir(), "missing"))

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"connection reset errno", syscall.ECONNRESET, true},
		{"path error", statErr, true},
		{"connection reset message", errors.New("read: connection reset by peer"), true},
		{"timeout message", errors.New("i/o timeout"), true},
		{"plain error", errors.New("boom"), false},
		{"remote", remoteErr{msg: "401 unauthorized"}, false},
		{"network download error", NewDownloadError(ErrorNetworkFailure, "dropped"), true},
		{"checksum", NewDownloadError(ErrorChecksumMismatch, "bad digest"), false},
		{"invalid request", NewDownloadError(ErrorInvalidRequest, "bad id"), false},
		{"unknown wrapping eof", NewDownloadErrorWithCause(ErrorUnknown, "failed", io.ErrUnexpectedEOF), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.expected {
				t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
