package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// SHA256File returns the hex-encoded SHA-256 digest of the file at path
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum compares the file's SHA-256 digest against expected.
// An empty expected digest skips the comparison.
func VerifyChecksum(path, expected string) error {
	if _, err := os.Stat(path); err != nil {
		return NewDownloadErrorWithCause(ErrorFileSystemError, "file not found for verification", err).
			WithContext("path", path)
	}

	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return nil
	}

	actual, err := SHA256File(path)
	if err != nil {
		return NewDownloadErrorWithCause(ErrorFileSystemError, "failed to hash file", err).
			WithContext("path", path)
	}

	if actual != expected {
		return NewDownloadError(ErrorChecksumMismatch,
			fmt.Sprintf("checksum mismatch: expected %s, got %s", short(expected), short(actual))).
			WithContext("path", path)
	}
	return nil
}

func short(digest string) string {
	if len(digest) > 16 {
		return digest[:16] + "..."
	}
	return digest
}
