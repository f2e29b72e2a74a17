package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateRepoID(t *testing.T) {
	tests := []struct {
		repoID  string
		wantErr bool
	}{
		{"meta-llama/Llama-3.1-8B", false},
		{"org/model", false},
		{"model", true},
		{"org/", true},
		{"/model", true},
		{"a/b/c", true},
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateRepoID(tt.repoID)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateRepoID(%q) error = %v, wantErr %v", tt.repoID, err, tt.wantErr)
		}
		if err != nil && !IsDownloadError(err, ErrorInvalidRequest) {
			t.Errorf("ValidateRepoID(%q) returned wrong error type: %v", tt.repoID, err)
		}
	}
}

func TestCheckDiskSpace(t *testing.T) {
	free := func(n uint64) FreeSpaceFunc {
		return func(string) (uint64, error) { return n, nil }
	}

	tests := []struct {
		name     string
		free     FreeSpaceFunc
		required int64
		headroom float64
		wantType *ErrorType
	}{
		{"enough", free(2000), 1000, 1.1, nil},
		{"exact with headroom", free(1100), 1000, 1.1, nil},
		{"short", free(1000), 1000, 1.1, errType(ErrorInsufficientSpace)},
		{"nothing required", free(0), 0, 1.1, nil},
		{"disabled", free(0), 1000, 0, nil},
		{"query failure", func(string) (uint64, error) { return 0, errors.New("statfs failed") }, 10, 1.1, errType(ErrorFileSystemError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDiskSpace(tt.free, "/models", tt.required, tt.headroom)
			if tt.wantType == nil {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if !IsDownloadError(err, *tt.wantType) {
				t.Errorf("Expected %s, got %v", tt.wantType, err)
			}
		})
	}
}

func errType(et ErrorType) *ErrorType { return &et }

func TestDiskFreeSpace_MissingDirectory(t *testing.T) {
	free, err := DiskFreeSpace(filepath.Join(t.TempDir(), "not", "yet", "created"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if free == 0 {
		t.Error("Expected non-zero free space for the temp filesystem")
	}
}

func TestVerifyChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.bin")
	content := []byte("model weights")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])

	if err := VerifyChecksum(path, digest); err != nil {
		t.Errorf("Expected matching digest to pass, got %v", err)
	}
	if err := VerifyChecksum(path, strings.ToUpper(digest)); err != nil {
		t.Errorf("Expected digest comparison to ignore case, got %v", err)
	}
	if err := VerifyChecksum(path, ""); err != nil {
		t.Errorf("Expected empty digest to skip verification, got %v", err)
	}
	if err := VerifyChecksum(path, strings.Repeat("0", 64)); !IsDownloadError(err, ErrorChecksumMismatch) {
		t.Errorf("Expected ErrorChecksumMismatch, got %v", err)
	}
	if err := VerifyChecksum(path+".missing", digest); !IsDownloadError(err, ErrorFileSystemError) {
		t.Errorf("Expected ErrorFileSystemError for missing file, got %v", err)
	}
}
