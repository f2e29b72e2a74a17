package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultDiskHeadroom is the safety factor applied to the bytes still to be written
const DefaultDiskHeadroom = 1.1

// ValidateRepoID checks the "namespace/name" form of a repository id
func ValidateRepoID(repoID string) error {
	parts := strings.Split(repoID, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return NewDownloadError(ErrorInvalidRequest,
			fmt.Sprintf("invalid repository id %q, expected 'namespace/name'", repoID))
	}
	return nil
}

// ValidateRequest checks a repository id and file list before any transfer starts
func ValidateRequest(repoID string, files []string) error {
	if err := ValidateRepoID(repoID); err != nil {
		return err
	}
	if len(files) == 0 {
		return NewDownloadError(ErrorInvalidRequest, "no files specified for download").
			WithContext("repo_id", repoID)
	}
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			return NewDownloadError(ErrorInvalidRequest, "empty filename in file list").
				WithContext("repo_id", repoID)
		}
	}
	return nil
}

// FreeSpaceFunc reports the free bytes of the filesystem holding path
type FreeSpaceFunc func(path string) (uint64, error)

// DiskFreeSpace uses gopsutil to query the filesystem holding path. Missing
// directories are resolved to their nearest existing parent.
func DiskFreeSpace(path string) (uint64, error) {
	dir := existingParent(path)
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// CheckDiskSpace fails when free space is below required bytes times headroom
func CheckDiskSpace(freeSpace FreeSpaceFunc, dir string, required int64, headroom float64) error {
	if required <= 0 || headroom <= 0 {
		return nil
	}
	if freeSpace == nil {
		freeSpace = DiskFreeSpace
	}

	free, err := freeSpace(dir)
	if err != nil {
		return NewDownloadErrorWithCause(ErrorFileSystemError, "failed to query free disk space", err).
			WithContext("dir", dir)
	}

	need := uint64(float64(required) * headroom)
	if free < need {
		return NewDownloadError(ErrorInsufficientSpace,
			fmt.Sprintf("insufficient disk space: need %s, have %s available",
				humanize.IBytes(need), humanize.IBytes(free))).
			WithContext("dir", dir)
	}
	return nil
}

func existingParent(path string) string {
	dir := filepath.Clean(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
