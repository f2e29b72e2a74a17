package downloader

import (
	"context"
	"time"
)

// Status is the status hint carried by every progress event
type Status int

const (
	StatusStarting Status = iota
	StatusDownloading
	StatusResuming
	StatusCompleted
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusDownloading:
		return "downloading"
	case StatusResuming:
		return "resuming"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ProgressEvent is the unified progress update delivered to callers
type ProgressEvent struct {
	RepoID            string  `json:"repo_id"`
	CurrentFile       string  `json:"current_file"`
	FileIndex         int     `json:"file_index"`
	TotalFiles        int     `json:"total_files"`
	FileBytesDone     int64   `json:"file_bytes_done"`
	FileBytesTotal    int64   `json:"file_bytes_total"`
	OverallBytesDone  int64   `json:"overall_bytes_done"`
	OverallBytesTotal int64   `json:"overall_bytes_total"`
	SpeedBps          float64 `json:"speed_bps"`
	ETASeconds        int64   `json:"eta_seconds"`
	Status            Status  `json:"status"`
	InitialBytes      int64   `json:"initial_bytes"`
	Completed         bool    `json:"completed"`
}

// Percentage returns overall completion in percent, or -1 when the total is unknown
func (e ProgressEvent) Percentage() float64 {
	if e.OverallBytesTotal <= 0 {
		return -1
	}
	return float64(e.OverallBytesDone) / float64(e.OverallBytesTotal) * 100
}

// ProgressFunc receives progress events. It is called from the goroutine running the download.
type ProgressFunc func(ProgressEvent)

// RepoClient is the subset of the remote repository API the orchestrator needs
type RepoClient interface {
	// ListFiles returns every filename in the repository
	ListFiles(ctx context.Context, repoID string) ([]string, error)

	// FileSizes maps filename to size in bytes; unknown sizes are reported as 0
	FileSizes(ctx context.Context, repoID string) (map[string]int64, error)

	// CurrentVersion returns the repository's version token, or "" if unavailable
	CurrentVersion(ctx context.Context, repoID string) (string, error)
}

// Transferer is the blocking transfer primitive. It writes into a private
// staging location and renames to destDir/filename on success. It gives no
// progress callback; progress is reconstructed from the filesystem.
type Transferer interface {
	Transfer(ctx context.Context, repoID, filename, destDir string) error
}

// TransferFunc adapts a plain function to the Transferer interface
type TransferFunc func(ctx context.Context, repoID, filename, destDir string) error

// Transfer calls f
func (f TransferFunc) Transfer(ctx context.Context, repoID, filename, destDir string) error {
	return f(ctx, repoID, filename, destDir)
}

// VersionStore persists the version token of each successfully downloaded repository
type VersionStore interface {
	SaveVersion(repoID, versionToken string, downloadedAt time.Time) error
}

// HistoryRecorder receives the lifecycle of each download attempt
type HistoryRecorder interface {
	RecordStart(repoID string, files []string, totalSize int64) (string, error)
	RecordFinish(id string, result DownloadSummary) error
}

// DownloadSummary describes how a download attempt ended
type DownloadSummary struct {
	Status          string
	BytesDownloaded int64
	AverageSpeed    float64
	Err             error
}

// DirResolver maps a repository id to the local directory its files are written to
type DirResolver func(repoID string) string

// DownloadStatus is a snapshot of the orchestrator state
type DownloadStatus struct {
	RepoID    string        `json:"repo_id"`
	IsActive  bool          `json:"is_active"`
	StartTime time.Time     `json:"start_time"`
	Last      ProgressEvent `json:"last"`
}
