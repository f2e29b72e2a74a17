package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the number of transfer attempts per file
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is the first backoff delay; each retry doubles it
	DefaultRetryBaseDelay = 2 * time.Second

	// DefaultPollInterval is how often the staging locations are polled
	DefaultPollInterval = 100 * time.Millisecond
)

// StepState is a state of the per-file transfer state machine
type StepState int

const (
	StatePending StepState = iota
	StateSkipped
	StateDownloading
	StateRetrying
	StateVerifying
	StateDone
	StateFailed
	StateCancelled
)

// String returns the string representation of the state
func (s StepState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSkipped:
		return "skipped"
	case StateDownloading:
		return "downloading"
	case StateRetrying:
		return "retrying"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// LocatorFactory builds the candidate locator for one file
type LocatorFactory func(destDir, filename string) CandidateLocator

// StepOptions configures a FileTransferStep
type StepOptions struct {
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	SearchWarnAfter   time.Duration
	Locator           LocatorFactory
	StagingPath       StagingPathFunc
	Logger            *zap.Logger
}

// FileJob describes one file to transfer
type FileJob struct {
	RepoID         string
	Filename       string
	ExpectedSize   int64
	DestDir        string
	ExpectedSHA256 string

	// OverallBefore is the byte count of all earlier files of the same download
	OverallBefore int64

	OnProgress func(FileProgress)
	OnState    func(StepState)
}

// FileProgress is one emitted observation of an in-flight transfer
type FileProgress struct {
	CurrentSize  int64
	InitialSize  int64
	NewBytes     int64
	OverallBytes int64
	Label        string
	Resuming     bool
}

// FileResult is the outcome of a FileTransferStep
type FileResult struct {
	State    StepState
	Attempts int
	Bytes    int64
	Resumed  bool
}

// FileTransferStep drives the transfer of a single file
type FileTransferStep struct {
	transfer Transferer
	opts     StepOptions
	logger   *zap.Logger
}

// NewFileTransferStep creates a step around the blocking transfer primitive
func NewFileTransferStep(transfer Transferer, opts StepOptions) *FileTransferStep {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StagingPath == nil {
		opts.StagingPath = DefaultStagingPath
	}
	if opts.Locator == nil {
		staging := opts.StagingPath
		opts.Locator = func(destDir, filename string) CandidateLocator {
			return NewHubCacheLocator(destDir, filename, "", staging)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileTransferStep{
		transfer: transfer,
		opts:     opts,
		logger:   logger,
	}
}

var errStepCancelled = errors.New("transfer cancelled")

// Run transfers one file. Cancellation is reported as StateCancelled with a nil error.
func (s *FileTransferStep) Run(ctx context.Context, job FileJob) (FileResult, error) {
	log := s.logger.With(zap.String("repo", job.RepoID), zap.String("file", job.Filename))
	result := FileResult{State: StatePending}
	setState := func(state StepState) {
		if result.State != state {
			log.Debug("file state change",
				zap.Stringer("from", result.State), zap.Stringer("to", state))
		}
		result.State = state
		if job.OnState != nil {
			job.OnState(state)
		}
	}

	destPath := filepath.Join(job.DestDir, job.Filename)
	if info, err := os.Stat(destPath); err == nil && job.ExpectedSize > 0 && info.Size() == job.ExpectedSize {
		log.Info("file already exists, skipping", zap.String("size", humanize.IBytes(uint64(info.Size()))))
		result.Bytes = job.ExpectedSize
		setState(StateSkipped)
		return result, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = s.opts.RetryBaseDelay << uint(s.opts.MaxAttempts)
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			setState(StateCancelled)
			return result, nil
		}

		result.Attempts++
		setState(StateDownloading)

		resumed, err := s.attempt(ctx, job)
		if resumed {
			result.Resumed = true
		}

		if errors.Is(err, errStepCancelled) {
			log.Info("file transfer cancelled", zap.Int("attempt", result.Attempts))
			setState(StateCancelled)
			return result, nil
		}

		if err == nil {
			setState(StateVerifying)
			if verr := VerifyChecksum(destPath, job.ExpectedSHA256); verr != nil {
				log.Error("verification failed", zap.Error(verr))
				setState(StateFailed)
				return result, verr
			}
			if info, serr := os.Stat(destPath); serr == nil {
				result.Bytes = info.Size()
				if job.ExpectedSize > 0 && info.Size() != job.ExpectedSize {
					log.Warn("size differs from repository metadata",
						zap.Int64("expected", job.ExpectedSize), zap.Int64("actual", info.Size()))
				}
			}
			setState(StateDone)
			return result, nil
		}

		if !IsRecoverable(err) {
			log.Error("non-recoverable transfer error", zap.Error(err), zap.Int("attempt", result.Attempts))
			setState(StateFailed)
			return result, classifyFinal(err, job)
		}

		if result.Attempts >= s.opts.MaxAttempts {
			log.Error("transfer failed after retries", zap.Error(err), zap.Int("attempts", result.Attempts))
			setState(StateFailed)
			return result, NewDownloadErrorWithCause(ErrorRetriesExhausted,
				fmt.Sprintf("failed to download %s after %d attempts", job.Filename, result.Attempts), err).
				WithContext("repo_id", job.RepoID).
				WithContext("file", job.Filename)
		}

		delay := bo.NextBackOff()
		log.Warn("transfer attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", result.Attempts),
			zap.Int("max_attempts", s.opts.MaxAttempts),
			zap.Duration("delay", delay))
		setState(StateRetrying)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			setState(StateCancelled)
			return result, nil
		case <-timer.C:
		}
	}
}

// attempt runs the primitive in its own goroutine while polling the
// filesystem on the calling goroutine.
func (s *FileTransferStep) attempt(ctx context.Context, job FileJob) (bool, error) {
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := NewTransferProgressTracker(s.opts.Locator(job.DestDir, job.Filename), TrackerOptions{
		HeartbeatInterval: s.opts.HeartbeatInterval,
		SearchWarnAfter:   s.opts.SearchWarnAfter,
	})
	initial := tracker.Begin()
	if initial > 0 {
		s.logger.Info("resuming from partial data",
			zap.String("file", job.Filename),
			zap.String("initial", humanize.IBytes(uint64(initial))))
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("transfer panicked: %v", r)
			}
		}()
		done <- s.transfer.Transfer(tctx, job.RepoID, job.Filename, job.DestDir)
	}()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil && ctx.Err() != nil {
				return tracker.Resuming(), errStepCancelled
			}
			return tracker.Resuming(), err

		case <-ctx.Done():
			// The primitive is abandoned; its staging file stays for a later resume.
			cancel()
			return tracker.Resuming(), errStepCancelled

		case <-ticker.C:
			sample := tracker.Poll()
			overall, newBytes := tracker.Progress(job.OverallBefore, sample.CurrentSize)

			if job.OnProgress != nil && tracker.ShouldSend(sample.CurrentSize) {
				job.OnProgress(FileProgress{
					CurrentSize:  sample.CurrentSize,
					InitialSize:  tracker.InitialIncompleteSize(),
					NewBytes:     newBytes,
					OverallBytes: overall,
					Label:        sample.Label,
					Resuming:     tracker.Resuming(),
				})
				tracker.MarkSent(sample.CurrentSize)
			}

			if msg, ok := tracker.SearchWarning(); ok {
				s.logger.Warn(msg, zap.String("file", job.Filename))
			}
		}
	}
}

// classifyFinal wraps a non-recoverable error in the matching DownloadError type
func classifyFinal(err error, job FileJob) error {
	var de *DownloadError
	if errors.As(err, &de) {
		return err
	}
	var nr NonRecoverable
	if errors.As(err, &nr) && nr.NonRecoverable() {
		return NewDownloadErrorWithCause(ErrorRemote, "repository error", err).
			WithContext("repo_id", job.RepoID).
			WithContext("file", job.Filename)
	}
	return NewDownloadErrorWithCause(ErrorUnknown, "transfer failed", err).
		WithContext("repo_id", job.RepoID).
		WithContext("file", job.Filename)
}
