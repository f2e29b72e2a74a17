package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ChecksumProvider is implemented by repository clients that know the
// expected SHA-256 digest of each file.
type ChecksumProvider interface {
	FileChecksums(ctx context.Context, repoID string) (map[string]string, error)
}

// Options configures an Orchestrator
type Options struct {
	Step        StepOptions
	SpeedWindow int

	// DiskHeadroom multiplies the bytes still to be written in the free-space
	// check; zero disables the check.
	DiskHeadroom float64
	FreeSpace    FreeSpaceFunc

	// Digests overrides expected SHA-256 digests by filename
	Digests map[string]string

	// GlobalCacheDir adds the shared hub cache to the candidate locations
	GlobalCacheDir string
}

// Option applies a configuration change to an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHistory records each download attempt
func WithHistory(history HistoryRecorder) Option {
	return func(o *Orchestrator) { o.history = history }
}

// WithOptions replaces the tuning options
func WithOptions(opts Options) Option {
	return func(o *Orchestrator) { o.opts = opts }
}

// Orchestrator sequences the file transfers of one logical download and
// reports unified progress. One Orchestrator runs one download at a time.
type Orchestrator struct {
	client     RepoClient
	transfer   Transferer
	versions   VersionStore
	history    HistoryRecorder
	resolveDir DirResolver
	opts       Options
	logger     *zap.Logger
	now        func() time.Time

	mu         sync.RWMutex
	isActive   bool
	cancelFunc context.CancelFunc
	status     DownloadStatus
}

// NewOrchestrator wires the repository client, the transfer primitive and the
// version store. resolveDir maps a repository id to its local directory.
func NewOrchestrator(client RepoClient, transfer Transferer, versions VersionStore, resolveDir DirResolver, options ...Option) *Orchestrator {
	o := &Orchestrator{
		client:     client,
		transfer:   transfer,
		versions:   versions,
		resolveDir: resolveDir,
		opts: Options{
			SpeedWindow:  DefaultSpeedWindow,
			DiskHeadroom: DefaultDiskHeadroom,
		},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Cancel requests cancellation of the active download. It is observed before
// the next file starts and at every progress poll.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isActive || o.cancelFunc == nil {
		return
	}
	o.logger.Info("download cancellation requested", zap.String("repo", o.status.RepoID))
	o.cancelFunc()
}

// IsActive reports whether a download is running
func (o *Orchestrator) IsActive() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isActive
}

// Status returns a snapshot of the current download
func (o *Orchestrator) Status() DownloadStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// Validate checks a request before any transfer begins
func (o *Orchestrator) Validate(repoID string, files []string) error {
	return ValidateRequest(repoID, files)
}

// Download fetches files of repoID in order. It returns (false, nil) when
// cancelled and (false, *DownloadError) on failure.
func (o *Orchestrator) Download(ctx context.Context, repoID string, files []string, progress ProgressFunc) (bool, error) {
	o.mu.Lock()
	if o.isActive {
		active := o.status.RepoID
		o.mu.Unlock()
		return false, NewDownloadError(ErrorInvalidRequest, "download already in progress").
			WithContext("repo_id", active)
	}
	dctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel
	o.isActive = true
	o.status = DownloadStatus{RepoID: repoID, IsActive: true, StartTime: o.now()}
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.isActive = false
		o.status.IsActive = false
		o.cancelFunc = nil
		o.mu.Unlock()
	}()

	log := o.logger.With(zap.String("repo", repoID))

	if err := ValidateRequest(repoID, files); err != nil {
		log.Error("invalid download request", zap.Error(err))
		return false, err
	}

	localDir := o.resolveDir(repoID)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return false, NewDownloadErrorWithCause(ErrorFileSystemError, "failed to create model directory", err).
			WithContext("dir", localDir)
	}

	log.Info("fetching file sizes")
	sizes, err := o.client.FileSizes(dctx, repoID)
	if err != nil {
		if dctx.Err() != nil {
			return false, nil
		}
		return false, wrapRemote(err, repoID, "failed to fetch file sizes")
	}

	digests := o.expectedDigests(dctx, repoID, log)

	var totalSize, initialBytesBefore int64
	for _, f := range files {
		totalSize += sizes[f]
		if info, err := os.Stat(filepath.Join(localDir, f)); err == nil {
			initialBytesBefore += info.Size()
		}
	}

	log.Info("starting download",
		zap.Int("files", len(files)),
		zap.String("total_size", humanize.IBytes(uint64(totalSize))))
	if initialBytesBefore > 0 {
		log.Info("download resuming",
			zap.String("already_on_disk", humanize.IBytes(uint64(initialBytesBefore))))
	}

	if remaining := totalSize - initialBytesBefore; remaining > 0 {
		if err := CheckDiskSpace(o.opts.FreeSpace, localDir, remaining, o.opts.DiskHeadroom); err != nil {
			log.Error("disk space check failed", zap.Error(err))
			return false, err
		}
	}

	historyID := o.recordStart(repoID, files, totalSize, log)
	startTime := o.now()

	agg := &overallProgress{
		repoID:       repoID,
		totalFiles:   len(files),
		totalBytes:   totalSize,
		initialBytes: initialBytesBefore,
		speed:        NewSpeedEstimator(o.opts.SpeedWindow),
		callback:     progress,
		onEmit:       o.setLast,
	}

	step := NewFileTransferStep(o.transfer, o.stepOptions())

	for idx, filename := range files {
		if dctx.Err() != nil {
			log.Info("download cancelled")
			o.recordFinish(historyID, "cancelled", agg.completedBytes, startTime, nil, log)
			return false, nil
		}

		fileSize := sizes[filename]
		agg.startFile(idx+1, filename, fileSize)
		agg.emit(StatusStarting, 0)

		log.Info("downloading file",
			zap.Int("index", idx+1),
			zap.Int("total", len(files)),
			zap.String("file", filename))

		result, err := step.Run(dctx, FileJob{
			RepoID:         repoID,
			Filename:       filename,
			ExpectedSize:   fileSize,
			DestDir:        localDir,
			ExpectedSHA256: digests[filename],
			OverallBefore:  agg.completedBytes,
			OnProgress: func(p FileProgress) {
				status := StatusDownloading
				if p.Resuming {
					status = StatusResuming
				}
				agg.observe(status, p)
			},
		})

		switch result.State {
		case StateCancelled:
			log.Info("download cancelled", zap.String("file", filename))
			o.recordFinish(historyID, "cancelled", agg.completedBytes, startTime, nil, log)
			return false, nil
		case StateFailed:
			if err == nil {
				err = NewDownloadError(ErrorUnknown, "file transfer failed").WithContext("file", filename)
			}
			log.Error("download failed", zap.String("file", filename), zap.Error(err))
			o.recordFinish(historyID, "failed", agg.completedBytes, startTime, err, log)
			return false, err
		}

		agg.finishFile()
	}

	o.saveVersion(dctx, repoID, log)

	agg.complete()
	elapsed := o.now().Sub(startTime)
	o.recordFinish(historyID, "completed", totalSize, startTime, nil, log)
	log.Info("download completed", zap.Duration("elapsed", elapsed))
	return true, nil
}

func (o *Orchestrator) stepOptions() StepOptions {
	opts := o.opts.Step
	if opts.Logger == nil {
		opts.Logger = o.logger
	}
	if opts.StagingPath == nil {
		opts.StagingPath = DefaultStagingPath
	}
	if opts.Locator == nil {
		global, staging := o.opts.GlobalCacheDir, opts.StagingPath
		opts.Locator = func(destDir, filename string) CandidateLocator {
			return NewHubCacheLocator(destDir, filename, global, staging)
		}
	}
	return opts
}

func (o *Orchestrator) expectedDigests(ctx context.Context, repoID string, log *zap.Logger) map[string]string {
	digests := make(map[string]string)
	if provider, ok := o.client.(ChecksumProvider); ok {
		remote, err := provider.FileChecksums(ctx, repoID)
		if err != nil {
			log.Warn("checksums unavailable, skipping verification", zap.Error(err))
		}
		for k, v := range remote {
			digests[k] = v
		}
	}
	for k, v := range o.opts.Digests {
		digests[k] = v
	}
	return digests
}

func (o *Orchestrator) saveVersion(ctx context.Context, repoID string, log *zap.Logger) {
	token, err := o.client.CurrentVersion(ctx, repoID)
	if err != nil {
		log.Warn("failed to fetch repository version", zap.Error(err))
	}
	if o.versions == nil {
		return
	}
	if err := o.versions.SaveVersion(repoID, token, o.now()); err != nil {
		log.Error("failed to persist repository version", zap.Error(err))
		return
	}
	log.Info("saved repository version", zap.String("version", token))
}

func (o *Orchestrator) recordStart(repoID string, files []string, totalSize int64, log *zap.Logger) string {
	if o.history == nil {
		return ""
	}
	id, err := o.history.RecordStart(repoID, files, totalSize)
	if err != nil {
		log.Warn("failed to record download start", zap.Error(err))
		return ""
	}
	return id
}

func (o *Orchestrator) recordFinish(id, status string, bytes int64, start time.Time, cause error, log *zap.Logger) {
	if o.history == nil || id == "" {
		return
	}
	var speed float64
	if elapsed := o.now().Sub(start).Seconds(); elapsed > 0 {
		speed = float64(bytes) / elapsed
	}
	summary := DownloadSummary{Status: status, BytesDownloaded: bytes, AverageSpeed: speed, Err: cause}
	if err := o.history.RecordFinish(id, summary); err != nil {
		log.Warn("failed to record download result", zap.Error(err))
	}
}

func (o *Orchestrator) setLast(e ProgressEvent) {
	o.mu.Lock()
	o.status.Last = e
	o.mu.Unlock()
}

func wrapRemote(err error, repoID, message string) error {
	var de *DownloadError
	if errors.As(err, &de) {
		return err
	}
	errType := ErrorNetworkFailure
	var nr NonRecoverable
	if errors.As(err, &nr) && nr.NonRecoverable() {
		errType = ErrorRemote
	}
	return NewDownloadErrorWithCause(errType, message, err).WithContext("repo_id", repoID)
}

// overallProgress accumulates byte totals across the files of one download
// and guarantees emitted overall counts never regress.
type overallProgress struct {
	repoID       string
	totalFiles   int
	totalBytes   int64
	initialBytes int64
	speed        *SpeedEstimator
	callback     ProgressFunc
	onEmit       func(ProgressEvent)

	fileIndex      int
	fileName       string
	fileSize       int64
	fileInitial    int64 // carried over from an earlier session
	fileNew        int64 // written by this session
	observed       bool
	completedBytes int64
	lastOverall    int64
	completed      bool
}

func (a *overallProgress) startFile(index int, name string, size int64) {
	a.fileIndex = index
	a.fileName = name
	a.fileSize = size
	a.fileInitial = 0
	a.fileNew = 0
	a.observed = false
	a.speed.Reset()
}

// emit reports fileBytes of the current file outside of a transfer poll. Files
// of unknown size add nothing to either side of the overall ratio.
func (a *overallProgress) emit(status Status, fileBytes int64) {
	overall := a.completedBytes
	if a.fileSize > 0 {
		overall += min(fileBytes, a.fileSize)
	}
	a.send(status, fileBytes, overall)
}

// observe reports one tracker observation. The tracker's overall count is
// capped at the end of the current file, and only bytes written in this
// session feed the speed estimator.
func (a *overallProgress) observe(status Status, p FileProgress) {
	overall := a.completedBytes
	if a.fileSize > 0 {
		overall = min(p.OverallBytes, a.completedBytes+a.fileSize)
	}
	a.observed = true
	a.fileInitial = p.InitialSize
	a.fileNew = max(a.fileNew, p.NewBytes)
	a.send(status, p.CurrentSize, overall)
}

func (a *overallProgress) finishFile() {
	if a.observed && a.fileSize > 0 {
		a.fileNew = max(a.fileNew, a.fileSize-a.fileInitial)
	}
	a.completedBytes += a.fileSize
	a.send(StatusDownloading, a.fileSize, a.completedBytes)
}

func (a *overallProgress) complete() {
	a.fileIndex = a.totalFiles
	a.completed = true
	a.send(StatusCompleted, a.fileSize, a.totalBytes)
}

func (a *overallProgress) send(status Status, fileBytes, overall int64) {
	if overall < a.lastOverall {
		overall = a.lastOverall
	}
	if a.totalBytes > 0 && overall > a.totalBytes {
		overall = a.totalBytes
	}
	a.lastOverall = overall

	speed := a.speed.Update(a.fileNew)
	eta := ETA(a.totalBytes-overall, speed)
	if a.completed {
		speed, eta = 0, 0
	}

	event := ProgressEvent{
		RepoID:            a.repoID,
		CurrentFile:       a.fileName,
		FileIndex:         a.fileIndex,
		TotalFiles:        a.totalFiles,
		FileBytesDone:     fileBytes,
		FileBytesTotal:    a.fileSize,
		OverallBytesDone:  overall,
		OverallBytesTotal: a.totalBytes,
		SpeedBps:          speed,
		ETASeconds:        eta,
		Status:            status,
		InitialBytes:      a.initialBytes,
		Completed:         a.completed,
	}
	if a.onEmit != nil {
		a.onEmit(event)
	}
	if a.callback != nil {
		a.callback(event)
	}
}
