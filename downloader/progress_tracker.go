package downloader

import (
	"fmt"
	"time"
)

const (
	// DefaultHeartbeatInterval is how long a stalled transfer waits before re-emitting unchanged progress
	DefaultHeartbeatInterval = 500 * time.Millisecond

	// DefaultSearchWarnAfter is how long to look for a staging file before warning once
	DefaultSearchWarnAfter = 2 * time.Second
)

// TrackerOptions configures a TransferProgressTracker
type TrackerOptions struct {
	HeartbeatInterval time.Duration
	SearchWarnAfter   time.Duration
	Now               func() time.Time
}

// Sample is the result of one poll of the candidate locations
type Sample struct {
	CurrentSize int64
	Label       string
	Found       bool
}

// TransferProgressTracker reconstructs the byte count of an in-flight transfer
// from the filesystem. It is driven by a single polling goroutine and is not
// safe for concurrent use.
type TransferProgressTracker struct {
	locator CandidateLocator
	opts    TrackerOptions

	startTime         time.Time
	initialIncomplete int64
	lastReportedSize  int64
	lastReportTime    time.Time
	found             bool
	warned            bool
}

// NewTransferProgressTracker creates a tracker over the given locator
func NewTransferProgressTracker(locator CandidateLocator, opts TrackerOptions) *TransferProgressTracker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.SearchWarnAfter <= 0 {
		opts.SearchWarnAfter = DefaultSearchWarnAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TransferProgressTracker{
		locator: locator,
		opts:    opts,
	}
}

// Begin freezes the carry-over size from any previous attempt. The most
// recently modified candidate is authoritative.
func (t *TransferProgressTracker) Begin() int64 {
	now := t.opts.Now()
	t.startTime = now
	t.lastReportTime = now
	t.lastReportedSize = 0
	t.initialIncomplete = 0

	if c, ok := mostRecent(t.locator.Candidates()); ok {
		t.initialIncomplete = c.Size
	}
	return t.initialIncomplete
}

// InitialIncompleteSize returns the size frozen by Begin
func (t *TransferProgressTracker) InitialIncompleteSize() int64 {
	return t.initialIncomplete
}

// Resuming reports whether bytes from a previous attempt were on disk at Begin
func (t *TransferProgressTracker) Resuming() bool {
	return t.initialIncomplete > 0
}

// Poll re-enumerates the candidates and returns the current authoritative size
func (t *TransferProgressTracker) Poll() Sample {
	c, ok := mostRecent(t.locator.Candidates())
	if !ok {
		return Sample{}
	}
	t.found = true
	return Sample{CurrentSize: c.Size, Label: c.Label, Found: true}
}

// Progress splits current into bytes carried over and bytes written this
// session, and returns the overall count including earlier files.
func (t *TransferProgressTracker) Progress(overallBefore, current int64) (overall, newBytes int64) {
	newBytes = current - t.initialIncomplete
	if newBytes < 0 {
		newBytes = 0
	}
	overall = overallBefore + t.initialIncomplete + newBytes
	return overall, newBytes
}

// ShouldSend reports whether an update carries new bytes or the heartbeat is due
func (t *TransferProgressTracker) ShouldSend(current int64) bool {
	if current > t.lastReportedSize {
		return true
	}
	return t.opts.Now().Sub(t.lastReportTime) >= t.opts.HeartbeatInterval
}

// MarkSent records an emitted update
func (t *TransferProgressTracker) MarkSent(current int64) {
	if current > t.lastReportedSize {
		t.lastReportedSize = current
	}
	t.lastReportTime = t.opts.Now()
}

// SearchWarning returns a diagnostic once if no candidate has been seen
// within the search interval.
func (t *TransferProgressTracker) SearchWarning() (string, bool) {
	if t.found || t.warned {
		return "", false
	}
	if t.opts.Now().Sub(t.startTime) < t.opts.SearchWarnAfter {
		return "", false
	}
	t.warned = true
	return fmt.Sprintf("still searching for download file after %s, checked: %s",
		t.opts.SearchWarnAfter, t.locator.Describe()), true
}
