// Package queue runs model downloads in priority order with bounded concurrency.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"hf-fetch/downloader"
)

const (
	// DefaultMaxConcurrent is the number of downloads run at once
	DefaultMaxConcurrent = 2

	// DefaultStopTimeout bounds how long Stop waits for active downloads
	DefaultStopTimeout = 30 * time.Second

	// DefaultPollInterval is the longest the worker sleeps before re-checking the queue
	DefaultPollInterval = 100 * time.Millisecond
)

// Priority orders queued downloads; higher values dequeue first
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined priorities
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// ParsePriority converts a priority name to a Priority
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q (valid: low, normal, high, urgent)", s)
	}
}

// State is the lifecycle state of a Queue
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Request is one queued download. It is never mutated after Add.
type Request struct {
	ID          string
	RepoID      string
	Files       []string
	Priority    Priority
	SubmittedAt time.Time
	Callback    func(Result)
}

// Key identifies identical requests; two requests with the same key never run concurrently
func (r Request) Key() string {
	return r.RepoID + "\x00" + strings.Join(r.Files, "\x00")
}

// Result is delivered to a request's callback when its download ends
type Result struct {
	Request   Request
	Completed bool
	Err       error
	Duration  time.Duration
}

// DownloadFunc runs one download. It returns (false, nil) when cancelled.
type DownloadFunc func(ctx context.Context, req Request) (bool, error)

// Options configures a Queue
type Options struct {
	MaxConcurrent int
	StopTimeout   time.Duration
	PollInterval  time.Duration
	Logger        *zap.Logger
}

// Snapshot is a point-in-time view of the queue
type Snapshot struct {
	State         State
	MaxConcurrent int
	Pending       []Request
	Active        []Request
}

type entry struct {
	req Request
	seq uint64
}

// entryHeap orders by (-priority, submitted_at, seq)
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.req.Priority != b.req.Priority {
		return a.req.Priority > b.req.Priority
	}
	if !a.req.SubmittedAt.Equal(b.req.SubmittedAt) {
		return a.req.SubmittedAt.Before(b.req.SubmittedAt)
	}
	return a.seq < b.seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type activeDownload struct {
	req    Request
	cancel context.CancelFunc
}

// Queue dispatches downloads in priority order, at most MaxConcurrent at a time
type Queue struct {
	run    DownloadFunc
	opts   Options
	logger *zap.Logger
	slots  *semaphore.Weighted

	mu      sync.Mutex
	entries entryHeap
	active  map[string]*activeDownload
	seq     uint64
	state   State
	closed  bool

	wake         chan struct{}
	workerCancel context.CancelFunc
	workerDone   chan struct{}
	runCtx       context.Context
	runCancel    context.CancelFunc
	wg           sync.WaitGroup
}

// New creates an idle queue around run
func New(run DownloadFunc, opts Options) *Queue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		run:    run,
		opts:   opts,
		logger: logger,
		slots:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		active: make(map[string]*activeDownload),
		wake:   make(chan struct{}, 1),
	}
}

// Add enqueues a download. Malformed requests and requests made after Stop
// are logged and dropped; the returned bool reports acceptance.
func (q *Queue) Add(repoID string, files []string, priority Priority, callback func(Result)) (string, bool) {
	if err := downloader.ValidateRequest(repoID, files); err != nil {
		q.logger.Warn("rejected malformed download request", zap.String("repo", repoID), zap.Error(err))
		return "", false
	}
	if !priority.Valid() {
		q.logger.Warn("rejected download request with unknown priority",
			zap.String("repo", repoID), zap.Int("priority", int(priority)))
		return "", false
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("rejected download request, queue is shutting down", zap.String("repo", repoID))
		return "", false
	}
	req := Request{
		ID:          id.String(),
		RepoID:      repoID,
		Files:       append([]string(nil), files...),
		Priority:    priority,
		SubmittedAt: time.Now(),
		Callback:    callback,
	}
	q.seq++
	heap.Push(&q.entries, &entry{req: req, seq: q.seq})
	pending := q.entries.Len()
	q.mu.Unlock()

	q.logger.Info("download queued",
		zap.String("id", req.ID),
		zap.String("repo", repoID),
		zap.Int("files", len(files)),
		zap.Stringer("priority", priority),
		zap.Int("pending", pending))
	q.signal()
	return req.ID, true
}

// Start launches the worker loop. Cancelling ctx cancels all running downloads.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue has been stopped")
	}
	if q.state != StateIdle {
		return fmt.Errorf("queue is already %s", q.state)
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	q.runCtx, q.runCancel = context.WithCancel(ctx)
	q.workerCancel = workerCancel
	q.workerDone = make(chan struct{})
	q.state = StateRunning

	go q.worker(workerCtx, q.workerDone)
	q.logger.Info("download queue started", zap.Int("max_concurrent", q.opts.MaxConcurrent))
	return nil
}

// Stop rejects new requests, abandons pending ones and waits up to the stop
// timeout for active downloads. Downloads still running after the timeout are
// cancelled and an error is returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	if q.state != StateRunning {
		q.mu.Unlock()
		return nil
	}
	q.state = StateStopping
	abandoned := q.entries.Len()
	q.entries = nil
	workerCancel, workerDone := q.workerCancel, q.workerDone
	q.mu.Unlock()

	if abandoned > 0 {
		q.logger.Info("abandoning pending downloads", zap.Int("count", abandoned))
	}

	workerCancel()
	<-workerDone

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(q.opts.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-drained:
	case <-timer.C:
		err = fmt.Errorf("timed out after %s waiting for %d active downloads", q.opts.StopTimeout, q.ActiveCount())
	case <-ctx.Done():
		err = fmt.Errorf("stop interrupted: %w", ctx.Err())
	}
	q.runCancel()

	q.mu.Lock()
	q.state = StateIdle
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("download queue stopped with active downloads", zap.Error(err))
		return err
	}
	q.logger.Info("download queue stopped")
	return nil
}

// Cancel cancels every pending and active download of repoID and returns how many were affected
func (q *Queue) Cancel(repoID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.req.RepoID == repoID {
			count++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	heap.Init(&q.entries)

	for _, a := range q.active {
		if a.req.RepoID == repoID {
			a.cancel()
			count++
		}
	}
	if count > 0 {
		q.logger.Info("cancelled downloads", zap.String("repo", repoID), zap.Int("count", count))
	}
	return count
}

// CancelAll cancels every active download; pending entries keep their place
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, a := range q.active {
		a.cancel()
	}
	return len(q.active)
}

// Size returns the number of pending requests
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// ActiveCount returns the number of running downloads
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Status returns a snapshot with pending requests in dispatch order
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	ordered := make(entryHeap, len(q.entries))
	copy(ordered, q.entries)
	sort.Sort(ordered)

	snap := Snapshot{
		State:         q.state,
		MaxConcurrent: q.opts.MaxConcurrent,
		Pending:       make([]Request, 0, len(ordered)),
		Active:        make([]Request, 0, len(q.active)),
	}
	for _, e := range ordered {
		snap.Pending = append(snap.Pending, e.req)
	}
	for _, a := range q.active {
		snap.Active = append(snap.Active, a.req)
	}
	sort.Slice(snap.Active, func(i, j int) bool {
		return snap.Active[i].SubmittedAt.Before(snap.Active[j].SubmittedAt)
	})
	return snap
}

// Clear drops all pending requests and returns how many were removed
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := q.entries.Len()
	q.entries = nil
	q.logger.Info("cleared pending downloads", zap.Int("count", cleared))
	return cleared
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// worker takes a slot, then the best dispatchable entry, and hands both to a
// download goroutine. The slot is taken first so a freed slot always goes to
// the highest-priority entry waiting at that moment.
func (q *Queue) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := q.slots.Acquire(ctx, 1); err != nil {
			return
		}

		e, dctx := q.next(ctx)
		if e == nil {
			q.slots.Release(1)
			return
		}
		q.dispatch(dctx, e)
	}
}

// next blocks until an entry whose key is not already active can be taken.
// Entries sharing an active key stay queued until that key frees.
func (q *Queue) next(ctx context.Context) (*entry, context.Context) {
	for {
		q.mu.Lock()
		var deferred []*entry
		var picked *entry
		for q.entries.Len() > 0 {
			e := heap.Pop(&q.entries).(*entry)
			if _, busy := q.active[e.req.Key()]; busy {
				deferred = append(deferred, e)
				continue
			}
			picked = e
			break
		}
		for _, e := range deferred {
			heap.Push(&q.entries, e)
		}
		if picked != nil {
			dctx, cancel := context.WithCancel(q.runCtx)
			q.active[picked.req.Key()] = &activeDownload{req: picked.req, cancel: cancel}
			q.mu.Unlock()
			return picked, dctx
		}
		if len(deferred) > 0 {
			q.logger.Debug("deferring duplicate requests", zap.Int("count", len(deferred)))
		}
		q.mu.Unlock()

		timer := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, e *entry) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.slots.Release(1)
		defer q.release(e.req.Key())

		log := q.logger.With(zap.String("id", e.req.ID), zap.String("repo", e.req.RepoID))
		log.Info("download started", zap.Stringer("priority", e.req.Priority))

		result := q.execute(ctx, e.req)
		switch {
		case result.Err != nil:
			log.Error("download failed", zap.Error(result.Err), zap.Duration("elapsed", result.Duration))
		case result.Completed:
			log.Info("download finished", zap.Duration("elapsed", result.Duration))
		default:
			log.Info("download cancelled", zap.Duration("elapsed", result.Duration))
		}
		q.notify(log, result)
	}()
}

// execute runs the download, converting a panic into a failed result
func (q *Queue) execute(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	result.Request = req
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Completed = false
			result.Err = fmt.Errorf("download panicked: %v", r)
		}
	}()

	result.Completed, result.Err = q.run(ctx, req)
	return result
}

func (q *Queue) notify(log *zap.Logger, result Result) {
	if result.Request.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("download callback panicked", zap.Any("panic", r))
		}
	}()
	result.Request.Callback(result)
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	if a, ok := q.active[key]; ok {
		a.cancel()
		delete(q.active, key)
	}
	q.mu.Unlock()
	q.signal()
}
