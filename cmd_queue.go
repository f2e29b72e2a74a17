package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hf-fetch/downloader"
	"hf-fetch/queue"
)

var queuePriorityFlag string

var queueCmd = &cobra.Command{
	Use:   "queue <namespace/name:file[,file...][@priority]>...",
	Short: "Download several repositories through the priority queue",
	Long: `Queues every request and runs them with at most HFFETCH_MAX_CONCURRENT
downloads at a time, highest priority first. A request names a repository,
its files after a colon and optionally a priority (low, normal, high, urgent)
after an @, for example:

  hf-fetch queue org/a:model.gguf@high org/b:config.json,model.safetensors`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.Flags().StringVarP(&queuePriorityFlag, "priority", "p", "normal", "Priority for requests that do not name one")
}

// queueArg is one parsed queue request
type queueArg struct {
	RepoID   string
	Files    []string
	Priority queue.Priority
}

// parseQueueArg parses "namespace/name:file1,file2@priority"
func parseQueueArg(arg string, fallback queue.Priority) (queueArg, error) {
	parsed := queueArg{Priority: fallback}

	if at := strings.LastIndex(arg, "@"); at >= 0 {
		p, err := queue.ParsePriority(arg[at+1:])
		if err != nil {
			return parsed, err
		}
		parsed.Priority = p
		arg = arg[:at]
	}

	repo, files, ok := strings.Cut(arg, ":")
	if !ok || files == "" {
		return parsed, fmt.Errorf("request %q has no files, expected namespace/name:file[,file...]", arg)
	}
	parsed.RepoID = repo
	for _, f := range strings.Split(files, ",") {
		if f = strings.TrimSpace(f); f != "" {
			parsed.Files = append(parsed.Files, f)
		}
	}
	if err := downloader.ValidateRequest(parsed.RepoID, parsed.Files); err != nil {
		return parsed, err
	}
	return parsed, nil
}

// lineProgress prints an event when the status changes or another tenth of
// the download has completed
type lineProgress struct {
	out    io.Writer
	prefix string

	mu     sync.Mutex
	status downloader.Status
	step   int
	seen   bool
}

func (p *lineProgress) Update(e downloader.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	step := -1
	if pct := e.Percentage(); pct >= 0 {
		step = int(pct / 10)
	}
	if p.seen && e.Status == p.status && step == p.step && !e.Completed {
		return
	}
	p.seen, p.status, p.step = true, e.Status, step
	fmt.Fprintf(p.out, "%s %s\n", p.prefix, formatEvent(e))
}

func runQueue(cmd *cobra.Command, args []string) error {
	a := current

	fallback, err := queue.ParsePriority(queuePriorityFlag)
	if err != nil {
		return err
	}
	requests := make([]queueArg, 0, len(args))
	for _, arg := range args {
		r, err := parseQueueArg(arg, fallback)
		if err != nil {
			return err
		}
		requests = append(requests, r)
	}

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	syncOut := writerFunc(func(b []byte) (int, error) {
		outMu.Lock()
		defer outMu.Unlock()
		return out.Write(b)
	})

	run := func(ctx context.Context, req queue.Request) (bool, error) {
		progress := &lineProgress{out: syncOut, prefix: "[" + req.RepoID + "]"}
		return a.newOrchestrator().Download(ctx, req.RepoID, req.Files, progress.Update)
	}

	q := queue.New(run, queue.Options{
		MaxConcurrent: a.cfg.MaxConcurrent,
		StopTimeout:   a.cfg.StopTimeout,
		PollInterval:  a.cfg.PollInterval,
		Logger:        a.logger,
	})

	var (
		wg       sync.WaitGroup
		resultMu sync.Mutex
		failed   int
	)
	for _, r := range requests {
		wg.Add(1)
		_, ok := q.Add(r.RepoID, r.Files, r.Priority, func(res queue.Result) {
			defer wg.Done()
			resultMu.Lock()
			defer resultMu.Unlock()
			switch {
			case res.Err != nil:
				failed++
				fmt.Fprintf(syncOut, "[%s] failed after %s: %v\n", res.Request.RepoID, res.Duration.Round(time.Millisecond), res.Err)
			case !res.Completed:
				fmt.Fprintf(syncOut, "[%s] cancelled\n", res.Request.RepoID)
			default:
				fmt.Fprintf(syncOut, "[%s] completed in %s\n", res.Request.RepoID, res.Duration.Round(time.Millisecond))
			}
		})
		if !ok {
			wg.Done()
			resultMu.Lock()
			failed++
			resultMu.Unlock()
		}
	}

	if err := q.Start(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Info("interrupted, stopping queue", zap.Int("pending", q.Size()), zap.Int("active", q.ActiveCount()))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.StopTimeout)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		return err
	}

	resultMu.Lock()
	defer resultMu.Unlock()
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(requests))
	}
	return nil
}

// writerFunc adapts a function to io.Writer
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
