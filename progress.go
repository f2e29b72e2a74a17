package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"hf-fetch/downloader"
)

// barSink renders progress events on a terminal progress bar. The bar is
// rebuilt when the total changes, which happens once sizes are known.
type barSink struct {
	out   io.Writer
	bar   *progressbar.ProgressBar
	total int64
	file  string
}

func newBarSink(out io.Writer) *barSink {
	return &barSink{out: out}
}

func (s *barSink) newBar(total int64) *progressbar.ProgressBar {
	limit := total
	if limit <= 0 {
		limit = -1
	}
	return progressbar.NewOptions64(limit,
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionShowCount(),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(0),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Update implements downloader.ProgressFunc
func (s *barSink) Update(e downloader.ProgressEvent) {
	if s.bar == nil || e.OverallBytesTotal != s.total {
		s.total = e.OverallBytesTotal
		s.bar = s.newBar(s.total)
	}

	if e.CurrentFile != s.file || e.Status == downloader.StatusCompleted {
		s.file = e.CurrentFile
		s.bar.Describe(describe(e))
	}

	s.bar.Set64(e.OverallBytesDone)

	if e.Completed {
		s.bar.Finish()
	}
}

func describe(e downloader.ProgressEvent) string {
	if e.Completed {
		return fmt.Sprintf("%s complete", e.RepoID)
	}
	label := e.Status.String()
	return fmt.Sprintf("[%d/%d] %s %s", e.FileIndex, e.TotalFiles, label, e.CurrentFile)
}

// formatEvent renders one event as a single log-friendly line
func formatEvent(e downloader.ProgressEvent) string {
	pct := e.Percentage()
	progress := "?"
	if pct >= 0 {
		progress = fmt.Sprintf("%.1f%%", pct)
	}
	line := fmt.Sprintf("%s %s %s %s", e.Status, e.CurrentFile, progress, downloader.FormatSpeed(e.SpeedBps))
	if e.ETASeconds > 0 {
		line += " eta " + downloader.FormatETA(e.ETASeconds)
	}
	return line
}
