package downloader

import (
	"sync"
	"time"
)

// DefaultSpeedWindow is the number of samples kept by a SpeedEstimator
const DefaultSpeedWindow = 10

type speedSample struct {
	at    time.Time
	bytes int64
}

// SpeedEstimator derives throughput from a sliding window of cumulative byte counts
type SpeedEstimator struct {
	mu      sync.Mutex
	window  int
	samples []speedSample
	now     func() time.Time
}

// NewSpeedEstimator creates an estimator holding at most window samples
func NewSpeedEstimator(window int) *SpeedEstimator {
	if window < 2 {
		window = DefaultSpeedWindow
	}
	return &SpeedEstimator{
		window:  window,
		samples: make([]speedSample, 0, window),
		now:     time.Now,
	}
}

// Update records the cumulative byte count and returns the current speed in bytes per second
func (se *SpeedEstimator) Update(cumulative int64) float64 {
	se.mu.Lock()
	defer se.mu.Unlock()

	se.samples = append(se.samples, speedSample{at: se.now(), bytes: cumulative})
	if len(se.samples) > se.window {
		se.samples = se.samples[len(se.samples)-se.window:]
	}

	if len(se.samples) < 2 {
		return 0
	}

	first := se.samples[0]
	last := se.samples[len(se.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed == 0 {
		return 0
	}

	speed := float64(last.bytes-first.bytes) / elapsed
	if speed < 0 {
		return 0
	}
	return speed
}

// Reset drops all samples so a new file starts with a clean rate
func (se *SpeedEstimator) Reset() {
	se.mu.Lock()
	se.samples = se.samples[:0]
	se.mu.Unlock()
}

// Len returns the number of samples currently held
func (se *SpeedEstimator) Len() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	return len(se.samples)
}

// ETA returns the whole seconds needed for remaining bytes at speed, or 0 when unknown
func ETA(remaining int64, speed float64) int64 {
	if speed <= 0 || remaining <= 0 {
		return 0
	}
	return int64(float64(remaining) / speed)
}
