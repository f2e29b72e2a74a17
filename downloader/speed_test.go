package downloader

import (
	"testing"
	"time"
)

// fakeClock returns a controllable time source
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSpeedEstimator_FirstSampleIsZero(t *testing.T) {
	se := NewSpeedEstimator(10)

	if speed := se.Update(1000); speed != 0 {
		t.Errorf("Expected 0 for first sample, got %f", speed)
	}
}

func TestSpeedEstimator_Update(t *testing.T) {
	clock := newFakeClock()
	se := NewSpeedEstimator(10)
	se.now = clock.Now

	se.Update(0)
	clock.Advance(time.Second)
	speed := se.Update(500)
	if speed != 500 {
		t.Errorf("Expected 500 B/s, got %f", speed)
	}

	clock.Advance(time.Second)
	speed = se.Update(1500)
	if speed != 750 {
		t.Errorf("Expected 750 B/s over window, got %f", speed)
	}
}

func TestSpeedEstimator_ZeroElapsed(t *testing.T) {
	clock := newFakeClock()
	se := NewSpeedEstimator(10)
	se.now = clock.Now

	se.Update(0)
	if speed := se.Update(1000); speed != 0 {
		t.Errorf("Expected 0 when no time elapsed, got %f", speed)
	}
}

func TestSpeedEstimator_WindowDropsOldest(t *testing.T) {
	clock := newFakeClock()
	se := NewSpeedEstimator(3)
	se.now = clock.Now

	// A slow start followed by a fast stretch; only the last three samples count.
	se.Update(0)
	clock.Advance(10 * time.Second)
	se.Update(10)
	clock.Advance(time.Second)
	se.Update(1010)
	clock.Advance(time.Second)
	speed := se.Update(2010)

	if se.Len() != 3 {
		t.Fatalf("Expected 3 samples, got %d", se.Len())
	}
	if speed != 1000 {
		t.Errorf("Expected 1000 B/s, got %f", speed)
	}
}

func TestSpeedEstimator_NeverNegative(t *testing.T) {
	clock := newFakeClock()
	se := NewSpeedEstimator(10)
	se.now = clock.Now

	se.Update(1000)
	clock.Advance(time.Second)
	if speed := se.Update(500); speed < 0 {
		t.Errorf("Expected non-negative speed, got %f", speed)
	}
}

func TestSpeedEstimator_Reset(t *testing.T) {
	clock := newFakeClock()
	se := NewSpeedEstimator(10)
	se.now = clock.Now

	se.Update(0)
	clock.Advance(time.Second)
	se.Update(100)
	se.Reset()

	if se.Len() != 0 {
		t.Errorf("Expected no samples after reset, got %d", se.Len())
	}
	if speed := se.Update(200); speed != 0 {
		t.Errorf("Expected 0 after reset, got %f", speed)
	}
}

func TestETA(t *testing.T) {
	tests := []struct {
		name      string
		remaining int64
		speed     float64
		expected  int64
	}{
		{"exact", 1000, 100, 10},
		{"zero speed", 1000, 0, 0},
		{"negative speed", 1000, -5, 0},
		{"truncates", 1000, 300, 3},
		{"nothing remaining", 0, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ETA(tt.remaining, tt.speed); got != tt.expected {
				t.Errorf("ETA(%d, %f) = %d, want %d", tt.remaining, tt.speed, got, tt.expected)
			}
		})
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		seconds  int64
		expected string
	}{
		{0, "unknown"},
		{42, "42s"},
		{222, "3m 42s"},
		{4980, "1h 23m"},
		{90000, "1d 1h"},
	}

	for _, tt := range tests {
		if got := FormatETA(tt.seconds); got != tt.expected {
			t.Errorf("FormatETA(%d) = %q, want %q", tt.seconds, got, tt.expected)
		}
	}
}
