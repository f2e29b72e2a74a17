package downloader

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatSpeed renders bytes per second for display
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatETA renders an ETA in whole seconds, "unknown" when zero or negative
func FormatETA(seconds int64) string {
	if seconds <= 0 {
		return "unknown"
	}
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
	return fmt.Sprintf("%dd %dh", seconds/86400, (seconds%86400)/3600)
}
