// Package format provides human-readable formatting for playback reports.
package format

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Bytes formats a byte count into human-readable format.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	sizes := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp])
}

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Bitrate formats a rate in bits per second.
// Example: Bitrate(2500000) => "2.50 Mbit/s"
func Bitrate(bps float64) string {
	switch {
	case bps >= 1_000_000:
		return printer.Sprintf("%.2f Mbit/s", bps/1_000_000)
	case bps >= 1_000:
		return printer.Sprintf("%.1f kbit/s", bps/1_000)
	default:
		return printer.Sprintf("%.0f bit/s", bps)
	}
}

// Seconds formats a duration as seconds with millisecond precision.
// Example: Seconds(1500*time.Millisecond) => "1.500s"
func Seconds(d time.Duration) string {
	return printer.Sprintf("%.3fs", d.Seconds())
}

// Percentage formats a ratio of part to whole.
// Example: Percentage(1, 8) => "12.5%"
func Percentage(part, whole float64) string {
	if whole <= 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", part/whole*100)
}
