package billing

import (
	"fmt"
	"time"
)

// Cost returns the charge for a session between start and end at the given
// hourly rate. Fractional hours are billed proportionally with a strict
// one-hour minimum, whether this is a live estimate or the final bill.
func Cost(start, end time.Time, hourlyRate float64) float64 {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	hours := elapsed.Seconds() / 3600
	cost := hours * hourlyRate
	if cost < hourlyRate {
		return hourlyRate
	}
	return cost
}

// FormatClock renders an elapsed duration as HH:MM:SS.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// FormatCompact renders an elapsed duration in the short XhYmZs form used
// for brief sessions, dropping leading zero components.
func FormatCompact(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
