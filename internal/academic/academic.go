// Package academic holds the calendar rules that decide which chat channel a
// student belongs to. Every function takes "now" explicitly so callers and
// tests control the clock.
package academic

import (
	"fmt"
	"time"
)

// MaxLevel is the highest level a program has.
const MaxLevel = 2

// BoundaryMonth is the month a new academic year starts in, right after the
// semester results are published.
const BoundaryMonth = time.July

// Year returns the academic-year label for d, e.g. "2024-2025".
func Year(d time.Time) string {
	y := d.Year()
	if d.Month() >= BoundaryMonth {
		return fmt.Sprintf("%d-%d", y, y+1)
	}
	return fmt.Sprintf("%d-%d", y-1, y)
}

// ResetYearNeeded is the academic year whose messages should be live on
// today. A channel stamped with any other label is due for a reset.
func ResetYearNeeded(today time.Time) string {
	return Year(today)
}

// InferLevel derives a student's level from the year they started the
// program. It must be recomputed on every use: the level moves with the
// calendar even if the student does nothing.
func InferLevel(startYear int, today time.Time) int {
	diff := today.Year() - startYear
	switch {
	case diff <= 0:
		return 1
	case diff == 1:
		if today.Month() >= BoundaryMonth {
			return 2
		}
		return 1
	default:
		return MaxLevel
	}
}

// ValidLevel reports whether level exists in the program model.
func ValidLevel(level int) bool {
	return level >= 1 && level <= MaxLevel
}

// ChannelKey names the chat channel of a program level, e.g. "GI_year1".
func ChannelKey(program string, level int) string {
	return fmt.Sprintf("%s_year%d", program, level)
}

// In converts t into loc, falling back to UTC when loc is nil.
func In(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t.UTC()
	}
	return t.In(loc)
}
