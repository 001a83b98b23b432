// Package pipeline implements the per-expert query pipeline stages: Map,
// Medium-Rescue, Resolve, Reduce, Language-Check, Comment-Group, and
// Comment-Synthesis.
package pipeline

import "time"

// RecentCutoff returns now minus months calendar-months, pinning overflow
// days to the last day of the target month (e.g. May 31 minus 3 months is
// Feb 28/29, not March 3).
func RecentCutoff(now time.Time, months int) time.Time {
	year, month, day := now.Date()
	targetMonth := int(month) - months
	targetYear := year
	for targetMonth <= 0 {
		targetMonth += 12
		targetYear--
	}

	firstOfTarget := time.Date(targetYear, time.Month(targetMonth), 1, 0, 0, 0, 0, now.Location())
	lastDayOfTarget := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDayOfTarget {
		day = lastDayOfTarget
	}
	return time.Date(targetYear, time.Month(targetMonth), day, now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), now.Location())
}
