package kamo

import (
	"fmt"
	"time"
)

// Intervals that land on the same wall-clock marks every hour. Anything that
// does not divide 60 would drift across hours and break window overlap.
var allowedIntervals = map[int]bool{5: true, 10: true, 15: true, 30: true}

func ValidInterval(minutes int) bool {
	return allowedIntervals[minutes] && 60%minutes == 0
}

// NextPollTime returns the next instant strictly after now that is a multiple
// of the interval from the top of the hour (e.g. :00, :05, :10 for 5 minutes).
// Aligned polls keep the hourly feed's 12h lookback overlapping predictably
// across restarts and maximize distinct substation snapshots without
// over-polling.
func NextPollTime(now time.Time, intervalMinutes int) (time.Time, error) {
	if !ValidInterval(intervalMinutes) {
		return time.Time{}, fmt.Errorf("poll interval must be one of 5, 10, 15, 30 minutes, got %d", intervalMinutes)
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	// The mark trails now by less than one interval, so mark+interval is
	// always strictly after now, including when now sits exactly on a mark.
	return SnapshotMark(now, intervalMinutes).Add(interval), nil
}

// SnapshotMark rounds now down to the interval mark. Substation snapshots are
// stored under this standardized timestamp (9:00, 9:05, 9:10, ...) so that
// successive polls of the same upstream refresh dedupe by key.
func SnapshotMark(now time.Time, intervalMinutes int) time.Time {
	trunc := now.Truncate(time.Minute)
	return trunc.Add(-time.Duration(trunc.Minute()%intervalMinutes) * time.Minute)
}
