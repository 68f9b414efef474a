package config

import (
	"strings"
	"time"
)

// syncIntervals are the discrete auto-sync choices offered to the UI.
var syncIntervals = map[string]time.Duration{
	"30s": 30 * time.Second,
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
}

// ParseSyncInterval maps an interval choice to its duration.
// Returns (0, false) for anything outside the supported set.
func ParseSyncInterval(interval string) (time.Duration, bool) {
	d, ok := syncIntervals[strings.ToLower(strings.TrimSpace(interval))]
	return d, ok
}

// IntervalDuration resolves the configured interval, falling back to
// the default when the stored choice is invalid.
func (s SyncConfig) IntervalDuration() time.Duration {
	if d, ok := ParseSyncInterval(s.Interval); ok {
		return d
	}
	d, _ := ParseSyncInterval(defaultSyncInterval)
	return d
}
