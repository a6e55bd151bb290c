package model

import (
	"fmt"
	"time"
)

// TimestampLayout is the sortable UTC layout used for updated_at and event times, e.g. 20200419T016208Z
const TimestampLayout = "20060102T150405Z"

// Timestamp formats t in TimestampLayout
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// TimestampFromRFC3339 converts an RFC3339 time (as reported by operation metadata) to TimestampLayout.
// Unparseable or empty input yields an empty string.
func TimestampFromRFC3339(s string) string {
	if s == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return ""
	}
	return Timestamp(t)
}
