package domain

import (
	"strings"
	"time"
)

// wireTimestampLayout matches the persisted log's timestamp rendering,
// e.g. "2026-01-02T21:00:33+00:00" — RFC3339 with an explicit numeric
// offset rather than the "Z" shorthand time.RFC3339 would produce for UTC.
const wireTimestampLayout = "2006-01-02T15:04:05-07:00"

// FormatWireTimestamp renders t in the event log's persisted format.
func FormatWireTimestamp(t time.Time) string {
	return t.UTC().Format(wireTimestampLayout)
}

// ParseWireTimestamp parses a timestamp in the event log's persisted
// format, also accepting plain RFC3339 for leniency with older records.
func ParseWireTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(wireTimestampLayout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}
