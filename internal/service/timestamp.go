package service

import (
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a provider freshness token. ok is false for empty or
// unrecognised values.
func ParseTimestamp(raw string) (t time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// isNewer reports whether incoming is strictly newer than existing. Unparseable
// values count as older than any parseable one.
func isNewer(incoming, existing string) bool {
	in, ok := ParseTimestamp(incoming)
	if !ok {
		return false
	}
	ex, ok := ParseTimestamp(existing)
	if !ok {
		return true
	}
	return in.After(ex)
}
