package vigil

import (
	"strings"
	"time"
)

// Layouts tried, in order, when normalizing upstream date strings. The
// sources in play emit everything from RFC 1123 (RSS) to Postgres-style
// fractional timestamps (ransomlook).
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 MST",
	"2006/01/02",
	"January 2, 2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Date normalizes s to a date-only ISO-8601 string (YYYY-MM-DD). Strings
// that fail every known layout yield nil, which the store writes as SQL
// null.
func Date(s string) *string {
	t, ok := parseDate(s)
	if !ok {
		return nil
	}
	d := t.Format("2006-01-02")
	return &d
}

// Timestamp normalizes s to a full ISO-8601 UTC timestamp with millisecond
// precision, or nil when unparseable.
func Timestamp(s string) *string {
	t, ok := parseDate(s)
	if !ok {
		return nil
	}
	f := t.Format("2006-01-02T15:04:05.000Z")
	return &f
}

// Today returns the current UTC date in YYYY-MM-DD form.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// Now returns the current UTC time in the canonical timestamp form.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
