package encounter

import (
	"fmt"
	"strings"
	"time"
)

// eventTimeLayouts lists the accepted EVENT_TIME shapes, most specific first.
// Layouts without a zone parse as UTC.
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102150405Z0700",
	"20060102150405",
	"200601021504",
	"20060102",
}

// ParseTimestamp parses an ISO-8601 style event time. Fractional seconds are
// accepted after the seconds field of any layout and kept to the microsecond.
func ParseTimestamp(raw string) (Timestamp, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Timestamp{}, fmt.Errorf("timestamp is empty")
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Raw: raw, Time: t.Truncate(time.Microsecond)}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
