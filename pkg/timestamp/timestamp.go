// Package timestamp normalizes the two textual date formats accepted on the
// wire into a canonical UTC instant.
//
// Accepted formats:
//   - standard date-time text: "2025-01-15T08:30:00Z", "2025-01-15T08:30:00",
//     "2025-01-15 08:30:00", "2025-01-15", RFC 3339 with offsets
//   - fixed-width numeric text: YYYYMMDD, YYYYMMDDHHMM, YYYYMMDDHHMMSS
//
// Values without zone information are interpreted as UTC.
package timestamp

import (
	"fmt"
	"strings"
	"time"
)

// NoteLayout is the layout used when a timestamp is rendered into notes.
const NoteLayout = "2006-01-02 15:04:05 UTC"

var standardLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse converts s into a UTC instant. A blank input, or one that matches
// neither accepted format, yields nil. Callers that must tell those two cases
// apart use Validate first.
func Parse(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, ok := parseStandard(s); ok {
		return &t
	}
	if t, ok := parseNumeric(s); ok {
		return &t
	}
	return nil
}

// ParsePtr is Parse for optional inputs.
func ParsePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	return Parse(*s)
}

// IsNumeric reports whether s is an all-digit string of length 8, 12 or 14.
func IsNumeric(s string) bool {
	switch len(s) {
	case 8, 12, 14:
	default:
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Validate rejects a non-blank value that is neither standard date-time text
// nor a well-formed numeric timestamp. Blank values are valid (absent).
func Validate(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, ok := parseStandard(s); ok {
		return nil
	}
	if !IsNumeric(s) {
		return fmt.Errorf("invalid timestamp %q: expected date-time text or YYYYMMDD[HHMM[SS]]", s)
	}
	if _, ok := parseNumeric(s); !ok {
		return fmt.Errorf("invalid timestamp %q: out of range date or time", s)
	}
	return nil
}

func parseStandard(s string) (time.Time, bool) {
	for _, layout := range standardLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseNumeric slices the date components out of s. Anything past the
// seconds field is ignored.
func parseNumeric(s string) (time.Time, bool) {
	if len(s) < 8 {
		return time.Time{}, false
	}
	layout := "20060102"
	value := s[:8]
	switch {
	case len(s) >= 14:
		layout += "150405"
		value = s[:14]
	case len(s) >= 12:
		layout += "1504"
		value = s[:12]
	}
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
