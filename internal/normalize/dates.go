package normalize

import (
	"strings"
	"time"
)

// dateLayouts are tried in order; the first that parses wins.
// Day and month may omit the leading zero.
var dateLayouts = []string{
	"2006-1-2",
	"2/1/2006",
	"2-1-2006",
	"2006/1/2",
	"2/1/06",
}

// MaxDateAge is how far in the past an extracted date may lie before it is
// considered an extraction error.
const MaxDateAge = 365 * 24 * time.Hour

// ParseDateSafely parses an extracted date string. Unparseable input, and dates
// more than a year before now, collapse to now's calendar day.
func ParseDateSafely(s string, now time.Time) time.Time {
	today := truncateDay(now)

	s = strings.TrimSpace(s)
	if s == "" {
		return today
	}

	parsed, ok := ParseDate(s, now.Location())
	if !ok || today.Sub(parsed) > MaxDateAge {
		return today
	}
	return parsed
}

// ParseDate tries every known layout without any age check. Schedules and
// statements legitimately carry dates far in the past or future.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if parsed, err := time.ParseInLocation(layout, s, loc); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// ParseDateValue is ParseDateSafely for a decoded JSON value.
func ParseDateValue(v any, now time.Time) time.Time {
	s, _ := v.(string)
	return ParseDateSafely(s, now)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
