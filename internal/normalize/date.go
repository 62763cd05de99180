package normalize

import (
	"strconv"
	"strings"
	"time"
)

// Date resolves expr against anchor. The rules are tried in order:
// an RFC 3339 timestamp, an absolute "DD/MM" or "DD/MM/YYYY" date, then a
// relative phrase ("yesterday", "last month", "3 weeks ago"). An empty or
// unrecognised expression resolves to anchor.
func Date(anchor time.Time, expr string) time.Time {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return anchor
	}

	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t.UTC()
	}

	if t, ok := absoluteDate(anchor, expr); ok {
		return t
	}

	if t, ok := relativeDate(anchor, expr); ok {
		return t
	}

	return anchor
}

// absoluteDate handles "DD/MM" and "DD/MM/YYYY". The result is midnight UTC.
// A day/month combination that does not exist resolves to the anchor's own
// calendar day. Non-numeric parts mean the expression is not absolute.
func absoluteDate(anchor time.Time, expr string) (time.Time, bool) {
	parts := strings.Split(expr, "/")
	if len(parts) != 2 && len(parts) != 3 {
		return time.Time{}, false
	}

	day, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, false
	}
	year := anchor.Year()
	if len(parts) == 3 {
		year, err = strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return time.Time{}, false
		}
	}

	if !validDate(year, month, day) {
		return time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

func validDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	return day <= daysIn(year, time.Month(month))
}

func relativeDate(anchor time.Time, expr string) (time.Time, bool) {
	parts := strings.Fields(strings.ToLower(expr))

	switch {
	case len(parts) == 1 && parts[0] == "yesterday":
		return anchor.AddDate(0, 0, -1), true

	case len(parts) == 2 && parts[0] == "last":
		switch parts[1] {
		case "week", "weeks":
			return anchor.AddDate(0, 0, -7), true
		case "month", "months":
			return ShiftMonths(anchor, -1), true
		case "year", "years":
			return ShiftMonths(anchor, -12), true
		}
		return anchor, true

	case len(parts) == 3 && parts[2] == "ago":
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			n = 1
		}
		switch parts[1] {
		case "day", "days":
			return anchor.AddDate(0, 0, -n), true
		case "week", "weeks":
			return anchor.AddDate(0, 0, -7*n), true
		case "month", "months":
			return ShiftMonths(anchor, -n), true
		case "year", "years":
			return ShiftMonths(anchor, -12*n), true
		}
		return anchor, true
	}

	return time.Time{}, false
}

// ShiftMonths moves t by n calendar months keeping the time of day. When the
// target month is shorter the day is clamped to its last day, so March 31
// minus one month is the last day of February.
func ShiftMonths(t time.Time, n int) time.Time {
	total := int(t.Month()) - 1 + n
	year := t.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)

	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
