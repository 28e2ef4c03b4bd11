package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISODate is the canonical calendar date layout produced by the resolver.
const ISODate = "2006-01-02"

// Excel serial day numbers accepted as dates. 25569 is 1970-01-01 and 73050
// is 2100-01-01; anything outside is treated as a plain number, not a date.
const (
	serialEpochOffset = 25569
	serialMin         = 25569
	serialMax         = 73050
)

var dmyRe = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{2}|\d{4})$`)

// resolveDateValue coerces a cell value of unknown representation to a
// canonical calendar date. Native date values and serial day numbers are read
// back using their UTC calendar components so the result does not depend on
// the host timezone.
func resolveDateValue(v any) (string, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.UTC().Format(ISODate), true
	case float64:
		return fromSerial(t)
	case int:
		return resolveNumeric(float64(t))
	case int64:
		return resolveNumeric(float64(t))
	case string:
		return ResolveDate(t)
	default:
		return "", false
	}
}

// ResolveDate coerces raw cell text to a canonical calendar date, or reports
// false when no representation matches. It never panics or errors.
func ResolveDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	// 8-digit yyyymmdd comes first: it would also parse as a float.
	if len(s) == 8 && isDigits(s) {
		y, _ := strconv.Atoi(s[:4])
		m, _ := strconv.Atoi(s[4:6])
		d, _ := strconv.Atoi(s[6:])
		return calendarDate(y, m, d)
	}

	// Numeric text in the plausible modern range is an Excel serial day.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return resolveNumeric(f)
	}

	if m := dmyRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		return calendarDate(year, month, day)
	}

	// ISO calendar string, with or without a time component.
	if len(s) >= 10 {
		if t, err := time.Parse(ISODate, s[:10]); err == nil {
			return t.UTC().Format(ISODate), true
		}
	}

	return "", false
}

func resolveNumeric(f float64) (string, bool) {
	if f >= 19000101 && f <= 21001231 && f == math.Trunc(f) {
		n := int(f)
		return calendarDate(n/10000, (n/100)%100, n%100)
	}
	return fromSerial(f)
}

// fromSerial converts an Excel serial day number via the fixed epoch offset
// and reads the result back in UTC.
func fromSerial(serial float64) (string, bool) {
	if serial < serialMin || serial > serialMax {
		return "", false
	}
	secs := (serial - serialEpochOffset) * 86400
	t := time.Unix(int64(math.Round(secs)), 0).UTC()
	return t.Format(ISODate), true
}

func calendarDate(year, month, day int) (string, bool) {
	if year < 1900 || year > 2100 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", false
	}
	return t.Format(ISODate), true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
