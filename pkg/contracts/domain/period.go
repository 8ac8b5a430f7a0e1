package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Period identifies a discrete analysis timestamp, a fiscal quarter.
// The zero value is not a valid period.
type Period struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"` // 1..4
}

var periodPattern = regexp.MustCompile(`^(\d{4})Q([1-4])$`)

// ParsePeriod parses a label of the form "2019Q3".
func ParsePeriod(label string) (Period, error) {
	m := periodPattern.FindStringSubmatch(label)
	if m == nil {
		return Period{}, fmt.Errorf("invalid period label %q (want YYYYQn)", label)
	}
	year, _ := strconv.Atoi(m[1])
	quarter, _ := strconv.Atoi(m[2])
	return Period{Year: year, Quarter: quarter}, nil
}

// PeriodOf maps a calendar date to the quarter containing it.
func PeriodOf(date time.Time) Period {
	return Period{
		Year:    date.Year(),
		Quarter: (int(date.Month())-1)/3 + 1,
	}
}

// String returns the canonical "YYYYQn" label.
func (p Period) String() string {
	return fmt.Sprintf("%dQ%d", p.Year, p.Quarter)
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Quarter == 0
}

// Anchor returns the last calendar day of the quarter. Trading-day
// windows end at or before this date.
func (p Period) Anchor() time.Time {
	firstOfNext := time.Date(p.Year, time.Month((p.Quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 3, 0)
	return firstOfNext.AddDate(0, 0, -1)
}

// Add shifts the period by n quarters (n may be negative).
func (p Period) Add(n int) Period {
	q := (p.Year*4 + (p.Quarter - 1)) + n
	return Period{Year: q / 4, Quarter: q%4 + 1}
}

// Before reports whether p precedes other in calendar order.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Quarter < other.Quarter
}

// Compare returns -1, 0 or +1 ordering p against other.
func (p Period) Compare(other Period) int {
	switch {
	case p.Before(other):
		return -1
	case other.Before(p):
		return 1
	default:
		return 0
	}
}
