package returns

import (
	"sort"
	"time"

	"comovecli/pkg/contracts/domain"
)

// Calendar is the union trading calendar: every date on which at least
// one firm has a return, sorted ascending. Rolling windows are measured
// in calendar positions, so "trailing W trading days" means the last W
// union dates at or before a period anchor.
type Calendar struct {
	dates []time.Time
}

// BuildCalendar collects the sorted unique union of return dates.
func BuildCalendar(series map[string]domain.ReturnSeries) Calendar {
	seen := make(map[time.Time]struct{})
	for _, s := range series {
		for _, r := range s.Returns {
			seen[r.Date] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return Calendar{dates: dates}
}

// Len returns the number of trading dates.
func (c Calendar) Len() int {
	return len(c.dates)
}

// Date returns the i-th trading date.
func (c Calendar) Date(i int) time.Time {
	return c.dates[i]
}

// indexAtOrBefore returns the largest index whose date is <= t, or -1.
func (c Calendar) indexAtOrBefore(t time.Time) int {
	idx := sort.Search(len(c.dates), func(i int) bool { return c.dates[i].After(t) })
	return idx - 1
}

// Window returns the inclusive [start, end] date bounds of the trailing
// windowDays trading days ending at or before the anchor. ok is false
// when no trading date precedes the anchor.
func (c Calendar) Window(anchor time.Time, windowDays int) (start, end time.Time, ok bool) {
	endIdx := c.indexAtOrBefore(anchor)
	if endIdx < 0 {
		return time.Time{}, time.Time{}, false
	}
	startIdx := endIdx - windowDays + 1
	if startIdx < 0 {
		startIdx = 0
	}
	return c.dates[startIdx], c.dates[endIdx], true
}
