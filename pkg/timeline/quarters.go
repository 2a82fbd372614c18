package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the ISO date layout used in persisted tables and configuration
const DateFormat = "2006-01-02"

// DateRange is a half-open interval [Start, End). The quarter grid of a range
// is every quarter-end q with Start <= q < End.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultWindow covers 2001Q1 through 2021Q4
var DefaultWindow = DateRange{
	Start: time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC),
}

// ParseDateRange parses two ISO dates into a range
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateFormat, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid window start %q: %w", start, err)
	}
	e, err := time.Parse(DateFormat, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid window end %q: %w", end, err)
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate checks that the range contains at least one quarter-end
func (r DateRange) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("window start %s must be before end %s", r.Start.Format(DateFormat), r.End.Format(DateFormat))
	}
	if r.Quarters() == 0 {
		return fmt.Errorf("window %s..%s contains no quarter-end", r.Start.Format(DateFormat), r.End.Format(DateFormat))
	}
	return nil
}

// QuarterEnds returns the canonical grid for the range
func (r DateRange) QuarterEnds() []time.Time {
	var grid []time.Time
	for q := QuarterEnd(r.Start); q.Before(r.End); q = NextQuarterEnd(q) {
		grid = append(grid, q)
	}
	return grid
}

// Quarters returns the number of quarter-ends in the range
func (r DateRange) Quarters() int {
	return len(r.QuarterEnds())
}

// String renders the range as start..end
func (r DateRange) String() string {
	return r.Start.Format(DateFormat) + ".." + r.End.Format(DateFormat)
}

// QuarterEnd returns the last calendar day of the quarter containing t, in UTC
func QuarterEnd(t time.Time) time.Time {
	t = t.UTC()
	lastMonth := time.Month(((int(t.Month())-1)/3)*3 + 3)
	// Day 0 of the following month is the last day of lastMonth.
	return time.Date(t.Year(), lastMonth+1, 0, 0, 0, 0, 0, time.UTC)
}

// NextQuarterEnd returns the quarter-end following q
func NextQuarterEnd(q time.Time) time.Time {
	firstOfNext := time.Date(q.Year(), q.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return QuarterEnd(firstOfNext)
}

// FutureQuarterEnds returns n successive quarter-ends after last
func FutureQuarterEnds(last time.Time, n int) []time.Time {
	dates := make([]time.Time, 0, n)
	q := QuarterEnd(last)
	for i := 0; i < n; i++ {
		q = NextQuarterEnd(q)
		dates = append(dates, q)
	}
	return dates
}

// ParsePeriod converts a provider label such as "2021Q3" to its quarter-end
// date (2021-09-30). A "2021-Q3" spelling is also accepted.
func ParsePeriod(label string) (time.Time, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	idx := strings.Index(s, "Q")
	if idx <= 0 || idx != len(s)-2 {
		return time.Time{}, fmt.Errorf("invalid quarter label %q", label)
	}
	year, err := strconv.Atoi(strings.TrimSuffix(s[:idx], "-"))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid quarter label %q: %w", label, err)
	}
	quarter := int(s[idx+1] - '0')
	if quarter < 1 || quarter > 4 {
		return time.Time{}, fmt.Errorf("invalid quarter label %q: quarter out of range", label)
	}
	return QuarterEnd(time.Date(year, time.Month(quarter*3), 1, 0, 0, 0, 0, time.UTC)), nil
}

// FormatPeriod renders a date as its provider quarter label
func FormatPeriod(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
}
