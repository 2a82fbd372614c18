package timeline

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestQuarterEnd(t *testing.T) {
	tests := []struct {
		in       time.Time
		expected time.Time
	}{
		{date(2020, 1, 1), date(2020, 3, 31)},
		{date(2020, 3, 31), date(2020, 3, 31)},
		{date(2020, 4, 15), date(2020, 6, 30)},
		{date(2020, 8, 1), date(2020, 9, 30)},
		{date(2020, 12, 31), date(2020, 12, 31)},
		{date(2020, 2, 29), date(2020, 3, 31)},
	}

	for _, tt := range tests {
		got := QuarterEnd(tt.in)
		if !got.Equal(tt.expected) {
			t.Errorf("QuarterEnd(%s) = %s, expected %s", tt.in.Format(DateFormat), got.Format(DateFormat), tt.expected.Format(DateFormat))
		}
	}
}

func TestNextQuarterEnd(t *testing.T) {
	if got := NextQuarterEnd(date(2020, 12, 31)); !got.Equal(date(2021, 3, 31)) {
		t.Errorf("Expected 2021-03-31, got %s", got.Format(DateFormat))
	}
	if got := NextQuarterEnd(date(2021, 3, 31)); !got.Equal(date(2021, 6, 30)) {
		t.Errorf("Expected 2021-06-30, got %s", got.Format(DateFormat))
	}
}

func TestDefaultWindowQuarters(t *testing.T) {
	grid := DefaultWindow.QuarterEnds()
	if len(grid) != 84 {
		t.Fatalf("Expected 84 quarters in 2001..2021, got %d", len(grid))
	}
	if !grid[0].Equal(date(2001, 3, 31)) {
		t.Errorf("First quarter-end should be 2001-03-31, got %s", grid[0].Format(DateFormat))
	}
	if !grid[len(grid)-1].Equal(date(2021, 12, 31)) {
		t.Errorf("Last quarter-end should be 2021-12-31, got %s", grid[len(grid)-1].Format(DateFormat))
	}
	for i := 1; i < len(grid); i++ {
		if !grid[i].After(grid[i-1]) {
			t.Errorf("Grid not strictly increasing at %d", i)
		}
	}
}

func TestDateRangeExclusiveEnd(t *testing.T) {
	r := DateRange{Start: date(2020, 1, 1), End: date(2020, 12, 31)}
	if r.Quarters() != 3 {
		t.Errorf("Expected 3 quarters when end equals the Q4 quarter-end, got %d", r.Quarters())
	}

	r = DateRange{Start: date(2020, 2, 1), End: date(2021, 1, 1)}
	if r.Quarters() != 4 {
		t.Errorf("Expected 4 quarters, got %d", r.Quarters())
	}
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2020-01-01", "2021-01-01")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.Quarters() != 4 {
		t.Errorf("Expected 4 quarters, got %d", r.Quarters())
	}

	if _, err := ParseDateRange("2021-01-01", "2020-01-01"); err == nil {
		t.Error("Expected error for inverted range")
	}
	if _, err := ParseDateRange("2020-01-01", "2020-02-01"); err == nil {
		t.Error("Expected error for range without a quarter-end")
	}
	if _, err := ParseDateRange("not-a-date", "2020-02-01"); err == nil {
		t.Error("Expected error for malformed date")
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		label    string
		expected time.Time
		wantErr  bool
	}{
		{"2021Q3", date(2021, 9, 30), false},
		{"2021Q1", date(2021, 3, 31), false},
		{"2020q4", date(2020, 12, 31), false},
		{"2019-Q2", date(2019, 6, 30), false},
		{"2021Q5", time.Time{}, true},
		{"2021", time.Time{}, true},
		{"Q3", time.Time{}, true},
		{"20X1Q3", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParsePeriod(tt.label)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.label)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("Expected %s, got %s", tt.expected.Format(DateFormat), got.Format(DateFormat))
			}
		})
	}
}

func TestFormatPeriodRoundTrip(t *testing.T) {
	for _, q := range DefaultWindow.QuarterEnds() {
		got, err := ParsePeriod(FormatPeriod(q))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !got.Equal(q) {
			t.Errorf("Round trip of %s gave %s", q.Format(DateFormat), got.Format(DateFormat))
		}
	}
}

func TestFutureQuarterEnds(t *testing.T) {
	dates := FutureQuarterEnds(date(2021, 12, 31), 3)
	expected := []time.Time{date(2022, 3, 31), date(2022, 6, 30), date(2022, 9, 30)}
	if len(dates) != len(expected) {
		t.Fatalf("Expected %d dates, got %d", len(expected), len(dates))
	}
	for i := range expected {
		if !dates[i].Equal(expected[i]) {
			t.Errorf("Date %d: expected %s, got %s", i, expected[i].Format(DateFormat), dates[i].Format(DateFormat))
		}
	}
}
