package timeline

import (
	"time"
)

// Observation is a single quarterly value. Missing marks a point the provider
// reported without a value; it never survives imputation.
type Observation struct {
	Date    time.Time `json:"date"`
	Value   float64   `json:"value"`
	Missing bool      `json:"missing,omitempty"`
}

// QuarterlySeries is an ordered list of quarter-end observations
type QuarterlySeries []Observation

// Dates returns the observation dates in order
func (s QuarterlySeries) Dates() []time.Time {
	dates := make([]time.Time, len(s))
	for i, o := range s {
		dates[i] = o.Date
	}
	return dates
}

// Values returns the observation values in order. Missing points report 0.
func (s QuarterlySeries) Values() []float64 {
	values := make([]float64, len(s))
	for i, o := range s {
		if !o.Missing {
			values[i] = o.Value
		}
	}
	return values
}

// IsComplete reports whether s has exactly one non-missing point for every
// quarter-end of window, in increasing order.
func (s QuarterlySeries) IsComplete(window DateRange) bool {
	grid := window.QuarterEnds()
	if len(grid) != len(s) {
		return false
	}
	for i, q := range grid {
		if !s[i].Date.Equal(q) || s[i].Missing {
			return false
		}
	}
	return true
}

// AllZero reports whether every value in s is zero (missing counts as zero)
func (s QuarterlySeries) AllZero() bool {
	for _, o := range s {
		if !o.Missing && o.Value != 0 {
			return false
		}
	}
	return true
}

// NewSeries builds a series from parallel date and value slices
func NewSeries(dates []time.Time, values []float64) QuarterlySeries {
	n := len(dates)
	if len(values) < n {
		n = len(values)
	}
	s := make(QuarterlySeries, n)
	for i := 0; i < n; i++ {
		s[i] = Observation{Date: dates[i], Value: values[i]}
	}
	return s
}
