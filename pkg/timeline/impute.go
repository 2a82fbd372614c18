package timeline

import (
	"time"
)

// Impute produces a complete series over window.
//
// Missing values at existing points become 0, then the series is reindexed
// onto the quarter-end grid: absent quarters become 0 and points outside the
// grid are dropped. When a date appears twice the later point wins.
//
// Observed zeros and never-reported quarters are indistinguishable in the
// result.
func Impute(series QuarterlySeries, window DateRange) QuarterlySeries {
	byDate := make(map[time.Time]float64, len(series))
	for _, o := range series {
		value := o.Value
		if o.Missing {
			value = 0
		}
		byDate[o.Date.UTC()] = value
	}

	grid := window.QuarterEnds()
	out := make(QuarterlySeries, len(grid))
	for i, q := range grid {
		out[i] = Observation{Date: q, Value: byDate[q]}
	}
	return out
}

// NormalizeAndImpute runs Normalize followed by Impute. An upstream error is
// returned alongside the complete zero series so the caller can log it.
func NormalizeAndImpute(raw []byte, window DateRange) (QuarterlySeries, error) {
	series, err := Normalize(raw, window)
	if series == nil {
		return nil, err
	}
	return Impute(series, window), err
}
