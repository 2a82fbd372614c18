package timeline

import (
	"fmt"
	"math"
	"time"
)

// AggregationType represents how values inside a resample bucket are combined
type AggregationType string

const (
	Sum  AggregationType = "sum"
	Avg  AggregationType = "avg"
	Min  AggregationType = "min"
	Max  AggregationType = "max"
	Last AggregationType = "last"
)

// Granularity is the bucket size used when resampling quarterly data
type Granularity string

const (
	Quarterly Granularity = "quarter"
	Yearly    Granularity = "year"
)

// ParseGranularity accepts the names used by the read API
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "", "q", "quarter", "quarterly":
		return Quarterly, nil
	case "y", "a", "year", "yearly", "annual":
		return Yearly, nil
	default:
		return "", fmt.Errorf("unknown resample granularity %q", s)
	}
}

// Resample buckets parallel date/value slices by granularity. Each bucket is
// labelled with its last calendar day. NaN values are skipped; a bucket with
// only NaN values yields NaN.
func Resample(dates []time.Time, values []float64, g Granularity, agg AggregationType) ([]time.Time, []float64, error) {
	if len(dates) != len(values) {
		return nil, nil, fmt.Errorf("resample: %d dates but %d values", len(dates), len(values))
	}
	if g == Quarterly {
		return append([]time.Time(nil), dates...), append([]float64(nil), values...), nil
	}
	if g != Yearly {
		return nil, nil, fmt.Errorf("resample: unsupported granularity %q", g)
	}

	var outDates []time.Time
	var outValues []float64
	var bucket []float64
	var current time.Time

	flush := func() error {
		if current.IsZero() {
			return nil
		}
		v, err := aggregate(bucket, agg)
		if err != nil {
			return err
		}
		outDates = append(outDates, current)
		outValues = append(outValues, v)
		bucket = bucket[:0]
		return nil
	}

	for i, d := range dates {
		label := time.Date(d.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
		if !label.Equal(current) {
			if err := flush(); err != nil {
				return nil, nil, err
			}
			current = label
		}
		bucket = append(bucket, values[i])
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	return outDates, outValues, nil
}

func aggregate(values []float64, agg AggregationType) (float64, error) {
	var present []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return math.NaN(), nil
	}

	switch agg {
	case Sum:
		return sumValues(present), nil
	case Avg:
		return sumValues(present) / float64(len(present)), nil
	case Min:
		m := present[0]
		for _, v := range present[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	case Max:
		m := present[0]
		for _, v := range present[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	case Last:
		return present[len(present)-1], nil
	default:
		return 0, fmt.Errorf("unknown aggregation %q", agg)
	}
}

func sumValues(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}
