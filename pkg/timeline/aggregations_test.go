package timeline

import (
	"math"
	"testing"
	"time"
)

func TestResampleYearly(t *testing.T) {
	dates := []time.Time{
		date(2020, 3, 31), date(2020, 6, 30), date(2020, 9, 30), date(2020, 12, 31),
		date(2021, 3, 31), date(2021, 6, 30),
	}
	values := []float64{10, 20, 30, 40, 5, 15}

	tests := []struct {
		name     string
		aggType  AggregationType
		expected []float64
	}{
		{"sum", Sum, []float64{100, 20}},
		{"avg", Avg, []float64{25, 10}},
		{"min", Min, []float64{10, 5}},
		{"max", Max, []float64{40, 15}},
		{"last", Last, []float64{40, 15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outDates, outValues, err := Resample(dates, values, Yearly, tt.aggType)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(outDates) != 2 {
				t.Fatalf("Expected 2 buckets, got %d", len(outDates))
			}
			if !outDates[0].Equal(date(2020, 12, 31)) || !outDates[1].Equal(date(2021, 12, 31)) {
				t.Errorf("Unexpected bucket labels: %v", outDates)
			}
			for i := range tt.expected {
				if math.Abs(outValues[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("Bucket %d: expected %f, got %f", i, tt.expected[i], outValues[i])
				}
			}
		})
	}
}

func TestResampleSkipsNaN(t *testing.T) {
	dates := []time.Time{date(2020, 3, 31), date(2020, 6, 30), date(2021, 3, 31)}
	values := []float64{math.NaN(), 4, math.NaN()}

	_, outValues, err := Resample(dates, values, Yearly, Avg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if outValues[0] != 4 {
		t.Errorf("Expected NaN to be skipped, got %f", outValues[0])
	}
	if !math.IsNaN(outValues[1]) {
		t.Errorf("Expected all-NaN bucket to be NaN, got %f", outValues[1])
	}
}

func TestResampleQuarterlyIsCopy(t *testing.T) {
	dates := []time.Time{date(2020, 3, 31)}
	values := []float64{1}

	_, outValues, err := Resample(dates, values, Quarterly, Sum)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	outValues[0] = 99
	if values[0] != 1 {
		t.Error("Quarterly resample must not alias the input")
	}
}

func TestResampleErrors(t *testing.T) {
	if _, _, err := Resample([]time.Time{date(2020, 3, 31)}, nil, Yearly, Sum); err == nil {
		t.Error("Expected error for length mismatch")
	}
	if _, _, err := Resample(nil, nil, Granularity("decade"), Sum); err == nil {
		t.Error("Expected error for unknown granularity")
	}
	if _, _, err := Resample([]time.Time{date(2020, 3, 31)}, []float64{1}, Yearly, AggregationType("p99")); err == nil {
		t.Error("Expected error for unknown aggregation")
	}
}

func TestParseGranularity(t *testing.T) {
	for _, s := range []string{"", "quarter", "q"} {
		if g, err := ParseGranularity(s); err != nil || g != Quarterly {
			t.Errorf("ParseGranularity(%q) = %q, %v", s, g, err)
		}
	}
	for _, s := range []string{"year", "annual", "y"} {
		if g, err := ParseGranularity(s); err != nil || g != Yearly {
			t.Errorf("ParseGranularity(%q) = %q, %v", s, g, err)
		}
	}
	if _, err := ParseGranularity("week"); err == nil {
		t.Error("Expected error for unsupported granularity")
	}
}
