package timeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var window2020 = DateRange{Start: date(2020, 1, 1), End: date(2021, 1, 1)}

func TestNormalizeImputeScenario(t *testing.T) {
	raw := []byte(`{"series":[{"data":[["2020Q3",50],["2020Q1",100]]}]}`)

	series, err := Normalize(raw, window2020)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, date(2020, 3, 31), series[0].Date)
	assert.Equal(t, date(2020, 9, 30), series[1].Date)

	imputed := Impute(series, window2020)
	expected := QuarterlySeries{
		{Date: date(2020, 3, 31), Value: 100},
		{Date: date(2020, 6, 30), Value: 0},
		{Date: date(2020, 9, 30), Value: 50},
		{Date: date(2020, 12, 31), Value: 0},
	}
	assert.Equal(t, expected, imputed)
	assert.True(t, imputed.IsComplete(window2020))
}

func TestNormalizeErrorEnvelope(t *testing.T) {
	twoQuarters := DateRange{Start: date(2020, 1, 1), End: date(2020, 7, 1)}
	raw := []byte(`{"request":{"series_id":"ELEC.GEN.SUN-XX-99.Q"},"data":{"error":"invalid series_id. For key registration, documentation, and examples see https://www.eia.gov/developer/"}}`)

	series, err := Normalize(raw, twoQuarters)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamData))

	var upstream *UpstreamDataError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "ELEC.GEN.SUN-XX-99.Q", upstream.SeriesID)

	assert.Equal(t, QuarterlySeries{
		{Date: date(2020, 3, 31), Value: 0},
		{Date: date(2020, 6, 30), Value: 0},
	}, series)
}

func TestNormalizeErrorEnvelopeIgnoresPayloadValues(t *testing.T) {
	// A response that carries both data and an error marker is still an error.
	raw := []byte(`{"series":[{"data":[["2020Q1",999]]}],"data":{"error":"rate limited"}}`)

	series, err := NormalizeAndImpute(raw, window2020)
	require.ErrorIs(t, err, ErrUpstreamData)
	require.Len(t, series, 4)
	for _, o := range series {
		assert.Equal(t, 0.0, o.Value)
	}
}

func TestNormalizeNullAndStringValues(t *testing.T) {
	raw := []byte(`{"series":[{"data":[["2020Q4","12.5"],["2020Q3",null],["2020Q2","--"],["2020Q1",7]]}]}`)

	series, err := Normalize(raw, window2020)
	require.NoError(t, err)
	require.Len(t, series, 4)

	assert.Equal(t, 7.0, series[0].Value)
	assert.True(t, series[1].Missing)
	assert.True(t, series[2].Missing)
	assert.Equal(t, 12.5, series[3].Value)

	imputed := Impute(series, window2020)
	assert.Equal(t, []float64{7, 0, 0, 12.5}, imputed.Values())
	for _, o := range imputed {
		assert.False(t, o.Missing)
	}
}

func TestNormalizeRetainsOutOfWindowPeriods(t *testing.T) {
	raw := []byte(`{"series":[{"data":[["2025Q1",1],["2020Q2",2],["1999Q4",3]]}]}`)

	series, err := Normalize(raw, window2020)
	require.NoError(t, err)
	assert.Len(t, series, 3)

	imputed := Impute(series, window2020)
	assert.Equal(t, []float64{0, 2, 0, 0}, imputed.Values())
}

func TestNormalizeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `<html>`},
		{"no series", `{"series":[]}`},
		{"bad label", `{"series":[{"data":[["2020-03",1]]}]}`},
		{"short entry", `{"series":[{"data":[["2020Q1"]]}]}`},
		{"bad value", `{"series":[{"data":[["2020Q1",{"x":1}]]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.raw), window2020)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.NotErrorIs(t, err, ErrUpstreamData)
		})
	}
}

func TestImputeLengthInvariant(t *testing.T) {
	windows := []DateRange{
		window2020,
		DefaultWindow,
		{Start: date(2010, 5, 17), End: date(2013, 2, 1)},
	}
	inputs := map[string]QuarterlySeries{
		"empty":  nil,
		"sparse": {{Date: date(2011, 6, 30), Value: 3}, {Date: date(2020, 9, 30), Missing: true}},
		"full":   ZeroSeries(DefaultWindow),
	}

	for _, w := range windows {
		for name, in := range inputs {
			t.Run(fmt.Sprintf("%s/%s", w, name), func(t *testing.T) {
				out := Impute(in, w)
				assert.Len(t, out, w.Quarters())
				assert.True(t, out.IsComplete(w))
			})
		}
	}
}

func TestImputeDuplicateDatesLastWins(t *testing.T) {
	in := QuarterlySeries{
		{Date: date(2020, 3, 31), Value: 1},
		{Date: date(2020, 3, 31), Value: 2},
	}
	out := Impute(in, window2020)
	assert.Equal(t, 2.0, out[0].Value)
}
