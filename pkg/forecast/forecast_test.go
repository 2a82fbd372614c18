package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

var window = timeline.DateRange{
	Start: time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
}

// seasonalHistory returns 20 quarters of 100 + 5t plus a fixed quarter effect
func seasonalHistory() timeline.QuarterlySeries {
	effects := map[int]float64{1: 0, 2: 10, 3: 30, 4: -5}
	grid := window.QuarterEnds()
	values := make([]float64, len(grid))
	for i, d := range grid {
		values[i] = 100 + 5*float64(i) + effects[quarterOf(d)]
	}
	return timeline.NewSeries(grid, values)
}

func TestTrendSeasonalRecoversExactModel(t *testing.T) {
	history := seasonalHistory()

	series, err := FitAndForecast(context.Background(), NewTrendSeasonal(), history, 4)
	require.NoError(t, err)
	require.Len(t, series, len(history)+4)

	for i, p := range series[:len(history)] {
		assert.True(t, p.Actual)
		assert.Equal(t, history[i].Value, p.Value)
		assert.InDelta(t, history[i].Value, p.Predicted, 1e-6)
	}

	// 2021Q1..Q4 continue the trend at t=20..23
	expected := []float64{200, 215, 240, 210}
	for k, p := range series[len(history):] {
		assert.False(t, p.Actual)
		assert.InDelta(t, expected[k], p.Value, 1e-6)
		assert.Equal(t, p.Value, p.Predicted)
		assert.LessOrEqual(t, p.Lower, p.Value)
		assert.GreaterOrEqual(t, p.Upper, p.Value)
	}
	assert.Equal(t, time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC), series[len(history)].Date)
	assert.Equal(t, time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC), series[len(series)-1].Date)
}

func TestTrendSeasonalInsufficientData(t *testing.T) {
	history := seasonalHistory()[:7]

	_, err := FitAndForecast(context.Background(), NewTrendSeasonal(), history, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFit)
	assert.ErrorIs(t, err, ErrInsufficientData)

	var fitErr *FitError
	require.True(t, errors.As(err, &fitErr))
	assert.Equal(t, "trend_seasonal", fitErr.Model)
}

func TestActualsNeverOverwritten(t *testing.T) {
	history := seasonalHistory()
	history[3].Value = 1e6

	for _, name := range []string{"trend_seasonal", "holt", "naive"} {
		t.Run(name, func(t *testing.T) {
			model, err := Lookup(name)
			require.NoError(t, err)

			series, err := FitAndForecast(context.Background(), model, history, DefaultHorizon)
			require.NoError(t, err)
			require.Len(t, series, len(history)+DefaultHorizon)
			for i := range history {
				assert.Equal(t, history[i].Value, series[i].Value)
				assert.Equal(t, history[i].Date, series[i].Date)
			}
		})
	}
}

func TestAllZeroHistoryShortCircuits(t *testing.T) {
	history := timeline.ZeroSeries(window)

	series, err := FitAndForecast(context.Background(), failingModel{}, history, 3)
	require.NoError(t, err)
	require.Len(t, series, len(history)+3)
	for _, p := range series {
		assert.Equal(t, 0.0, p.Value)
		assert.Equal(t, 0.0, p.Predicted)
		assert.Equal(t, 0.0, p.Lower)
		assert.Equal(t, 0.0, p.Upper)
	}
}

func TestNaiveAndHolt(t *testing.T) {
	history := timeline.NewSeries(window.QuarterEnds()[:3], []float64{10, 20, 30})

	series, err := FitAndForecast(context.Background(), Naive{}, history, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 30, 30}, series.Values())

	series, err = FitAndForecast(context.Background(), NewHolt(0.5, 0.3), history, 2)
	require.NoError(t, err)
	// A perfectly linear history keeps level and trend on the line.
	assert.InDelta(t, 40, series[3].Value, 1e-9)
	assert.InDelta(t, 50, series[4].Value, 1e-9)

	_, err = Naive{}.Fit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestFitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := FitAndForecast(ctx, slowModel{}, seasonalHistory(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFit)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestForecasterFallback(t *testing.T) {
	history := seasonalHistory()

	f := WithFallback(failingModel{}, Naive{}, time.Second)
	res, err := f.Forecast(context.Background(), history, 4)
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Equal(t, "naive", res.Model)
	assert.ErrorIs(t, res.PrimaryErr, ErrFit)
	assert.Len(t, res.Series, len(history)+4)

	f = WithFallback(NewTrendSeasonal(), Naive{}, 0)
	res, err = f.Forecast(context.Background(), history, 4)
	require.NoError(t, err)
	assert.False(t, res.FellBack)
	assert.Equal(t, "trend_seasonal", res.Model)
	assert.Nil(t, res.PrimaryErr)

	f = WithFallback(failingModel{}, failingModel{}, 0)
	_, err = f.Forecast(context.Background(), history, 4)
	assert.ErrorIs(t, err, ErrFit)

	f = WithFallback(slowModel{}, Naive{}, 5*time.Millisecond)
	res, err = f.Forecast(context.Background(), history, 1)
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.ErrorIs(t, res.PrimaryErr, context.DeadlineExceeded)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"holt", "naive", "trend_seasonal"}, Names())

	_, err := Lookup("prophet")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestTableCodec(t *testing.T) {
	series, err := FitAndForecast(context.Background(), NewTrendSeasonal(), seasonalHistory(), 2)
	require.NoError(t, err)

	tbl := series.Table()
	assert.Equal(t, []string{"y", "yhat", "yhat_lower", "yhat_upper", "actual"}, tbl.Names())

	back, err := FromTable(tbl)
	require.NoError(t, err)
	assert.Equal(t, series, back)
}

func TestFromTableRequiresY(t *testing.T) {
	series := Series{{Date: window.Start, Value: 1, Predicted: 1}}
	tbl := series.Table()
	tbl.Columns = tbl.Columns[1:]
	_, err := FromTable(tbl)
	assert.Error(t, err)

	tbl = series.Table()
	tbl.Columns = tbl.Columns[:1]
	back, err := FromTable(tbl)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(back[0].Predicted))
}

type failingModel struct{}

func (failingModel) Name() string { return "failing" }

func (failingModel) Fit(context.Context, timeline.QuarterlySeries) (Fitted, error) {
	return nil, errors.New("diverged")
}

type slowModel struct{}

func (slowModel) Name() string { return "slow" }

func (slowModel) Fit(ctx context.Context, _ timeline.QuarterlySeries) (Fitted, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
