package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// FitAndForecast fits model on history and returns len(history)+horizon
// points. Training dates keep the observed value in Value; future dates
// carry the prediction. An all-zero history yields an exact all-zero
// forecast without consulting the model.
//
// The fit runs under ctx; when ctx ends first the call returns a FitError
// wrapping ctx.Err().
func FitAndForecast(ctx context.Context, model Model, history timeline.QuarterlySeries, horizon int) (Series, error) {
	if horizon < 0 {
		return nil, fmt.Errorf("horizon must not be negative, got %d", horizon)
	}
	if len(history) == 0 {
		return nil, &FitError{Model: model.Name(), Err: ErrInsufficientData}
	}
	if history.AllZero() {
		return zeroForecast(history, horizon), nil
	}

	type fitResult struct {
		fitted Fitted
		err    error
	}
	done := make(chan fitResult, 1)
	go func() {
		f, err := model.Fit(ctx, history)
		done <- fitResult{fitted: f, err: err}
	}()

	var res fitResult
	select {
	case <-ctx.Done():
		return nil, &FitError{Model: model.Name(), Err: ctx.Err()}
	case res = <-done:
	}
	if res.err != nil {
		return nil, &FitError{Model: model.Name(), Err: res.err}
	}

	inSample := res.fitted.InSample()
	if len(inSample) != len(history) {
		return nil, &FitError{
			Model: model.Name(),
			Err:   fmt.Errorf("model returned %d in-sample estimates for %d points", len(inSample), len(history)),
		}
	}
	future := res.fitted.Predict(horizon)
	if len(future) != horizon {
		return nil, &FitError{
			Model: model.Name(),
			Err:   fmt.Errorf("model returned %d predictions for horizon %d", len(future), horizon),
		}
	}

	out := make(Series, 0, len(history)+horizon)
	for i, o := range history {
		e := inSample[i]
		out = append(out, Point{
			Date:      o.Date,
			Value:     o.Value,
			Predicted: e.Value,
			Lower:     e.Lower,
			Upper:     e.Upper,
			Actual:    true,
		})
	}
	for k, d := range timeline.FutureQuarterEnds(history[len(history)-1].Date, horizon) {
		e := future[k]
		out = append(out, Point{
			Date:      d,
			Value:     e.Value,
			Predicted: e.Value,
			Lower:     e.Lower,
			Upper:     e.Upper,
		})
	}
	return out, nil
}

func zeroForecast(history timeline.QuarterlySeries, horizon int) Series {
	out := make(Series, 0, len(history)+horizon)
	for _, o := range history {
		out = append(out, Point{Date: o.Date, Actual: true})
	}
	for _, d := range timeline.FutureQuarterEnds(history[len(history)-1].Date, horizon) {
		out = append(out, Point{Date: d})
	}
	return out
}

// Result describes which model produced a forecast
type Result struct {
	Series     Series
	Model      string
	FellBack   bool
	PrimaryErr error
}

// Forecaster runs a primary model and, when it fails, the fallback model
// exactly once. Each attempt gets its own Budget when Budget is positive.
type Forecaster struct {
	Primary  Model
	Fallback Model
	Budget   time.Duration
	Logger   *slog.Logger
}

// WithFallback builds a Forecaster. A nil fallback disables the retry.
func WithFallback(primary, fallback Model, budget time.Duration) *Forecaster {
	return &Forecaster{Primary: primary, Fallback: fallback, Budget: budget}
}

// Forecast runs the primary model, then the fallback if needed. The
// returned error wraps both failures when the fallback also fails.
func (f *Forecaster) Forecast(ctx context.Context, history timeline.QuarterlySeries, horizon int) (*Result, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	series, err := f.attempt(ctx, f.Primary, history, horizon)
	if err == nil {
		return &Result{Series: series, Model: f.Primary.Name()}, nil
	}
	if f.Fallback == nil || ctx.Err() != nil {
		return nil, err
	}

	logger.Warn("forecast fit failed, using fallback",
		"model", f.Primary.Name(),
		"fallback", f.Fallback.Name(),
		"error", err)

	series, fallbackErr := f.attempt(ctx, f.Fallback, history, horizon)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	return &Result{Series: series, Model: f.Fallback.Name(), FellBack: true, PrimaryErr: err}, nil
}

func (f *Forecaster) attempt(ctx context.Context, m Model, history timeline.QuarterlySeries, horizon int) (Series, error) {
	if f.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Budget)
		defer cancel()
	}
	return FitAndForecast(ctx, m, history, horizon)
}
