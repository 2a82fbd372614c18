// Package forecast fits univariate quarterly models and projects them
// forward. Models are pluggable through the Model capability and a named
// registry; FitAndForecast applies the merge rule that keeps observed values
// in the history window.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// DefaultHorizon is the number of future quarters forecast per series
const DefaultHorizon = 12

var (
	// ErrFit is matched by every *FitError
	ErrFit = errors.New("forecast fit failed")

	// ErrInsufficientData is returned by models that need more history
	ErrInsufficientData = errors.New("insufficient data points")

	// ErrUnknownModel is returned by Lookup for unregistered names
	ErrUnknownModel = errors.New("unknown forecast model")
)

// FitError wraps a model failure with the model's name
type FitError struct {
	Model string
	Err   error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *FitError) Unwrap() []error { return []error{ErrFit, e.Err} }

// Estimate is a point estimate with its uncertainty interval
type Estimate struct {
	Value float64
	Lower float64
	Upper float64
}

// Model is the forecasting capability. Fit must honour ctx cancellation.
type Model interface {
	Name() string
	Fit(ctx context.Context, history timeline.QuarterlySeries) (Fitted, error)
}

// Fitted is a trained model
type Fitted interface {
	// InSample returns one estimate per training point
	InSample() []Estimate
	// Predict returns estimates for the next horizon quarters
	Predict(horizon int) []Estimate
}

// Point is one row of a forecast. Value is the merged column: the observed
// value on training dates and the prediction afterwards.
type Point struct {
	Date      time.Time `json:"date"`
	Value     float64   `json:"y"`
	Predicted float64   `json:"yhat"`
	Lower     float64   `json:"yhat_lower"`
	Upper     float64   `json:"yhat_upper"`
	Actual    bool      `json:"actual"`
}

// Series is a complete forecast covering history and horizon
type Series []Point

// Dates returns the point dates in order
func (s Series) Dates() []time.Time {
	dates := make([]time.Time, len(s))
	for i, p := range s {
		dates[i] = p.Date
	}
	return dates
}

// Values returns the merged values in order
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}
