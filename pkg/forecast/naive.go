package forecast

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// Naive repeats the last observed value. It fits any non-empty history.
type Naive struct{}

// Name returns the registry name
func (Naive) Name() string {
	return "naive"
}

// Fit records the last value and the spread of quarter-on-quarter changes
func (Naive) Fit(ctx context.Context, history timeline.QuarterlySeries) (Fitted, error) {
	y := history.Values()
	if len(y) == 0 {
		return nil, fmt.Errorf("%w: need 1, have 0", ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fitted := make([]float64, len(y))
	fitted[0] = y[0]
	var diffs []float64
	for i := 1; i < len(y); i++ {
		fitted[i] = y[i-1]
		diffs = append(diffs, y[i]-y[i-1])
	}

	sigma := 0.0
	if len(diffs) > 1 {
		sigma = stat.StdDev(diffs, nil)
	}
	last := y[len(y)-1]
	return &smoothingFit{
		fitted: fitted,
		sigma:  sigma,
		z:      defaultZ,
		next:   func(int) float64 { return last },
	}, nil
}
