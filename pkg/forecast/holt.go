package forecast

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// Holt is double exponential smoothing with additive trend
type Holt struct {
	Alpha float64
	Beta  float64
	Z     float64
}

// NewHolt creates a Holt model. Out-of-range parameters fall back to 0.5
// and 0.3.
func NewHolt(alpha, beta float64) *Holt {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.5
	}
	if beta <= 0 || beta > 1 {
		beta = 0.3
	}
	return &Holt{Alpha: alpha, Beta: beta, Z: defaultZ}
}

// Name returns the registry name
func (m *Holt) Name() string {
	return "holt"
}

// Fit runs the smoothing recursion over history
func (m *Holt) Fit(ctx context.Context, history timeline.QuarterlySeries) (Fitted, error) {
	y := history.Values()
	if len(y) < 2 {
		return nil, fmt.Errorf("%w: need 2, have %d", ErrInsufficientData, len(y))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	level := y[0]
	trend := y[1] - y[0]
	fitted := make([]float64, len(y))
	residuals := make([]float64, len(y))
	fitted[0] = y[0]
	for i := 1; i < len(y); i++ {
		fitted[i] = level + trend
		residuals[i] = y[i] - fitted[i]
		prev := level
		level = m.Alpha*y[i] + (1-m.Alpha)*(level+trend)
		trend = m.Beta*(level-prev) + (1-m.Beta)*trend
	}

	return &smoothingFit{
		fitted: fitted,
		sigma:  stat.StdDev(residuals, nil),
		z:      m.Z,
		next: func(k int) float64 {
			return level + float64(k)*trend
		},
	}, nil
}

// smoothingFit serves both Holt and Naive fits
type smoothingFit struct {
	fitted []float64
	sigma  float64
	z      float64
	next   func(step int) float64
}

func (f *smoothingFit) InSample() []Estimate {
	out := make([]Estimate, len(f.fitted))
	width := f.z * f.sigma
	for i, v := range f.fitted {
		out[i] = Estimate{Value: v, Lower: v - width, Upper: v + width}
	}
	return out
}

func (f *smoothingFit) Predict(horizon int) []Estimate {
	out := make([]Estimate, horizon)
	for k := 0; k < horizon; k++ {
		v := f.next(k + 1)
		width := f.z * f.sigma * math.Sqrt(float64(k+1))
		out[k] = Estimate{Value: v, Lower: v - width, Upper: v + width}
	}
	return out
}
