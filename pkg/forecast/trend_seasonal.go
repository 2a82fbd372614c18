package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// z-score of an 80% two-sided interval
const defaultZ = 1.2816

// TrendSeasonal is an additive linear trend plus quarter-of-year effect
// fitted by ordinary least squares:
//
//	y(t) = b0 + b1*t + s2*Q2(t) + s3*Q3(t) + s4*Q4(t)
//
// Intervals are +/- Z residual standard deviations, widening with the
// square root of the step for out-of-sample points.
type TrendSeasonal struct {
	MinObservations int
	Z               float64
}

// NewTrendSeasonal returns the model with its default settings
func NewTrendSeasonal() *TrendSeasonal {
	return &TrendSeasonal{MinObservations: 8, Z: defaultZ}
}

// Name returns the registry name
func (m *TrendSeasonal) Name() string {
	return "trend_seasonal"
}

// Fit solves the least squares problem for history
func (m *TrendSeasonal) Fit(ctx context.Context, history timeline.QuarterlySeries) (Fitted, error) {
	n := len(history)
	if n < m.MinObservations {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientData, m.MinObservations, n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x := mat.NewDense(n, 5, nil)
	for i, o := range history {
		setDesignRow(x, i, float64(i), quarterOf(o.Date))
	}
	y := mat.NewVecDense(n, history.Values())

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, fmt.Errorf("least squares: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	var residuals mat.VecDense
	residuals.SubVec(y, &fitted)

	return &trendSeasonalFit{
		beta:     &beta,
		fitted:   fitted.RawVector().Data,
		sigma:    stat.StdDev(residuals.RawVector().Data, nil),
		z:        m.Z,
		n:        n,
		lastDate: history[n-1].Date,
	}, nil
}

type trendSeasonalFit struct {
	beta     *mat.VecDense
	fitted   []float64
	sigma    float64
	z        float64
	n        int
	lastDate time.Time
}

func (f *trendSeasonalFit) InSample() []Estimate {
	out := make([]Estimate, len(f.fitted))
	width := f.z * f.sigma
	for i, v := range f.fitted {
		out[i] = Estimate{Value: v, Lower: v - width, Upper: v + width}
	}
	return out
}

func (f *trendSeasonalFit) Predict(horizon int) []Estimate {
	out := make([]Estimate, horizon)
	row := mat.NewDense(1, 5, nil)
	for k, d := range timeline.FutureQuarterEnds(f.lastDate, horizon) {
		row.Zero()
		setDesignRow(row, 0, float64(f.n+k), quarterOf(d))
		v := mat.Dot(row.RowView(0), f.beta)
		width := f.z * f.sigma * math.Sqrt(float64(k+1))
		out[k] = Estimate{Value: v, Lower: v - width, Upper: v + width}
	}
	return out
}

func setDesignRow(x *mat.Dense, i int, t float64, quarter int) {
	x.Set(i, 0, 1)
	x.Set(i, 1, t)
	// Q1 is the baseline; Q2..Q4 occupy columns 2..4.
	if quarter > 1 {
		x.Set(i, quarter, 1)
	}
}

func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}
