package forecast

import (
	"math"

	"github.com/leowmjw/go-temporal-emissions/pkg/table"
)

// Column names of a persisted individual forecast
const (
	ColumnValue     = "y"
	ColumnPredicted = "yhat"
	ColumnLower     = "yhat_lower"
	ColumnUpper     = "yhat_upper"
	ColumnActual    = "actual"
)

// Table renders the forecast in its persisted column layout
func (s Series) Table() *table.Table {
	t := table.New(s.Dates())
	y := make([]float64, len(s))
	yhat := make([]float64, len(s))
	lower := make([]float64, len(s))
	upper := make([]float64, len(s))
	actual := make([]float64, len(s))
	for i, p := range s {
		y[i], yhat[i], lower[i], upper[i] = p.Value, p.Predicted, p.Lower, p.Upper
		if p.Actual {
			actual[i] = 1
		}
	}
	// Lengths match the index by construction.
	_ = t.Set(ColumnValue, y)
	_ = t.Set(ColumnPredicted, yhat)
	_ = t.Set(ColumnLower, lower)
	_ = t.Set(ColumnUpper, upper)
	_ = t.Set(ColumnActual, actual)
	return t
}

// FromTable reads a persisted forecast. Only the y column is required;
// absent estimate columns read as NaN.
func FromTable(t *table.Table) (Series, error) {
	y, ok := t.Column(ColumnValue)
	if !ok {
		return nil, &table.MissingInputError{Column: ColumnValue}
	}
	col := func(name string) []float64 {
		if v, ok := t.Column(name); ok {
			return v
		}
		v := make([]float64, t.Len())
		for i := range v {
			v[i] = math.NaN()
		}
		return v
	}
	yhat, lower, upper := col(ColumnPredicted), col(ColumnLower), col(ColumnUpper)
	actual, _ := t.Column(ColumnActual)

	out := make(Series, t.Len())
	for i, d := range t.Dates {
		out[i] = Point{Date: d, Value: y[i], Predicted: yhat[i], Lower: lower[i], Upper: upper[i]}
		if actual != nil {
			out[i].Actual = actual[i] == 1
		}
	}
	return out, nil
}
