package table

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlignment is matched by every *AlignmentError
	ErrAlignment = errors.New("series are not aligned")

	// ErrMissingInput is matched by every *MissingInputError
	ErrMissingInput = errors.New("missing input column")
)

// AlignmentError reports a column whose date index differs from the
// canonical one. Index is the first offending row.
type AlignmentError struct {
	Column string
	Index  int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("column %s is not aligned with the date index at row %d", e.Column, e.Index)
}

func (e *AlignmentError) Unwrap() error { return ErrAlignment }

// MissingInputError reports an input column a rule needed but did not find
type MissingInputError struct {
	Column string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input column %s", e.Column)
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// NamedSeries is one column before combination
type NamedSeries struct {
	Name   string
	Dates  []time.Time
	Values []float64
}

// DerivedColumn defines a column computed elementwise as the sum of Add
// minus the sum of Subtract.
type DerivedColumn struct {
	Name     string   `hcl:"name,label" yaml:"name"`
	Add      []string `hcl:"add" yaml:"add"`
	Subtract []string `hcl:"subtract,optional" yaml:"subtract"`
}

// Combine builds a wide table from individual series. The first series
// supplies the date index; every other series must match it exactly.
func Combine(series []NamedSeries) (*Table, error) {
	if len(series) == 0 {
		return nil, errors.New("combine: no series")
	}

	t := New(series[0].Dates)
	for _, s := range series {
		if len(s.Values) != len(s.Dates) {
			return nil, &AlignmentError{Column: s.Name, Index: firstIndexBeyond(len(s.Dates), len(s.Values))}
		}
		if idx := firstMismatch(t.Dates, s.Dates); idx >= 0 {
			return nil, &AlignmentError{Column: s.Name, Index: idx}
		}
		if t.Has(s.Name) {
			return nil, fmt.Errorf("combine: duplicate column %s", s.Name)
		}
		if err := t.Set(s.Name, s.Values); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func firstIndexBeyond(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Derive appends (or replaces) a derived column
func Derive(t *Table, rule DerivedColumn) error {
	values := make([]float64, t.Len())
	apply := func(names []string, sign float64) error {
		for _, name := range names {
			col, ok := t.Column(name)
			if !ok {
				return &MissingInputError{Column: name}
			}
			for i, v := range col {
				values[i] += sign * v
			}
		}
		return nil
	}
	if err := apply(rule.Add, 1); err != nil {
		return fmt.Errorf("derive %s: %w", rule.Name, err)
	}
	if err := apply(rule.Subtract, -1); err != nil {
		return fmt.Errorf("derive %s: %w", rule.Name, err)
	}
	return t.Set(rule.Name, values)
}

// WithTotal sets column name to the row-wise sum of every other column not
// listed in exclude. An existing column called name is never summed into
// itself.
func WithTotal(t *Table, name string, exclude ...string) error {
	skip := map[string]bool{name: true}
	for _, e := range exclude {
		skip[e] = true
	}

	totals := make([]float64, t.Len())
	for _, c := range t.Columns {
		if skip[c.Name] {
			continue
		}
		for i, v := range c.Values {
			totals[i] += v
		}
	}
	return t.Set(name, totals)
}

// Select projects the named columns in the given order
func Select(t *Table, names []string) (*Table, error) {
	out := &Table{
		Dates:     append([]time.Time(nil), t.Dates...),
		LabelName: t.LabelName,
		Labels:    append([]string(nil), t.Labels...),
	}
	for _, name := range names {
		col, ok := t.Column(name)
		if !ok {
			return nil, &MissingInputError{Column: name}
		}
		out.Columns = append(out.Columns, Column{Name: name, Values: append([]float64(nil), col...)})
	}
	return out, nil
}

// Split returns one series per column. Combine(Split(t)) reproduces t.
func Split(t *Table) []NamedSeries {
	series := make([]NamedSeries, len(t.Columns))
	for i, c := range t.Columns {
		series[i] = NamedSeries{
			Name:   c.Name,
			Dates:  append([]time.Time(nil), t.Dates...),
			Values: append([]float64(nil), c.Values...),
		}
	}
	return series
}

// Labelled pairs a table with the label its rows receive when concatenated
type Labelled struct {
	Label string
	Table *Table
}

// Concat stacks tables vertically in the given order and tags every row with
// its label under labelName. Columns come from the first table; later tables
// must carry at least those columns.
func Concat(parts []Labelled, labelName string) (*Table, error) {
	out := &Table{LabelName: labelName}
	if len(parts) == 0 {
		return out, nil
	}

	names := parts[0].Table.Names()
	for _, name := range names {
		out.Columns = append(out.Columns, Column{Name: name})
	}

	for _, p := range parts {
		for j, name := range names {
			col, ok := p.Table.Column(name)
			if !ok {
				return nil, fmt.Errorf("concat %s: %w", p.Label, &MissingInputError{Column: name})
			}
			out.Columns[j].Values = append(out.Columns[j].Values, col...)
		}
		out.Dates = append(out.Dates, p.Table.Dates...)
		for range p.Table.Dates {
			out.Labels = append(out.Labels, p.Label)
		}
	}
	return out, nil
}

// Filter returns the rows whose label equals label
func Filter(t *Table, label string) *Table {
	out := &Table{}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, Column{Name: c.Name})
	}
	for i, l := range t.Labels {
		if l != label {
			continue
		}
		out.Dates = append(out.Dates, t.Dates[i])
		for j := range t.Columns {
			out.Columns[j].Values = append(out.Columns[j].Values, t.Columns[j].Values[i])
		}
	}
	return out
}
