// Package table holds date-indexed wide tables: one shared quarter-end index
// and any number of named float columns. Combined forecasts, emissions and
// the all-entity reports are all tables.
package table

import (
	"fmt"
	"time"
)

// Column is a named vector aligned with the table's date index
type Column struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Table is a wide table keyed by date. When LabelName is set every row also
// carries a label (the entity code in all-entity reports).
type Table struct {
	Dates     []time.Time `json:"dates"`
	Columns   []Column    `json:"columns"`
	LabelName string      `json:"label_name,omitempty"`
	Labels    []string    `json:"labels,omitempty"`
}

// New creates an empty table over dates
func New(dates []time.Time) *Table {
	return &Table{Dates: append([]time.Time(nil), dates...)}
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Dates)
}

// Names returns the column names in order
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the values of the named column
func (t *Table) Column(name string) ([]float64, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.Values, true
		}
	}
	return nil, false
}

// Has reports whether the named column exists
func (t *Table) Has(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Set adds a column or replaces an existing one in place
func (t *Table) Set(name string, values []float64) error {
	if len(values) != len(t.Dates) {
		return fmt.Errorf("column %s has %d values, table has %d rows", name, len(values), len(t.Dates))
	}
	values = append([]float64(nil), values...)
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			t.Columns[i].Values = values
			return nil
		}
	}
	t.Columns = append(t.Columns, Column{Name: name, Values: values})
	return nil
}

// Clone returns a deep copy
func (t *Table) Clone() *Table {
	out := &Table{
		Dates:     append([]time.Time(nil), t.Dates...),
		Columns:   make([]Column, len(t.Columns)),
		LabelName: t.LabelName,
		Labels:    append([]string(nil), t.Labels...),
	}
	for i, c := range t.Columns {
		out.Columns[i] = Column{Name: c.Name, Values: append([]float64(nil), c.Values...)}
	}
	return out
}

// SameIndex reports whether other has exactly the same date index. It
// returns the first mismatching row or -1.
func (t *Table) SameIndex(other *Table) int {
	return firstMismatch(t.Dates, other.Dates)
}

func firstMismatch(a, b []time.Time) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if !a[i].Equal(b[i]) {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
