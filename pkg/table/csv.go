package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// DateColumn is the header of the leading date column in persisted tables
const DateColumn = "date"

const dateLayout = "2006-01-02"

// WriteCSV writes t with a leading date column. A label column, when
// present, is written last. NaN values are written as empty cells.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)

	header := append([]string{DateColumn}, t.Names()...)
	if t.LabelName != "" {
		header = append(header, t.LabelName)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(header))
	for i, d := range t.Dates {
		record[0] = d.Format(dateLayout)
		for j, c := range t.Columns {
			record[j+1] = formatValue(c.Values[i])
		}
		if t.LabelName != "" {
			record[len(record)-1] = t.Labels[i]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV. labelName names the trailing
// label column, if the file has one.
func ReadCSV(r io.Reader, labelName string) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty table file")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) == 0 || header[0] != DateColumn {
		return nil, fmt.Errorf("first column must be %q", DateColumn)
	}

	valueCols := header[1:]
	t := &Table{}
	if labelName != "" && len(valueCols) > 0 && valueCols[len(valueCols)-1] == labelName {
		t.LabelName = labelName
		valueCols = valueCols[:len(valueCols)-1]
	}
	for _, name := range valueCols {
		t.Columns = append(t.Columns, Column{Name: name})
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		d, err := time.Parse(dateLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q: %w", line, record[0], err)
		}
		t.Dates = append(t.Dates, d)

		for j := range t.Columns {
			v, err := parseValue(record[j+1])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, t.Columns[j].Name, err)
			}
			t.Columns[j].Values = append(t.Columns[j].Values, v)
		}
		if t.LabelName != "" {
			t.Labels = append(t.Labels, record[len(record)-1])
		}
	}
	return t, nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseValue(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
