package table

import (
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet of an exported workbook
type Sheet struct {
	Name  string
	Table *Table
}

// WriteXLSX renders sheets into a single workbook. Each sheet has the same
// layout as the CSV form; NaN cells are left blank.
func WriteXLSX(w io.Writer, sheets []Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("workbook needs at least one sheet")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", s.Name, err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", s.Name, err)
		}
		if err := writeSheet(f, s); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, s Sheet) error {
	t := s.Table

	header := []interface{}{DateColumn}
	for _, name := range t.Names() {
		header = append(header, name)
	}
	if t.LabelName != "" {
		header = append(header, t.LabelName)
	}
	if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
		return fmt.Errorf("sheet %s header: %w", s.Name, err)
	}

	for i, d := range t.Dates {
		row := make([]interface{}, 0, len(header))
		row = append(row, d.Format(dateLayout))
		for _, c := range t.Columns {
			if math.IsNaN(c.Values[i]) {
				row = append(row, nil)
				continue
			}
			row = append(row, c.Values[i])
		}
		if t.LabelName != "" {
			row = append(row, t.Labels[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(s.Name, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", s.Name, i+2, err)
		}
	}
	return nil
}
