package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter renders grids as CSV with one row per period.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// RenderGrid writes a header of day names followed by one row per period.
func (e *CSVExporter) RenderGrid(grid Grid) ([]byte, error) {
	if err := grid.validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	header := append([]string{"Period", "Time"}, grid.Days...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for p, period := range grid.Periods {
		record := make([]string, 0, len(header))
		record = append(record, period.Label, period.timeRange())
		for d := range grid.Days {
			record = append(record, grid.At(p, d).text())
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
