// Package pointio reads and writes point frames as CSV files with one
// x,y,z row per point.
package pointio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/scanground/internal/lidar/l4perception"
)

// header written by WriteCSV and accepted as the first row by ReadCSV.
var header = []string{"x", "y", "z"}

// ReadCSV parses x,y,z rows. A first row whose fields are not numbers is
// treated as a header; lines starting with '#' are comments. Columns past
// the third are ignored so exports carrying intensity or ring still load.
func ReadCSV(r io.Reader) ([]l4perception.Point3D, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var points []l4perception.Point3D
	for row := 0; ; row++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(record) < 3 {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected at least 3 columns, got %d", line, len(record))
		}
		p, err := parseRow(record)
		if err != nil {
			if row == 0 && isHeader(record) {
				continue
			}
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		points = append(points, p)
	}
	return points, nil
}

func parseRow(record []string) (l4perception.Point3D, error) {
	var v [3]float64
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return l4perception.Point3D{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		v[i] = f
	}
	return l4perception.Point3D{X: v[0], Y: v[1], Z: v[2]}, nil
}

func isHeader(record []string) bool {
	for _, field := range record[:3] {
		if _, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err == nil {
			return false
		}
	}
	return true
}

// WriteCSV writes points with an x,y,z header row.
func WriteCSV(w io.Writer, points []l4perception.Point3D) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, 3)
	for _, p := range points {
		row[0] = strconv.FormatFloat(p.X, 'g', -1, 64)
		row[1] = strconv.FormatFloat(p.Y, 'g', -1, 64)
		row[2] = strconv.FormatFloat(p.Z, 'g', -1, 64)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
