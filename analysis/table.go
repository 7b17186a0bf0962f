// Package analysis reads recordings back and summarizes them: per-column statistics, how closely
// the joints tracked their commands, and plots of a joint against its command.
package analysis

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/jointrecord/recorder"
)

// Table is a recording read back into memory. Empty cells are NaN.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// ReadTableFile reads the recording at path.
func ReadTableFile(path string) (*Table, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadTable(f)
}

// ReadTable parses a recording. Short rows are padded with NaN and a trailing empty column, as
// older recordings carry, is ignored.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("recording is empty")
		}
		return nil, errors.Wrap(err, "reading header")
	}
	for len(header) > 0 && strings.TrimSpace(header[len(header)-1]) == "" {
		header = header[:len(header)-1]
	}
	if len(header) == 0 || header[0] != recorder.TimestampColumn {
		return nil, errors.Errorf("recording must start with a %q column", recorder.TimestampColumn)
	}

	table := &Table{Columns: header}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return table, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading line %d", line)
		}
		row := make([]float64, len(header))
		for i := range row {
			row[i] = math.NaN()
			if i >= len(record) {
				continue
			}
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				continue
			}
			if row[i], err = strconv.ParseFloat(cell, 64); err != nil {
				return nil, errors.Wrapf(err, "line %d column %q", line, header[i])
			}
		}
		table.Rows = append(table.Rows, row)
	}
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values, true
}

// Joints returns the recorded joints in column order.
func (t *Table) Joints() []string {
	var joints []string
	for _, col := range t.Columns {
		if joint, ok := strings.CutSuffix(col, recorder.PositionSuffix); ok {
			joints = append(joints, joint)
		}
	}
	return joints
}

// CommandMode reports which command stream was recorded. It returns false when the table has no
// command columns.
func (t *Table) CommandMode() (recorder.CommandMode, bool) {
	for _, col := range t.Columns {
		switch {
		case strings.HasSuffix(col, recorder.PositionCommandSuffix):
			return recorder.PositionMode, true
		case strings.HasSuffix(col, recorder.VelocityCommandSuffix):
			return recorder.VelocityMode, true
		}
	}
	return "", false
}

// Duration is the time covered by the recording in seconds.
func (t *Table) Duration() float64 {
	if len(t.Rows) == 0 {
		return 0
	}
	return t.Rows[len(t.Rows)-1][0] - t.Rows[0][0]
}
