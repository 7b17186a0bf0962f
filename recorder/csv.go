package recorder

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"go.viam.com/jointrecord/ros"
)

// TimestampColumn is the first column of a recording.
const TimestampColumn = "timestamp"

// Column suffixes for the per-joint values.
const (
	PositionSuffix        = "_pos"
	VelocitySuffix        = "_vel"
	EffortSuffix          = "_eff"
	PositionCommandSuffix = "_pos_cmd"
	VelocityCommandSuffix = "_vel_cmd"
)

// CommandSuffix is the column suffix of the command recorded in mode.
func CommandSuffix(mode CommandMode) string {
	if mode == VelocityMode {
		return VelocityCommandSuffix
	}
	return PositionCommandSuffix
}

// Columns returns the header row for the given joints.
func Columns(joints []string, mode CommandMode) []string {
	cols := make([]string, 0, 1+4*len(joints))
	cols = append(cols, TimestampColumn)
	for _, joint := range joints {
		cols = append(cols,
			joint+PositionSuffix,
			joint+VelocitySuffix,
			joint+EffortSuffix,
			joint+CommandSuffix(mode))
	}
	return cols
}

// WriteCSV writes samples as a table: a header row, then one row per sample. Timestamps are
// seconds since the first sample's state stamp. Values missing from a sample are left empty.
// When joints is empty the columns follow the joints of the first sample. It returns the number
// of data rows written.
func WriteCSV(w io.Writer, samples []Sample, mode CommandMode, joints []string) (int, error) {
	if len(samples) == 0 || samples[0].State == nil {
		return 0, ErrNoJointStates
	}
	if len(joints) == 0 {
		joints = samples[0].State.Name
	}
	start := samples[0].State.Header.Stamp

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(joints, mode)); err != nil {
		return 0, errors.Wrap(err, "writing header")
	}

	row := make([]string, 0, 1+4*len(joints))
	rows := 0
	for _, sample := range samples {
		state := sample.State
		if state == nil {
			continue
		}
		row = row[:0]
		row = append(row, formatValue(state.Header.Stamp.Sub(start).Seconds()))
		for _, joint := range joints {
			idx := state.Index(joint)
			row = append(row,
				formatValue(ros.ValueAt(state.Position, idx)),
				formatValue(ros.ValueAt(state.Velocity, idx)),
				formatValue(ros.ValueAt(state.Effort, idx)),
				formatValue(sample.Command.Value(joint, idx)))
		}
		if err := cw.Write(row); err != nil {
			return rows, errors.Wrapf(err, "writing row %d", rows+1)
		}
		rows++
	}
	cw.Flush()
	return rows, errors.Wrap(cw.Error(), "flushing table")
}

// formatValue prints v with the fewest digits that read back to the same float. NaN marks a
// missing value and prints as an empty cell.
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
