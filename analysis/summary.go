package analysis

import (
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/jointrecord/recorder"
)

// ColumnStats describes the non-empty values of one column.
type ColumnStats struct {
	Name   string
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// TrackingError describes how far a joint was from its command while both were recorded.
type TrackingError struct {
	Joint   string
	Mode    recorder.CommandMode
	Samples int
	RMS     float64
	MaxAbs  float64
}

// Summarize computes statistics for every column but the timestamp. Columns without values get a
// zero Count and NaN statistics.
func Summarize(t *Table) ([]ColumnStats, error) {
	summary := make([]ColumnStats, 0, len(t.Columns))
	for _, name := range t.Columns[1:] {
		values, _ := t.Column(name)
		data := present(values)
		cs := ColumnStats{Name: name, Count: len(data)}
		if len(data) == 0 {
			cs.Min, cs.Max, cs.Mean, cs.StdDev = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			summary = append(summary, cs)
			continue
		}

		var err error
		if cs.Min, err = stats.Min(data); err != nil {
			return nil, errors.Wrapf(err, "min of %s", name)
		}
		if cs.Max, err = stats.Max(data); err != nil {
			return nil, errors.Wrapf(err, "max of %s", name)
		}
		if cs.Mean, err = stats.Mean(data); err != nil {
			return nil, errors.Wrapf(err, "mean of %s", name)
		}
		if cs.StdDev, err = stats.StandardDeviation(data); err != nil {
			return nil, errors.Wrapf(err, "standard deviation of %s", name)
		}
		summary = append(summary, cs)
	}
	return summary, nil
}

// TrackingErrors compares every joint's state with its command: positions against position
// commands or velocities against velocity commands, depending on what was recorded. Rows missing
// either value are skipped.
func TrackingErrors(t *Table) ([]TrackingError, error) {
	mode, ok := t.CommandMode()
	if !ok {
		return nil, nil
	}
	stateSuffix := recorder.PositionSuffix
	if mode == recorder.VelocityMode {
		stateSuffix = recorder.VelocitySuffix
	}

	var out []TrackingError
	for _, joint := range t.Joints() {
		state, okState := t.Column(joint + stateSuffix)
		cmd, okCmd := t.Column(joint + recorder.CommandSuffix(mode))
		if !okState || !okCmd {
			continue
		}
		var squared, abs stats.Float64Data
		for i := range state {
			if math.IsNaN(state[i]) || math.IsNaN(cmd[i]) {
				continue
			}
			diff := state[i] - cmd[i]
			squared = append(squared, diff*diff)
			abs = append(abs, math.Abs(diff))
		}
		te := TrackingError{Joint: joint, Mode: mode, Samples: len(abs), RMS: math.NaN(), MaxAbs: math.NaN()}
		if len(abs) > 0 {
			meanSquare, err := stats.Mean(squared)
			if err != nil {
				return nil, errors.Wrapf(err, "tracking error of %s", joint)
			}
			te.RMS = math.Sqrt(meanSquare)
			if te.MaxAbs, err = stats.Max(abs); err != nil {
				return nil, errors.Wrapf(err, "tracking error of %s", joint)
			}
		}
		out = append(out, te)
	}
	return out, nil
}

// RenderSummary writes the statistics and tracking errors as text tables.
func RenderSummary(w io.Writer, t *Table, summary []ColumnStats, tracking []TrackingError) error {
	if _, err := fmt.Fprintf(w, "%d rows over %.3fs\n", len(t.Rows), t.Duration()); err != nil {
		return err
	}

	st := table.NewWriter()
	st.SetStyle(table.StyleLight)
	st.AppendHeader(table.Row{"Column", "Count", "Min", "Max", "Mean", "StdDev"})
	for _, cs := range summary {
		st.AppendRow(table.Row{
			cs.Name,
			cs.Count,
			formatStat(cs.Min),
			formatStat(cs.Max),
			formatStat(cs.Mean),
			formatStat(cs.StdDev),
		})
	}
	if _, err := fmt.Fprintln(w, st.Render()); err != nil {
		return err
	}

	if len(tracking) == 0 {
		return nil
	}
	tt := table.NewWriter()
	tt.SetStyle(table.StyleLight)
	tt.AppendHeader(table.Row{"Joint", "Mode", "Samples", "RMS error", "Max |error|"})
	for _, te := range tracking {
		tt.AppendRow(table.Row{te.Joint, string(te.Mode), te.Samples, formatStat(te.RMS), formatStat(te.MaxAbs)})
	}
	_, err := fmt.Fprintln(w, tt.Render())
	return err
}

func present(values []float64) stats.Float64Data {
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			data = append(data, v)
		}
	}
	return data
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.6g", v)
}
