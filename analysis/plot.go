package analysis

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"go.viam.com/jointrecord/recorder"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// PlotJoint draws a joint's recorded state and its command over time and saves the plot to path.
// The image format follows the file extension (png, svg, pdf, ...).
func PlotJoint(t *Table, joint, path string) error {
	mode, hasCommand := t.CommandMode()
	stateSuffix, unit := recorder.PositionSuffix, "rad"
	if mode == recorder.VelocityMode {
		stateSuffix, unit = recorder.VelocitySuffix, "rad/s"
	}

	state, ok := t.Column(joint + stateSuffix)
	if !ok {
		return errors.Errorf("recording has no joint %q", joint)
	}
	times, _ := t.Column(recorder.TimestampColumn)

	p := plot.New()
	p.Title.Text = joint
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = unit

	lines := []interface{}{"state", points(times, state)}
	if hasCommand {
		if cmd, ok := t.Column(joint + recorder.CommandSuffix(mode)); ok {
			lines = append(lines, "command", points(times, cmd))
		}
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return errors.Wrap(err, "adding lines")
	}
	return errors.Wrapf(p.Save(plotWidth, plotHeight, path), "saving plot to %s", path)
}

// points pairs up xs and ys, leaving out rows where either is missing.
func points(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	return pts
}
