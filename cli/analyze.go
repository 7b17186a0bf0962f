package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/jointrecord/analysis"
)

// SummarizeAction prints per-column statistics and per-joint tracking errors of a recording.
func SummarizeAction(c *cli.Context) error {
	table, err := readRecording(c)
	if err != nil {
		return err
	}
	summary, err := analysis.Summarize(table)
	if err != nil {
		return err
	}
	tracking, err := analysis.TrackingErrors(table)
	if err != nil {
		return err
	}
	if len(tracking) == 0 {
		warningf(c.App.ErrWriter, "recording has no command columns, skipping tracking errors")
	}
	return analysis.RenderSummary(c.App.Writer, table, summary, tracking)
}

// PlotAction plots one joint of a recording against its command.
func PlotAction(c *cli.Context) error {
	table, err := readRecording(c)
	if err != nil {
		return err
	}
	out := c.Path(flagOut)
	if err := analysis.PlotJoint(table, c.String(flagJoint), out); err != nil {
		return err
	}
	infof(c.App.Writer, "wrote plot of %s to %s", c.String(flagJoint), out)
	return nil
}

func readRecording(c *cli.Context) (*analysis.Table, error) {
	if c.Args().Len() != 1 {
		return nil, errors.New("expected exactly one recording file")
	}
	return analysis.ReadTableFile(c.Args().First())
}
