// Package cli contains the jointrecord command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	flagConfig         = "config"
	flagDebug          = "debug"
	flagOutput         = "output"
	flagArm            = "arm"
	flagMode           = "mode"
	flagRate           = "rate"
	flagStateTimeout   = "state-timeout"
	flagBridgeURL      = "bridge-url"
	flagBag            = "bag"
	flagPlaybackSpeed  = "playback-speed"
	flagDuration       = "duration"
	flagJoints         = "joints"
	flagLogFile        = "log-file"
	flagMetricsAddress = "metrics-address"
	flagJoint          = "joint"
	flagOut            = "out"
)

var app = &cli.App{
	Name:            "jointrecord",
	Usage:           "record a robot arm's joint states and commands to CSV",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "record",
			Usage:     "record joint states and commands until interrupted",
			UsageText: "jointrecord record [--config FILE] [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    flagConfig,
					Aliases: []string{"c"},
					Usage:   "load configuration from `FILE`; flags override its values",
				},
				&cli.PathFlag{
					Name:    flagOutput,
					Aliases: []string{"o"},
					Usage:   "CSV file to write",
				},
				&cli.StringFlag{
					Name:  flagArm,
					Usage: "arm to record: left or right",
				},
				&cli.StringFlag{
					Name:  flagMode,
					Usage: "command stream to record: position or velocity",
				},
				&cli.Float64Flag{
					Name:  flagRate,
					Usage: "sampling rate in Hz",
				},
				&cli.DurationFlag{
					Name:  flagStateTimeout,
					Usage: "abort when no joint state arrives for this long",
				},
				&cli.StringFlag{
					Name:  flagBridgeURL,
					Usage: "rosbridge websocket to subscribe through",
				},
				&cli.PathFlag{
					Name:  flagBag,
					Usage: "replay this rosbag instead of connecting to rosbridge",
				},
				&cli.Float64Flag{
					Name:  flagPlaybackSpeed,
					Usage: "rosbag replay speed; 0 replays as fast as possible",
				},
				&cli.DurationFlag{
					Name:  flagDuration,
					Usage: "stop recording after this long",
				},
				&cli.StringSliceFlag{
					Name:  flagJoints,
					Usage: "only record these joints, in this order",
				},
				&cli.PathFlag{
					Name:  flagLogFile,
					Usage: "also write JSON logs to this rotated file",
				},
				&cli.StringFlag{
					Name:  flagMetricsAddress,
					Usage: "serve prometheus metrics on this address",
				},
			},
			Action: RecordAction,
		},
		{
			Name:      "summarize",
			Usage:     "print statistics and tracking errors of a recording",
			ArgsUsage: "<file>",
			Action:    SummarizeAction,
		},
		{
			Name:      "plot",
			Usage:     "plot a joint of a recording against its command",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagJoint,
					Required: true,
					Usage:    "joint to plot",
				},
				&cli.PathFlag{
					Name:  flagOut,
					Usage: "image to write; the extension selects the format",
					Value: "joint.png",
				},
			},
			Action: PlotAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
