package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/jointrecord/config"
	"go.viam.com/jointrecord/logging"
	"go.viam.com/jointrecord/metrics"
	"go.viam.com/jointrecord/recorder"
	"go.viam.com/jointrecord/ros"
	"go.viam.com/jointrecord/utils"
)

const metricsShutdownTimeout = 5 * time.Second

// RecordAction records joint states and commands until interrupted, the duration elapses, the
// replayed bag ends or the joint state goes stale.
func RecordAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, closeLogs, err := newLogger(cfg, c.Bool(flagDebug), c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	samples, err := record(ctx, cfg, c.Duration(flagDuration), logger)
	switch {
	case err == nil:
		printf(c.App.Writer, "wrote %d samples to %s", samples, cfg.Output)
	case errors.Is(err, recorder.ErrStateExpired) && !errors.Is(err, recorder.ErrNoJointStates):
		warningf(c.App.Writer, "joint state went stale, wrote %d samples to %s", samples, cfg.Output)
	}
	return err
}

// loadConfig reads the config file, if any, and applies the flags on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.Path(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet(flagOutput) {
		cfg.Output = c.Path(flagOutput)
	}
	if c.IsSet(flagArm) {
		cfg.Recorder.Arm = c.String(flagArm)
	}
	if c.IsSet(flagMode) {
		cfg.Recorder.CommandMode = recorder.CommandMode(c.String(flagMode))
	}
	if c.IsSet(flagRate) {
		cfg.Recorder.RecordRateHz = c.Float64(flagRate)
	}
	if c.IsSet(flagStateTimeout) {
		cfg.Recorder.StateTimeoutMs = int(c.Duration(flagStateTimeout).Milliseconds())
	}
	if c.IsSet(flagJoints) {
		cfg.Recorder.Joints = c.StringSlice(flagJoints)
	}
	if c.IsSet(flagBag) && c.IsSet(flagBridgeURL) {
		return nil, errors.Errorf("--%s and --%s are mutually exclusive", flagBag, flagBridgeURL)
	}
	if c.IsSet(flagBag) {
		cfg.Source.Type = config.SourceBag
		cfg.Source.BagPath = c.Path(flagBag)
	}
	if c.IsSet(flagBridgeURL) {
		cfg.Source.Type = config.SourceRosbridge
		cfg.Source.URL = c.String(flagBridgeURL)
	}
	if c.IsSet(flagPlaybackSpeed) {
		speed := c.Float64(flagPlaybackSpeed)
		cfg.Source.PlaybackSpeed = &speed
	}
	if c.IsSet(flagLogFile) {
		cfg.Log.File = c.Path(flagLogFile)
	}
	if c.IsSet(flagMetricsAddress) {
		cfg.MetricsAddress = c.String(flagMetricsAddress)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the root logger writing to errOut and, when configured, to a rotated file.
func newLogger(cfg *config.Config, debug bool, errOut io.Writer) (logging.Logger, func(), error) {
	registry := logging.GlobalRegistry()
	logger := registry.Register(logging.NewBlankLogger("jointrecord"))
	logger.AddAppender(logging.NewWriterAppender(errOut))

	closeLogs := func() {}
	if cfg.Log.File != "" {
		fileAppender := logging.NewFileAppender(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		logger.AddAppender(fileAppender)
		closeLogs = func() {
			//nolint:errcheck
			logger.Sync()
			//nolint:errcheck
			fileAppender.Close()
		}
	}

	if err := config.ApplyLogLevels(registry, cfg.Log, debug, logger); err != nil {
		closeLogs()
		return nil, nil, err
	}
	logging.ReplaceGlobal(logger)
	return logger, closeLogs, nil
}

// source is where messages come from. run, when set, drives the source until ctx is done and
// returns once it has nothing more to deliver.
type source struct {
	sub   ros.Subscriber
	run   func(ctx context.Context) error
	done  <-chan struct{}
	close func() error
}

func openSource(ctx context.Context, cfg *config.Config, logger logging.Logger) (*source, error) {
	switch cfg.Source.Type {
	case config.SourceBag:
		player, err := ros.NewBagPlayer(cfg.Source.BagPath, logger.Sublogger("bag"))
		if err != nil {
			return nil, err
		}
		return bagSource(player, cfg.Source.Speed()), nil
	case config.SourceRosbridge:
		client, err := ros.DialBridge(ctx, cfg.Source.URL, logger.Sublogger("rosbridge"))
		if err != nil {
			return nil, err
		}
		return &source{sub: client, done: client.Done(), close: client.Close}, nil
	default:
		return nil, errors.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

func bagSource(player *ros.BagPlayer, speed float64) *source {
	return &source{
		sub:   player,
		run:   func(ctx context.Context) error { return player.Play(ctx, speed) },
		close: func() error { return nil },
	}
}

// record runs one recording and returns the number of samples taken.
func record(ctx context.Context, cfg *config.Config, duration time.Duration, logger logging.Logger) (int, error) {
	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	return recordFrom(ctx, cfg, src, duration, logger)
}

// recordFrom records from an opened source, which it closes when done.
func recordFrom(
	ctx context.Context,
	cfg *config.Config,
	src *source,
	duration time.Duration,
	logger logging.Logger,
) (_ int, err error) {
	defer multierr.AppendInvoke(&err, multierr.Invoke(src.close))

	m := metrics.New()
	if cfg.MetricsAddress != "" {
		srv, serveErr := m.Serve(cfg.MetricsAddress, logger.Sublogger("metrics"))
		if serveErr != nil {
			return 0, serveErr
		}
		logger.Infow("serving metrics", "address", srv.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			multierr.AppendInto(&err, srv.Shutdown(shutdownCtx))
		}()
	}

	rec, err := recorder.New(ctx, src.sub, cfg.Recorder, logger.Sublogger("recorder"), recorder.WithMetrics(m))
	if err != nil {
		return 0, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(rec.Close))

	sourceDone := src.done
	if src.run != nil {
		if cfg.Source.Type == config.SourceBag && cfg.Source.Speed() <= 0 {
			logger.Warn("unpaced bag replay ends before the sampler runs, only the final state will be recorded")
		}
		runDone := make(chan struct{})
		sourceDone = runDone
		workers := utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
			defer close(runDone)
			if err := src.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("source stopped", "error", err)
			}
		})
		defer workers.Stop()
	}

	if err := waitForState(ctx, rec, sourceDone); err != nil {
		return 0, errors.Wrap(err, "waiting for the first joint state")
	}
	if err := rec.Start(cfg.Output); err != nil {
		return 0, err
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted, stopping")
	case <-timeout:
		logger.Infow("duration elapsed, stopping", "duration", duration)
	case <-sourceDone:
		logger.Info("source finished, stopping")
		// The source may end between two sampler ticks, or before the first one.
		if err := rec.SampleNow(); err != nil {
			logger.Warnw("could not sample the final state", "error", err)
		}
	case <-rec.Done():
	}

	stopErr := rec.Stop()
	return len(rec.Samples()), stopErr
}

// waitForState waits for the first joint state, giving up if the source finishes without one.
func waitForState(ctx context.Context, rec *recorder.Recorder, sourceDone <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	workers := utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		select {
		case <-sourceDone:
			cancel()
		case <-ctx.Done():
		}
	})
	defer workers.Stop()

	err := rec.WaitForState(ctx)
	if err == nil {
		return nil
	}
	select {
	case <-sourceDone:
		return errors.New("source finished before any joint state arrived")
	default:
		return err
	}
}
