// Package recorder samples a robot arm's joint states and joint commands at a fixed rate and
// writes the samples to a CSV file for offline analysis.
//
// The recorder keeps the latest message of each stream in a buffer that subscription callbacks
// overwrite. A periodic sampler appends a copy of both buffers to the recording on every tick.
// When the joint state has not been refreshed within the configured timeout the recording is
// aborted: sampling stops and whatever was collected is written out.
package recorder

import (
	"context"
	"math"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/jointrecord/logging"
	"go.viam.com/jointrecord/metrics"
	"go.viam.com/jointrecord/ros"
	"go.viam.com/jointrecord/utils"
)

var (
	// ErrStateExpired is the result of a recording aborted because the joint state went stale.
	ErrStateExpired = errors.New("joint state expired")
	// ErrNoJointStates is returned when there is nothing to write.
	ErrNoJointStates = errors.New("no joint states populated")
	// ErrAlreadyRecording is returned by Start while a recording is in progress.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when there is no recording to stop.
	ErrNotRecording = errors.New("not recording")
)

const (
	waitForStateLogInterval = 250 * time.Millisecond
	periodLogInterval       = 2 * time.Second
	staleLogInterval        = time.Second
)

// Command is the latest joint command, whichever mode it was sent in.
type Command struct {
	Names  []string
	Values []float64
}

// Value returns the command for a joint. Commands that name their joints are looked up by name,
// anonymous ones by the joint's index in the state message. Missing values are NaN.
func (c Command) Value(joint string, stateIndex int) float64 {
	if len(c.Names) == 0 {
		return ros.ValueAt(c.Values, stateIndex)
	}
	for i, name := range c.Names {
		if name == joint {
			return ros.ValueAt(c.Values, i)
		}
	}
	return math.NaN()
}

// Sample is one row of a recording: the latest state and command at a sampler tick. Messages are
// never modified after they are decoded, so samples share them.
type Sample struct {
	State   *ros.JointState
	Command Command
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the clock used for sampling and staleness checks.
func WithClock(clk clock.Clock) Option {
	return func(r *Recorder) {
		r.clk = clk
	}
}

// WithMetrics makes the recorder report to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// Recorder records one arm's joint states and commands.
type Recorder struct {
	cfg     Config
	logger  logging.Logger
	clk     clock.Clock
	metrics *metrics.Metrics
	subs    []ros.Subscription

	stateArrived chan struct{}
	stateOnce    sync.Once

	periodLog *utils.Throttle
	staleLog  *utils.Throttle

	mu              sync.Mutex
	state           *ros.JointState
	stateReceivedAt time.Time
	command         Command
	samples         []Sample
	fileName        string
	id              uuid.UUID
	lastTick        time.Time
	workers         utils.StoppableWorkers
	recording       bool
	done            chan struct{}
	result          error
}

// New subscribes to the state topic and to the command topic of the configured mode.
func New(ctx context.Context, sub ros.Subscriber, cfg Config, logger logging.Logger, opts ...Option) (*Recorder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate("recorder"); err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:          cfg,
		logger:       logger,
		clk:          clock.New(),
		stateArrived: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	r.periodLog = utils.NewThrottle(r.clk, periodLogInterval)
	r.staleLog = utils.NewThrottle(r.clk, staleLogInterval)

	stateSub, err := ros.SubscribeJointState(ctx, sub, cfg.StateTopicName(), logger, r.stateCallback)
	if err != nil {
		return nil, err
	}
	r.subs = append(r.subs, stateSub)

	var cmdSub ros.Subscription
	if cfg.CommandMode == VelocityMode {
		cmdSub, err = ros.SubscribeJointVelocities(ctx, sub, cfg.CommandTopicName(), logger, r.cmdVelocityCallback)
	} else {
		cmdSub, err = ros.SubscribeJointPositions(ctx, sub, cfg.CommandTopicName(), logger, r.cmdPositionCallback)
	}
	if err != nil {
		return nil, multierr.Combine(err, stateSub.Unsubscribe())
	}
	r.subs = append(r.subs, cmdSub)

	logger.Infow("subscribed",
		"state_topic", cfg.StateTopicName(),
		"command_topic", cfg.CommandTopicName(),
		"command_mode", cfg.CommandMode)
	return r, nil
}

// WaitForState blocks until the first joint state message has been received.
func (r *Recorder) WaitForState(ctx context.Context) error {
	for {
		select {
		case <-r.stateArrived:
			return nil
		default:
		}
		r.logger.Infow("waiting for first state message to be received", "topic", r.cfg.StateTopicName())
		select {
		case <-r.stateArrived:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clk.After(waitForStateLogInterval):
		}
	}
}

// Start clears the buffers and starts sampling. The recording goes to fileName when it ends.
func (r *Recorder) Start(fileName string) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	// A recording that aborted on its own still owns its (exited) sampler.
	previous := r.workers
	r.workers = nil
	r.mu.Unlock()
	if previous != nil {
		previous.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording || r.workers != nil {
		return ErrAlreadyRecording
	}
	r.samples = nil
	r.fileName = fileName
	r.id = uuid.New()
	r.lastTick = time.Time{}
	r.done = make(chan struct{})
	r.result = nil
	r.recording = true
	r.periodLog.Reset()
	r.staleLog.Reset()

	r.workers = utils.NewStoppableWorkers()
	r.workers.AddTicker(r.clk, r.cfg.Period(), r.tick)
	r.logger.Infow("recording started",
		"id", r.id.String(),
		"file", fileName,
		"rate_hz", r.cfg.RecordRateHz,
		"state_timeout", r.cfg.StateTimeout())
	return nil
}

// Stop stops sampling and writes the file. If the recording already aborted, Stop returns the
// abort result without writing again.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	workers := r.workers
	r.workers = nil
	r.mu.Unlock()
	if workers == nil {
		return ErrNotRecording
	}

	workers.Stop()
	r.finish(nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Done is closed when the current recording completes, either through Stop or an abort. It is nil
// before the first Start.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the result of the last completed recording.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Recording reports whether samples are being collected.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Samples returns a copy of the samples collected so far.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Close stops any recording in progress, writing its file, and unsubscribes.
func (r *Recorder) Close() error {
	err := r.Stop()
	if errors.Is(err, ErrNotRecording) {
		err = nil
	}
	for _, sub := range r.subs {
		err = multierr.Combine(err, sub.Unsubscribe())
	}
	return err
}

func (r *Recorder) stateCallback(msg *ros.JointState) {
	now := r.clk.Now()
	r.mu.Lock()
	r.state = msg
	r.stateReceivedAt = now
	r.mu.Unlock()
	r.metrics.StateMessages.Inc()
	r.stateOnce.Do(func() { close(r.stateArrived) })
}

func (r *Recorder) cmdPositionCallback(msg *ros.JointPositions) {
	r.setCommand(Command{Names: msg.Names, Values: msg.Angles})
}

func (r *Recorder) cmdVelocityCallback(msg *ros.JointVelocities) {
	r.setCommand(Command{Names: msg.Names, Values: msg.Velocities})
}

func (r *Recorder) setCommand(cmd Command) {
	r.mu.Lock()
	r.command = cmd
	r.mu.Unlock()
	r.metrics.CommandMessages.WithLabelValues(string(r.cfg.CommandMode)).Inc()
}

// tick is the sampler body. It returns false to stop sampling.
func (r *Recorder) tick(ctx context.Context, now time.Time) bool {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return false
	}

	if !r.lastTick.IsZero() {
		period := now.Sub(r.lastTick)
		r.metrics.TickPeriod.Set(period.Seconds())
		if period > 0 && r.periodLog.Allow() {
			r.logger.Infow("updating", "period", period, "rate_hz", 1/period.Seconds())
		}
	}
	r.lastTick = now
	r.mu.Unlock()

	return r.sample() == nil
}

// SampleNow takes one sample of the latest messages right away, outside the sampling period. Like
// a periodic sample it aborts the recording when the joint state has expired.
func (r *Recorder) SampleNow() error {
	return r.sample()
}

// sample appends the latest state and command to the recording, or aborts it with
// ErrStateExpired.
func (r *Recorder) sample() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}

	if r.stateExpiredLocked() {
		r.logger.Errorw("aborting early", "id", r.id.String(), "samples", len(r.samples))
		r.mu.Unlock()
		r.metrics.Aborts.Inc()
		r.finish(ErrStateExpired)
		return ErrStateExpired
	}

	r.samples = append(r.samples, Sample{State: r.state, Command: r.command})
	r.mu.Unlock()
	r.metrics.Samples.Inc()
	return nil
}

// stateExpiredLocked reports whether the latest state is older than the timeout. Expects r.mu to
// be held.
func (r *Recorder) stateExpiredLocked() bool {
	age := r.clk.Now().Sub(r.stateReceivedAt)
	r.metrics.StateAge.Set(age.Seconds())
	if age <= r.cfg.StateTimeout() {
		return false
	}
	if r.staleLog.Allow() {
		r.logger.Warnw("state expired",
			"seconds_since_last_state", age.Seconds(),
			"timeout", r.cfg.StateTimeout())
	}
	return true
}

// finish ends the current recording with cause and writes the file. Only the first call for a
// recording has any effect.
func (r *Recorder) finish(cause error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = false
	samples, fileName, id := r.samples, r.fileName, r.id
	r.mu.Unlock()

	err := r.writeFile(fileName, samples)
	r.logger.Infow("recording finished", "id", id.String(), "samples", len(samples), "error", multierr.Combine(cause, err))

	r.mu.Lock()
	r.result = multierr.Combine(cause, err)
	close(r.done)
	r.mu.Unlock()
}

func (r *Recorder) writeFile(fileName string, samples []Sample) (err error) {
	if len(samples) == 0 {
		r.logger.Error("no joint states populated")
		return ErrNoJointStates
	}

	//nolint:gosec
	f, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "creating %s", fileName)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	rows, err := WriteCSV(f, samples, r.cfg.CommandMode, r.cfg.Joints)
	if err != nil {
		return errors.Wrapf(err, "writing %s", fileName)
	}
	r.logger.Infow("wrote to file", "file", fileName, "rows", rows)
	return nil
}
