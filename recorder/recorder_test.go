package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/jointrecord/logging"
	"go.viam.com/jointrecord/metrics"
	"go.viam.com/jointrecord/ros"
)

const testPeriod = 100 * time.Millisecond

type testRig struct {
	bus     *ros.Bus
	clk     *clock.Mock
	metrics *metrics.Metrics
	rec     *Recorder
	file    string
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	logger := logging.NewTestLogger(t)
	rig := &testRig{
		bus:     ros.NewBus(),
		clk:     clock.NewMock(),
		metrics: metrics.New(),
		file:    filepath.Join(t.TempDir(), "recording.csv"),
	}
	if cfg.RecordRateHz == 0 {
		cfg.RecordRateHz = float64(time.Second / testPeriod)
	}
	if cfg.StateTimeoutMs == 0 {
		cfg.StateTimeoutMs = 250
	}
	rec, err := New(context.Background(), rig.bus, cfg, logger, WithClock(rig.clk), WithMetrics(rig.metrics))
	test.That(t, err, test.ShouldBeNil)
	rig.rec = rec
	return rig
}

func (rig *testRig) publishState(t *testing.T, secs, nsecs int64, pos, vel []float64) {
	t.Helper()
	test.That(t, rig.bus.Publish(ros.JointStatesTopic("left"), &ros.JointState{
		Header:   ros.Header{Stamp: ros.Time{Secs: secs, Nsecs: nsecs}},
		Name:     []string{"j1", "j2"},
		Position: pos,
		Velocity: vel,
	}), test.ShouldBeNil)
}

// step advances the clock one sampling period and waits for the sampler to have taken `want`
// samples in total.
func (rig *testRig) step(t *testing.T, want int) {
	t.Helper()
	rig.clk.Add(testPeriod)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, rig.rec.Samples(), test.ShouldHaveLength, want)
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	//nolint:gosec
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	return string(data)
}

func TestRecordPositionCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	rig := newTestRig(t, Config{})
	rig.publishState(t, 10, 0, []float64{0.1, 0.2}, []float64{1, 2})
	test.That(t, rig.bus.Publish(ros.CommandAnglesTopic("left"), &ros.JointPositions{
		Names:  []string{"j2", "j1"},
		Angles: []float64{0.4, 0.3},
	}), test.ShouldBeNil)
	test.That(t, rig.rec.WaitForState(context.Background()), test.ShouldBeNil)

	test.That(t, rig.rec.Start(rig.file), test.ShouldBeNil)
	test.That(t, rig.rec.Recording(), test.ShouldBeTrue)
	test.That(t, rig.rec.Start(rig.file), test.ShouldEqual, ErrAlreadyRecording)
	rig.step(t, 1)

	rig.publishState(t, 10, 500000000, []float64{0.15, 0.25}, []float64{1.5, 2.5})
	rig.step(t, 2)

	test.That(t, rig.rec.Stop(), test.ShouldBeNil)
	test.That(t, rig.rec.Recording(), test.ShouldBeFalse)
	<-rig.rec.Done()
	test.That(t, rig.rec.Stop(), test.ShouldEqual, ErrNotRecording)

	test.That(t, readFile(t, rig.file), test.ShouldEqual,
		"timestamp,j1_pos,j1_vel,j1_eff,j1_pos_cmd,j2_pos,j2_vel,j2_eff,j2_pos_cmd\n"+
			"0,0.1,1,,0.3,0.2,2,,0.4\n"+
			"0.5,0.15,1.5,,0.3,0.25,2.5,,0.4\n")

	test.That(t, testutil.ToFloat64(rig.metrics.StateMessages), test.ShouldEqual, 2)
	test.That(t, testutil.ToFloat64(rig.metrics.CommandMessages.WithLabelValues("position")), test.ShouldEqual, 1)
	test.That(t, testutil.ToFloat64(rig.metrics.Samples), test.ShouldEqual, 2)
	test.That(t, testutil.ToFloat64(rig.metrics.TickPeriod), test.ShouldEqual, testPeriod.Seconds())
	test.That(t, rig.rec.Close(), test.ShouldBeNil)
}

func TestRecordVelocityCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	rig := newTestRig(t, Config{CommandMode: VelocityMode})
	rig.publishState(t, 3, 0, []float64{0.1, 0.2}, nil)

	// Commands for the position topic are not recorded in velocity mode.
	test.That(t, rig.bus.Publish(ros.CommandAnglesTopic("left"), &ros.JointPositions{
		Names:  []string{"j1", "j2"},
		Angles: []float64{9, 9},
	}), test.ShouldBeNil)
	// Anonymous commands line up with the state's joint order.
	test.That(t, rig.bus.Publish(ros.CommandVelocitiesTopic("left"), &ros.JointVelocities{
		Velocities: []float64{-0.5},
	}), test.ShouldBeNil)

	test.That(t, rig.rec.Start(rig.file), test.ShouldBeNil)
	rig.step(t, 1)
	test.That(t, rig.rec.Stop(), test.ShouldBeNil)

	test.That(t, readFile(t, rig.file), test.ShouldEqual,
		"timestamp,j1_pos,j1_vel,j1_eff,j1_vel_cmd,j2_pos,j2_vel,j2_eff,j2_vel_cmd\n"+
			"0,0.1,,,-0.5,0.2,,,\n")
	test.That(t, testutil.ToFloat64(rig.metrics.CommandMessages.WithLabelValues("velocity")), test.ShouldEqual, 1)
	test.That(t, rig.rec.Close(), test.ShouldBeNil)
}

func TestRecordJointSelection(t *testing.T) {
	defer goleak.VerifyNone(t)

	rig := newTestRig(t, Config{Joints: []string{"j2"}})
	rig.publishState(t, 1, 0, []float64{0.1, 0.2}, []float64{1, 2})

	test.That(t, rig.rec.Start(rig.file), test.ShouldBeNil)
	rig.step(t, 1)
	test.That(t, rig.rec.Stop(), test.ShouldBeNil)

	test.That(t, readFile(t, rig.file), test.ShouldEqual,
		"timestamp,j2_pos,j2_vel,j2_eff,j2_pos_cmd\n"+
			"0,0.2,2,,\n")
	test.That(t, rig.rec.Close(), test.ShouldBeNil)
}

func TestStaleStateAborts(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger, logs := logging.NewObservedTestLogger(t)
	bus := ros.NewBus()
	clk := clock.NewMock()
	m := metrics.New()
	rec, err := New(context.Background(), bus, Config{RecordRateHz: 10, StateTimeoutMs: 250}, logger,
		WithClock(clk), WithMetrics(m))
	test.That(t, err, test.ShouldBeNil)
	file := filepath.Join(t.TempDir(), "aborted.csv")

	test.That(t, bus.Publish(ros.JointStatesTopic("left"), &ros.JointState{
		Name:     []string{"j1"},
		Position: []float64{1},
	}), test.ShouldBeNil)
	test.That(t, rec.Start(file), test.ShouldBeNil)

	// Ticks at 100ms and 200ms see a fresh state, the one at 300ms does not.
	for i := 1; i <= 2; i++ {
		clk.Add(testPeriod)
		want := i
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, rec.Samples(), test.ShouldHaveLength, want)
		})
	}
	clk.Add(testPeriod)
	<-rec.Done()

	test.That(t, rec.Recording(), test.ShouldBeFalse)
	test.That(t, rec.Samples(), test.ShouldHaveLength, 2)
	test.That(t, errors.Is(rec.Err(), ErrStateExpired), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("state expired").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("aborting early").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("wrote to file").Len(), test.ShouldEqual, 1)
	test.That(t, testutil.ToFloat64(m.Aborts), test.ShouldEqual, 1)
	test.That(t, readFile(t, file), test.ShouldEqual, "timestamp,j1_pos,j1_vel,j1_eff,j1_pos_cmd\n0,1,,,\n0,1,,,\n")

	// Stop reports the abort once.
	test.That(t, errors.Is(rec.Stop(), ErrStateExpired), test.ShouldBeTrue)
	test.That(t, rec.Stop(), test.ShouldEqual, ErrNotRecording)

	// A fresh state lets a new recording start.
	test.That(t, bus.Publish(ros.JointStatesTopic("left"), &ros.JointState{
		Name:     []string{"j1"},
		Position: []float64{2},
	}), test.ShouldBeNil)
	test.That(t, rec.Start(file), test.ShouldBeNil)
	clk.Add(testPeriod)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, rec.Samples(), test.ShouldHaveLength, 1)
	})
	test.That(t, rec.Close(), test.ShouldBeNil)
	test.That(t, readFile(t, file), test.ShouldEqual, "timestamp,j1_pos,j1_vel,j1_eff,j1_pos_cmd\n0,2,,,\n")
}

func TestNoStatesNoFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	rig := newTestRig(t, Config{})
	test.That(t, rig.rec.Start(rig.file), test.ShouldBeNil)
	test.That(t, rig.rec.Stop(), test.ShouldEqual, ErrNoJointStates)

	_, err := os.Stat(rig.file)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	// Without any state the first tick aborts, and there is still nothing to write.
	test.That(t, rig.rec.Start(rig.file), test.ShouldBeNil)
	rig.clk.Add(testPeriod)
	<-rig.rec.Done()
	test.That(t, errors.Is(rig.rec.Err(), ErrStateExpired), test.ShouldBeTrue)
	test.That(t, errors.Is(rig.rec.Err(), ErrNoJointStates), test.ShouldBeTrue)
	_, err = os.Stat(rig.file)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	test.That(t, errors.Is(rig.rec.Stop(), ErrStateExpired), test.ShouldBeTrue)
	test.That(t, rig.rec.Close(), test.ShouldBeNil)
}

func TestStopBeforeStart(t *testing.T) {
	rig := newTestRig(t, Config{})
	test.That(t, rig.rec.Stop(), test.ShouldEqual, ErrNotRecording)
	test.That(t, rig.rec.Done(), test.ShouldBeNil)
	test.That(t, rig.rec.Close(), test.ShouldBeNil)
}

func TestWaitForState(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger, logs := logging.NewObservedTestLogger(t)
	bus := ros.NewBus()
	clk := clock.NewMock()
	rec, err := New(context.Background(), bus, Config{}, logger, WithClock(clk))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, rec.Close(), test.ShouldBeNil)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, rec.WaitForState(ctx), test.ShouldEqual, context.Canceled)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- rec.WaitForState(context.Background())
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessage("waiting for first state message to be received").Len(), test.ShouldBeGreaterThanOrEqualTo, 2)
	})
	test.That(t, bus.Publish(ros.JointStatesTopic("left"), &ros.JointState{Name: []string{"j1"}}), test.ShouldBeNil)
	test.That(t, <-waitErr, test.ShouldBeNil)
	test.That(t, rec.WaitForState(context.Background()), test.ShouldBeNil)
}

func TestCloseUnsubscribes(t *testing.T) {
	rig := newTestRig(t, Config{})
	test.That(t, rig.rec.Close(), test.ShouldBeNil)
	rig.publishState(t, 1, 0, []float64{1, 2}, nil)
	test.That(t, testutil.ToFloat64(rig.metrics.StateMessages), test.ShouldEqual, 0)
}

func TestSampleNow(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger, logs := logging.NewObservedTestLogger(t)
	bus := ros.NewBus()
	clk := clock.NewMock()
	m := metrics.New()
	rec, err := New(context.Background(), bus, Config{RecordRateHz: 10, StateTimeoutMs: 250}, logger,
		WithClock(clk), WithMetrics(m))
	test.That(t, err, test.ShouldBeNil)
	file := filepath.Join(t.TempDir(), "sampled.csv")

	test.That(t, rec.SampleNow(), test.ShouldEqual, ErrNotRecording)

	test.That(t, bus.Publish(ros.JointStatesTopic("left"), &ros.JointState{
		Name:     []string{"j1"},
		Position: []float64{1},
	}), test.ShouldBeNil)
	test.That(t, rec.Start(file), test.ShouldBeNil)
	test.That(t, rec.SampleNow(), test.ShouldBeNil)
	test.That(t, rec.Samples(), test.ShouldHaveLength, 1)

	// Periodic samples follow, and the measured period is reported at info.
	for want := 2; want <= 3; want++ {
		clk.Add(testPeriod)
		n := want
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, rec.Samples(), test.ShouldHaveLength, n)
		})
	}
	test.That(t, logs.FilterMessage("updating").FilterLevelExact(zapcore.InfoLevel).Len(), test.ShouldEqual, 1)

	test.That(t, rec.Stop(), test.ShouldBeNil)
	test.That(t, readFile(t, file), test.ShouldEqual,
		"timestamp,j1_pos,j1_vel,j1_eff,j1_pos_cmd\n0,1,,,\n0,1,,,\n0,1,,,\n")
	test.That(t, testutil.ToFloat64(m.Samples), test.ShouldEqual, 3)
	test.That(t, rec.Close(), test.ShouldBeNil)
}

func TestSampleNowStaleState(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := logging.NewTestLogger(t)
	bus := ros.NewBus()
	clk := clock.NewMock()
	rec, err := New(context.Background(), bus, Config{RecordRateHz: 1, StateTimeoutMs: 250}, logger, WithClock(clk))
	test.That(t, err, test.ShouldBeNil)
	file := filepath.Join(t.TempDir(), "stale.csv")

	test.That(t, bus.Publish(ros.JointStatesTopic("left"), &ros.JointState{
		Name:     []string{"j1"},
		Position: []float64{1},
	}), test.ShouldBeNil)
	test.That(t, rec.Start(file), test.ShouldBeNil)

	// Half a period later no periodic sample has been taken, but the state is already stale.
	clk.Add(500 * time.Millisecond)
	test.That(t, rec.SampleNow(), test.ShouldEqual, ErrStateExpired)
	<-rec.Done()
	test.That(t, rec.Recording(), test.ShouldBeFalse)
	test.That(t, errors.Is(rec.Err(), ErrNoJointStates), test.ShouldBeTrue)
	test.That(t, errors.Is(rec.Stop(), ErrStateExpired), test.ShouldBeTrue)
	_, err = os.Stat(file)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	test.That(t, rec.Close(), test.ShouldBeNil)
}

func TestNewInvalidConfig(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := New(context.Background(), ros.NewBus(), Config{RecordRateHz: -1}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "record_rate_hz")

	// A rate whose period rounds to zero would make the sampler's ticker panic.
	_, err = New(context.Background(), ros.NewBus(), Config{RecordRateHz: 2e9}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rounds to zero")

	bus := ros.NewBus()
	test.That(t, bus.Close(), test.ShouldBeNil)
	_, err = New(context.Background(), bus, Config{}, logger)
	test.That(t, errors.Is(err, ros.ErrClosed), test.ShouldBeTrue)
}

func TestCommandValue(t *testing.T) {
	named := Command{Names: []string{"a", "b"}, Values: []float64{1, 2}}
	test.That(t, named.Value("b", 0), test.ShouldEqual, 2)
	test.That(t, formatValue(named.Value("c", 0)), test.ShouldEqual, "")

	anonymous := Command{Values: []float64{5}}
	test.That(t, anonymous.Value("ignored", 0), test.ShouldEqual, 5)
	test.That(t, formatValue(anonymous.Value("ignored", 1)), test.ShouldEqual, "")
}
