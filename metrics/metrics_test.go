package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"go.viam.com/jointrecord/logging"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.Samples.Add(3)
	m.CommandMessages.WithLabelValues("position").Inc()
	m.TickPeriod.Set(0.01)

	test.That(t, testutil.ToFloat64(m.Samples), test.ShouldEqual, 3.0)
	test.That(t, testutil.ToFloat64(m.CommandMessages.WithLabelValues("position")), test.ShouldEqual, 1.0)

	mfs, err := m.Gatherer().Gather()
	test.That(t, err, test.ShouldBeNil)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	test.That(t, names["jointrecord_samples_total"], test.ShouldBeTrue)
	test.That(t, names["jointrecord_tick_period_seconds"], test.ShouldBeTrue)

	// Two instances do not collide.
	other := New()
	test.That(t, testutil.ToFloat64(other.Samples), test.ShouldEqual, 0.0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Aborts.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Contains(string(body), "jointrecord_aborts_total 1"), test.ShouldBeTrue)
}

func TestServe(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	m := New()
	m.Samples.Inc()

	srv, err := m.Serve("127.0.0.1:0", logger)
	test.That(t, err, test.ShouldBeNil)

	//nolint:noctx
	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	test.That(t, err, test.ShouldBeNil)
	body, err := io.ReadAll(resp.Body)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(body), test.ShouldContainSubstring, "jointrecord_samples_total 1")

	// The address is taken, so a second server cannot bind it.
	_, err = New().Serve(srv.Addr, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "listening for metrics")

	test.That(t, srv.Shutdown(context.Background()), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("metrics server stopped").Len(), test.ShouldEqual, 0)
}
