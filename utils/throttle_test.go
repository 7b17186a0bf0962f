package utils

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestThrottle(t *testing.T) {
	clk := clock.NewMock()
	throttle := NewThrottle(clk, time.Second)

	test.That(t, throttle.Allow(), test.ShouldBeTrue)
	test.That(t, throttle.Allow(), test.ShouldBeFalse)

	clk.Add(999 * time.Millisecond)
	test.That(t, throttle.Allow(), test.ShouldBeFalse)

	clk.Add(time.Millisecond)
	test.That(t, throttle.Allow(), test.ShouldBeTrue)
	test.That(t, throttle.Allow(), test.ShouldBeFalse)

	throttle.Reset()
	test.That(t, throttle.Allow(), test.ShouldBeTrue)
}
