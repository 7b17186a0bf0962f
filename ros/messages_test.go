package ros

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestTime(t *testing.T) {
	stamp := Time{Secs: 12, Nsecs: 500000000}
	test.That(t, stamp.Seconds(), test.ShouldAlmostEqual, 12.5)
	test.That(t, stamp.IsZero(), test.ShouldBeFalse)
	test.That(t, Time{}.IsZero(), test.ShouldBeTrue)

	later := Time{Secs: 13, Nsecs: 250000000}
	test.That(t, later.Sub(stamp), test.ShouldEqual, 750*time.Millisecond)
	test.That(t, stamp.Sub(later), test.ShouldEqual, -750*time.Millisecond)

	now := time.Unix(1700000000, 123456789)
	test.That(t, NewTime(now).Time().Equal(now), test.ShouldBeTrue)
}

func TestJointStateDecode(t *testing.T) {
	raw := `{
		"header": {"seq": 7, "stamp": {"secs": 100, "nsecs": 20}, "frame_id": "base"},
		"name": ["left_s0", "left_w1"],
		"position": [0.1, 0.2],
		"velocity": [1.1, 1.2],
		"effort": []
	}`
	var js JointState
	test.That(t, json.Unmarshal([]byte(raw), &js), test.ShouldBeNil)
	test.That(t, js.Header.Seq, test.ShouldEqual, uint32(7))
	test.That(t, js.Header.Stamp, test.ShouldResemble, Time{Secs: 100, Nsecs: 20})
	test.That(t, js.Header.FrameID, test.ShouldEqual, "base")
	test.That(t, js.Name, test.ShouldResemble, []string{"left_s0", "left_w1"})
	test.That(t, js.Index("left_w1"), test.ShouldEqual, 1)
	test.That(t, js.Index("right_w1"), test.ShouldEqual, -1)
	test.That(t, math.IsNaN(ValueAt(js.Effort, 0)), test.ShouldBeTrue)
	test.That(t, ValueAt(js.Velocity, 1), test.ShouldEqual, 1.2)
}

func TestJointStateClone(t *testing.T) {
	orig := &JointState{Name: []string{"a"}, Position: []float64{1}}
	clone := orig.Clone()
	clone.Name[0] = "b"
	clone.Position[0] = 2
	test.That(t, orig.Name[0], test.ShouldEqual, "a")
	test.That(t, orig.Position[0], test.ShouldEqual, 1.0)

	var nilState *JointState
	test.That(t, nilState.Clone(), test.ShouldBeNil)
}

func TestTopics(t *testing.T) {
	test.That(t, JointStatesTopic("left"), test.ShouldEqual, "/robot/limb/left/joint_states")
	test.That(t, CommandAnglesTopic("right"), test.ShouldEqual, "/robot/limb/right/command_joint_angles")
	test.That(t, CommandVelocitiesTopic("left"), test.ShouldEqual, "/robot/limb/left/command_joint_velocities")
}
