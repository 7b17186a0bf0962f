package ros

import (
	"math"
	"time"
)

// Message type names as they appear on the wire.
const (
	JointStateType      = "sensor_msgs/JointState"
	JointPositionsType  = "baxter_msgs/JointPositions"
	JointVelocitiesType = "baxter_msgs/JointVelocities"
)

// Time is a ROS timestamp.
type Time struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

// NewTime converts a time.Time to a ROS timestamp.
func NewTime(t time.Time) Time {
	nanos := t.UnixNano()
	return Time{Secs: nanos / int64(time.Second), Nsecs: nanos % int64(time.Second)}
}

// IsZero reports whether the timestamp was never set.
func (t Time) IsZero() bool {
	return t.Secs == 0 && t.Nsecs == 0
}

// Seconds returns the timestamp as fractional seconds.
func (t Time) Seconds() float64 {
	return float64(t.Secs) + float64(t.Nsecs)/float64(time.Second)
}

// Time converts the timestamp to a time.Time.
func (t Time) Time() time.Time {
	return time.Unix(t.Secs, t.Nsecs)
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	return time.Duration(t.Secs-u.Secs)*time.Second + time.Duration(t.Nsecs-u.Nsecs)
}

// Header is the standard ROS message header.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// JointState is a sensor_msgs/JointState message. Position, velocity and effort are indexed like
// Name; any of them may be empty.
type JointState struct {
	Header   Header    `json:"header"`
	Name     []string  `json:"name"`
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
	Effort   []float64 `json:"effort"`
}

// Clone returns a deep copy of the message.
func (js *JointState) Clone() *JointState {
	if js == nil {
		return nil
	}
	return &JointState{
		Header:   js.Header,
		Name:     append([]string(nil), js.Name...),
		Position: append([]float64(nil), js.Position...),
		Velocity: append([]float64(nil), js.Velocity...),
		Effort:   append([]float64(nil), js.Effort...),
	}
}

// Index returns the position of the named joint, or -1.
func (js *JointState) Index(name string) int {
	for i, n := range js.Name {
		if n == name {
			return i
		}
	}
	return -1
}

// JointPositions is a baxter_msgs/JointPositions command.
type JointPositions struct {
	Names  []string  `json:"names"`
	Angles []float64 `json:"angles"`
}

// JointVelocities is a baxter_msgs/JointVelocities command.
type JointVelocities struct {
	Names      []string  `json:"names"`
	Velocities []float64 `json:"velocities"`
}

// ValueAt returns values[i], or NaN when i is out of range.
func ValueAt(values []float64, i int) float64 {
	if i < 0 || i >= len(values) {
		return math.NaN()
	}
	return values[i]
}

// JointStatesTopic is the topic an arm publishes its joint states on.
func JointStatesTopic(arm string) string {
	return "/robot/limb/" + arm + "/joint_states"
}

// CommandAnglesTopic is the topic joint position commands for an arm are published on.
func CommandAnglesTopic(arm string) string {
	return "/robot/limb/" + arm + "/command_joint_angles"
}

// CommandVelocitiesTopic is the topic joint velocity commands for an arm are published on.
func CommandVelocitiesTopic(arm string) string {
	return "/robot/limb/" + arm + "/command_joint_velocities"
}
