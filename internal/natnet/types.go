package natnet

import (
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// NatNet message identifiers.
const (
	MessageFrameOfData      uint16 = 7 // motion capture frame
	MessageModelDefinitions uint16 = 5 // data description, not decoded
)

// Wire layout constants.
const (
	HeaderSize          = 4  // u16 messageType + u16 byteCount
	MarkerPositionSize  = 12 // Vec3f
	MarkerIDSize        = 4  // i32
	MarkerSizeSize      = 4  // f32
	RigidBodyRecordSize = 32 // i32 id + 7 × f32

	// MaxPayloadSize is the largest payload a u16 byte count can declare.
	MaxPayloadSize = 0xFFFF
)

// Decoder defaults.
const (
	DefaultSourceFrame = "map"

	// DefaultMaxMarkersPerBody bounds the per-body marker count. A larger
	// value almost always means the offset has drifted out of sync.
	DefaultMaxMarkersPerBody = 100
)

// Frame is the result of decoding one datagram.
type Frame struct {
	MessageType uint16
	FrameNumber int32
	Poses       []PoseTransform
}

// IsMotionFrame reports whether the datagram was a frame-of-data message.
// Other message types decode to an empty Frame with no error.
func (f Frame) IsMotionFrame() bool {
	return f.MessageType == MessageFrameOfData
}

// PoseTransform is the pose of one rigid body relative to SourceFrame.
//
// Rotation is a unit quaternion with Real holding w and Imag, Jmag, Kmag
// holding x, y, z.
type PoseTransform struct {
	SourceFrame string
	TargetFrame string
	BodyID      int32
	Translation r3.Vec
	Rotation    quat.Number
	MeanError   float32
	Stamp       time.Time
}

// Marker is one labelled marker belonging to a rigid body.
type Marker struct {
	Position [3]float32
	ID       int32
	Size     float32
}

// MarkerSet is a named group of marker positions.
type MarkerSet struct {
	Name    string
	Markers [][3]float32
}

// RigidBody is a rigid-body record as it appears on the wire.
// Orientation is ordered qx, qy, qz, qw.
type RigidBody struct {
	ID          int32
	Position    [3]float32
	Orientation [4]float32
	Markers     []Marker
	MeanError   float32
	Valid       bool
}

// MotionFrame is the full content of a frame-of-data message.
type MotionFrame struct {
	FrameNumber  int32
	MarkerSets   []MarkerSet
	Unidentified [][3]float32
	RigidBodies  []RigidBody
}
