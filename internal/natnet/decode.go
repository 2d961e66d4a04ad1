package natnet

import (
	"encoding/binary"
	"time"
)

// DecoderConfig configures a Decoder. Zero values select the defaults.
type DecoderConfig struct {
	// SourceFrame labels the parent frame of every emitted pose.
	SourceFrame string
	// MaxMarkersPerBody is the sanity ceiling for a rigid body's marker count.
	MaxMarkersPerBody int
	// ByteOrder of the tracking server. OptiTrack Motive runs on x86 and
	// transmits little-endian.
	ByteOrder binary.ByteOrder
}

// Decoder turns NatNet datagrams into frames. It holds only immutable
// configuration and is safe for concurrent use.
type Decoder struct {
	sourceFrame string
	maxMarkers  int
	order       binary.ByteOrder
}

// NewDecoder creates a Decoder, filling unset fields with defaults.
func NewDecoder(cfg DecoderConfig) *Decoder {
	d := &Decoder{
		sourceFrame: cfg.SourceFrame,
		maxMarkers:  cfg.MaxMarkersPerBody,
		order:       cfg.ByteOrder,
	}
	if d.sourceFrame == "" {
		d.sourceFrame = DefaultSourceFrame
	}
	if d.maxMarkers <= 0 {
		d.maxMarkers = DefaultMaxMarkersPerBody
	}
	if d.order == nil {
		d.order = binary.LittleEndian
	}
	return d
}

// SourceFrame returns the parent frame label stamped on every pose.
func (d *Decoder) SourceFrame() string {
	return d.sourceFrame
}

// Decode parses one datagram. now becomes the Stamp of every pose, since the
// wire format carries no capture time usable by consumers.
//
// Messages other than frame-of-data decode to a Frame carrying only
// MessageType and a nil error. On failure the returned Frame is empty.
func (d *Decoder) Decode(buf []byte, now time.Time) (Frame, error) {
	c := newCursor(buf, d.order)

	msgType, err := c.uint16("message type")
	if err != nil {
		return Frame{}, err
	}
	byteCount, err := c.uint16("byte count")
	if err != nil {
		return Frame{}, err
	}
	if msgType != MessageFrameOfData {
		return Frame{MessageType: msgType}, nil
	}
	if err := c.limit(int(byteCount), "payload"); err != nil {
		return Frame{}, err
	}

	frame, err := d.decodeMotionFrame(c, now)
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func (d *Decoder) decodeMotionFrame(c *cursor, now time.Time) (Frame, error) {
	frameNumber, err := c.int32("frame number")
	if err != nil {
		return Frame{}, err
	}

	names, err := readMarkerSets(c)
	if err != nil {
		return Frame{}, err
	}

	unidentified, err := c.count("unidentified marker count")
	if err != nil {
		return Frame{}, err
	}
	if err := c.skip(unidentified, MarkerPositionSize, "unidentified markers"); err != nil {
		return Frame{}, err
	}

	bodyCount, err := c.count("rigid body count")
	if err != nil {
		return Frame{}, err
	}

	// Capacity is bounded by what the remaining bytes could hold so a
	// corrupt count cannot force a large allocation.
	poses := make([]PoseTransform, 0, min(bodyCount, c.remaining()/RigidBodyRecordSize))
	for i := 0; i < bodyCount; i++ {
		at := c.off
		body, err := readRigidBodyRecord(c)
		if err != nil {
			return Frame{}, err
		}
		if i >= len(names) {
			return Frame{}, malformed("rigid body name", at,
				"body %d has no marker set (only %d names)", i, len(names))
		}
		if err := d.readRigidBodyTail(c, &body); err != nil {
			return Frame{}, err
		}
		if !body.Valid {
			continue
		}
		pose, err := extractPose(body, d.sourceFrame, names[i], now)
		if err != nil {
			return Frame{}, malformed("rigid body orientation", at+4+12, "body %d (%s): %v", body.ID, names[i], err)
		}
		poses = append(poses, pose)
	}

	return Frame{
		MessageType: MessageFrameOfData,
		FrameNumber: frameNumber,
		Poses:       poses,
	}, nil
}

// readMarkerSets traverses the marker-set block and returns the set names
// in wire order. Marker positions are skipped.
func readMarkerSets(c *cursor) ([]string, error) {
	setCount, err := c.count("marker set count")
	if err != nil {
		return nil, err
	}

	// Each set needs at least a terminator and a count.
	names := make([]string, 0, min(setCount, c.remaining()/5))
	for i := 0; i < setCount; i++ {
		name, err := c.cstring("marker set name")
		if err != nil {
			return nil, err
		}
		markers, err := c.count("marker set marker count")
		if err != nil {
			return nil, err
		}
		if err := c.skip(markers, MarkerPositionSize, "marker set markers"); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// readRigidBodyRecord reads the fixed 32-byte id, position and
// orientation record that opens every rigid body.
func readRigidBodyRecord(c *cursor) (RigidBody, error) {
	var body RigidBody
	if err := c.need(RigidBodyRecordSize, "rigid body"); err != nil {
		return body, err
	}
	body.ID, _ = c.int32("rigid body id")
	for i := range body.Position {
		body.Position[i], _ = c.float32("rigid body position")
	}
	for i := range body.Orientation {
		body.Orientation[i], _ = c.float32("rigid body orientation")
	}
	return body, nil
}

// readRigidBodyTail reads the variable part of a rigid body: the marker
// block (skipped), mean error and validity flag.
func (d *Decoder) readRigidBodyTail(c *cursor, body *RigidBody) error {
	at := c.off
	markers, err := c.int32("rigid body marker count")
	if err != nil {
		return err
	}
	if markers < 0 || int(markers) > d.maxMarkers {
		return malformed("rigid body marker count", at,
			"body %d reports %d markers (limit %d)", body.ID, markers, d.maxMarkers)
	}
	n := int(markers)
	if err := c.skip(n, MarkerPositionSize, "rigid body marker positions"); err != nil {
		return err
	}
	if err := c.skip(n, MarkerIDSize, "rigid body marker ids"); err != nil {
		return err
	}
	if err := c.skip(n, MarkerSizeSize, "rigid body marker sizes"); err != nil {
		return err
	}

	body.MeanError, err = c.float32("rigid body mean error")
	if err != nil {
		return err
	}
	valid, err := c.int16("rigid body valid flag")
	if err != nil {
		return err
	}
	body.Valid = valid != 0
	return nil
}
