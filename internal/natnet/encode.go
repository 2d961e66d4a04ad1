package natnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrPayloadTooLarge is returned when an encoded payload exceeds what a
// u16 byte count can declare.
var ErrPayloadTooLarge = errors.New("natnet: payload exceeds 65535 bytes")

// Encoder writes NatNet messages. It is the inverse of Decoder and exists
// for synthetic streams, fixtures and replay tooling.
type Encoder struct {
	order binary.ByteOrder
}

// NewEncoder creates an Encoder. A nil order selects little-endian.
func NewEncoder(order binary.ByteOrder) *Encoder {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Encoder{order: order}
}

// EncodeMessage prefixes payload with a message header.
func (e *Encoder) EncodeMessage(msgType uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	w := writer{order: e.order, buf: make([]byte, 0, HeaderSize+len(payload))}
	w.uint16(msgType)
	w.uint16(uint16(len(payload)))
	w.buf = append(w.buf, payload...)
	return w.buf, nil
}

// EncodeMotionFrame encodes f as a complete frame-of-data datagram.
func (e *Encoder) EncodeMotionFrame(f MotionFrame) ([]byte, error) {
	w := writer{order: e.order}

	w.int32(f.FrameNumber)
	w.int32(int32(len(f.MarkerSets)))
	for _, set := range f.MarkerSets {
		if strings.IndexByte(set.Name, 0) >= 0 {
			return nil, fmt.Errorf("natnet: marker set name %q contains NUL", set.Name)
		}
		w.buf = append(w.buf, set.Name...)
		w.buf = append(w.buf, 0)
		w.int32(int32(len(set.Markers)))
		for _, m := range set.Markers {
			w.vec3(m)
		}
	}

	w.int32(int32(len(f.Unidentified)))
	for _, m := range f.Unidentified {
		w.vec3(m)
	}

	w.int32(int32(len(f.RigidBodies)))
	for _, b := range f.RigidBodies {
		w.int32(b.ID)
		w.vec3(b.Position)
		for _, v := range b.Orientation {
			w.float32(v)
		}
		w.int32(int32(len(b.Markers)))
		for _, m := range b.Markers {
			w.vec3(m.Position)
		}
		for _, m := range b.Markers {
			w.int32(m.ID)
		}
		for _, m := range b.Markers {
			w.float32(m.Size)
		}
		w.float32(b.MeanError)
		if b.Valid {
			w.uint16(1)
		} else {
			w.uint16(0)
		}
	}

	return e.EncodeMessage(MessageFrameOfData, w.buf)
}

type writer struct {
	order binary.ByteOrder
	buf   []byte
	tmp   [4]byte
}

func (w *writer) uint16(v uint16) {
	w.order.PutUint16(w.tmp[:2], v)
	w.buf = append(w.buf, w.tmp[:2]...)
}

func (w *writer) uint32(v uint32) {
	w.order.PutUint32(w.tmp[:], v)
	w.buf = append(w.buf, w.tmp[:]...)
}

func (w *writer) int32(v int32)     { w.uint32(uint32(v)) }
func (w *writer) float32(v float32) { w.uint32(math.Float32bits(v)) }

func (w *writer) vec3(v [3]float32) {
	for _, c := range v {
		w.float32(c)
	}
}
