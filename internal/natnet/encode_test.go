package natnet

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func TestEncodeMotionFrame_Layout(t *testing.T) {
	f := MotionFrame{
		FrameNumber:  9,
		MarkerSets:   []MarkerSet{{Name: "rb", Markers: [][3]float32{{1, 2, 3}}}},
		Unidentified: [][3]float32{{4, 5, 6}},
		RigidBodies: []RigidBody{{
			ID:          3,
			Orientation: [4]float32{0, 0, 0, 1},
			Markers:     []Marker{{ID: 1, Size: 0.02}},
			Valid:       true,
		}},
	}
	buf, err := NewEncoder(nil).EncodeMotionFrame(f)
	require.NoError(t, err)

	// frame(4) + set count(4) + "rb\0"(3) + count(4) + 1 marker(12)
	// + unidentified count(4) + 1 marker(12) + body count(4)
	// + record(32) + count(4) + 1×(12+4+4) + mean error(4) + valid(2)
	wantPayload := 4 + 4 + 3 + 4 + 12 + 4 + 12 + 4 + 32 + 4 + 20 + 4 + 2
	assert.Equal(t, HeaderSize+wantPayload, len(buf))
	assert.Equal(t, MessageFrameOfData, binary.LittleEndian.Uint16(buf[0:]))
	assert.Equal(t, uint16(wantPayload), binary.LittleEndian.Uint16(buf[2:]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[len(buf)-2:]))
}

func TestEncodeMotionFrame_RejectsNULName(t *testing.T) {
	_, err := NewEncoder(nil).EncodeMotionFrame(MotionFrame{
		MarkerSets: []MarkerSet{{Name: "bad\x00name"}},
	})
	assert.Error(t, err)
}

func TestEncodeMessage_TooLarge(t *testing.T) {
	_, err := NewEncoder(nil).EncodeMessage(MessageFrameOfData, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	f := MotionFrame{MarkerSets: []MarkerSet{{Name: strings.Repeat("x", MaxPayloadSize)}}}
	_, err = NewEncoder(nil).EncodeMotionFrame(f)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestNormalize(t *testing.T) {
	q, err := Normalize(quat.Number{Real: 0, Imag: 3, Jmag: 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, q.Imag, 1e-12)
	assert.InDelta(t, 0.8, q.Jmag, 1e-12)
	assert.True(t, IsUnit(q))

	_, err = Normalize(quat.Number{})
	assert.Error(t, err)

	assert.False(t, IsUnit(quat.Number{Real: 1.1}))
}
