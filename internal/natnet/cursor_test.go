package natnet

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_FixedWidthReads(t *testing.T) {
	w := writer{order: binary.LittleEndian}
	w.uint16(0xBEEF)
	w.uint16(uint16(0xFFFE)) // -2 as i16
	w.int32(-7)
	w.float32(3.25)

	c := newCursor(w.buf, binary.LittleEndian)

	u, err := c.uint16("u16")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), u)

	i16, err := c.int16("i16")
	require.NoError(t, err)
	assert.Equal(t, int16(-2), i16)

	i32, err := c.int32("i32")
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i32)

	f, err := c.float32("f32")
	require.NoError(t, err)
	assert.Equal(t, float32(3.25), f)

	assert.Equal(t, 0, c.remaining())
	_, err = c.uint16("past end")
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestCursor_ShortReadDoesNotAdvance(t *testing.T) {
	c := newCursor([]byte{1, 2, 3}, binary.LittleEndian)
	_, err := c.int32("i32")
	require.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, 0, c.off)
}

func TestCursor_Skip(t *testing.T) {
	c := newCursor(make([]byte, 30), binary.LittleEndian)
	require.NoError(t, c.skip(2, MarkerPositionSize, "markers"))
	assert.Equal(t, 24, c.off)

	err := c.skip(1, MarkerPositionSize, "markers")
	require.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, 24, c.off)

	// The product is computed in 64 bits so it cannot wrap.
	err = c.skip(math.MaxInt32, MarkerPositionSize, "markers")
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestCursor_Count(t *testing.T) {
	w := writer{order: binary.LittleEndian}
	w.int32(3)
	w.int32(-1)
	c := newCursor(w.buf, binary.LittleEndian)

	n, err := c.count("first")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = c.count("second")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCursor_CString(t *testing.T) {
	c := newCursor([]byte("rigid\x00\x00tail"), binary.LittleEndian)

	s, err := c.cstring("name")
	require.NoError(t, err)
	assert.Equal(t, "rigid", s)

	s, err = c.cstring("empty")
	require.NoError(t, err)
	assert.Equal(t, "", s)

	_, err = c.cstring("unterminated")
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestCursor_Limit(t *testing.T) {
	c := newCursor(make([]byte, 10), binary.LittleEndian)
	_, _ = c.uint16("skip")

	require.NoError(t, c.limit(4, "payload"))
	assert.Equal(t, 4, c.remaining())

	err := c.limit(5, "payload")
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeError_Message(t *testing.T) {
	err := truncated("rigid body", 40, 32, 10)
	assert.Equal(t, "natnet: rigid body at offset 40: truncated datagram: need 32 bytes, have 10", err.Error())

	err = &DecodeError{Field: "x", Offset: 1, Err: ErrMalformed}
	assert.Equal(t, "natnet: x at offset 1: malformed datagram", err.Error())
}
