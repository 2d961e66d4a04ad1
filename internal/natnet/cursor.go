package natnet

import (
	"bytes"
	"encoding/binary"
	"math"
)

// cursor is a forward-only read position over a fixed byte slice.
// Every accessor checks the remaining length before touching the slice.
type cursor struct {
	buf   []byte
	off   int
	order binary.ByteOrder
}

func newCursor(buf []byte, order binary.ByteOrder) *cursor {
	return &cursor{buf: buf, order: order}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

// need fails with ErrTruncated unless n more bytes are available.
func (c *cursor) need(n int, field string) error {
	if n > c.remaining() {
		return truncated(field, c.off, int64(n), c.remaining())
	}
	return nil
}

// limit shrinks the readable window to the next n bytes.
func (c *cursor) limit(n int, field string) error {
	if err := c.need(n, field); err != nil {
		return err
	}
	c.buf = c.buf[:c.off+n]
	return nil
}

func (c *cursor) uint16(field string) (uint16, error) {
	if err := c.need(2, field); err != nil {
		return 0, err
	}
	v := c.order.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

func (c *cursor) int16(field string) (int16, error) {
	v, err := c.uint16(field)
	return int16(v), err
}

func (c *cursor) uint32(field string) (uint32, error) {
	if err := c.need(4, field); err != nil {
		return 0, err
	}
	v := c.order.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) int32(field string) (int32, error) {
	v, err := c.uint32(field)
	return int32(v), err
}

func (c *cursor) float32(field string) (float32, error) {
	v, err := c.uint32(field)
	return math.Float32frombits(v), err
}

// count reads an i32 element count and rejects negative values.
func (c *cursor) count(field string) (int, error) {
	at := c.off
	v, err := c.int32(field)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, malformed(field, at, "negative count %d", v)
	}
	return int(v), nil
}

// skip advances past count records of size bytes each without reading them.
func (c *cursor) skip(count, size int, field string) error {
	n := int64(count) * int64(size)
	if n > int64(c.remaining()) {
		return truncated(field, c.off, n, c.remaining())
	}
	c.off += int(n)
	return nil
}

// cstring reads a NUL-terminated string and consumes the terminator.
func (c *cursor) cstring(field string) (string, error) {
	rest := c.buf[c.off:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", &DecodeError{
			Field:  field,
			Offset: c.off,
			Detail: "missing NUL terminator",
			Err:    ErrTruncated,
		}
	}
	s := string(rest[:end])
	c.off += end + 1
	return s, nil
}
