package wire

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a read or write would cross the end of the region.
var ErrOutOfBounds = errors.New("wire: access out of bounds")

// Cursor is a little-endian reader/writer over a fixed byte region.
// It never grows the region and never touches bytes past its end.
type Cursor struct {
	buf []byte
	off int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

func (c *Cursor) Offset() int    { return c.off }
func (c *Cursor) Len() int       { return len(c.buf) }
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }
func (c *Cursor) AtEnd() bool    { return c.off == len(c.buf) }

// Bytes returns the whole underlying region.
func (c *Cursor) Bytes() []byte { return c.buf }

func (c *Cursor) check(n int) error {
	if n < 0 || n > len(c.buf)-c.off {
		return fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrOutOfBounds, n, c.off, len(c.buf))
	}
	return nil
}

// Forward skips n bytes.
func (c *Cursor) Forward(n int) error {
	if err := c.check(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

// Seek moves to an absolute offset within the region.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("%w: seek to %d of %d", ErrOutOfBounds, off, len(c.buf))
	}
	c.off = off
	return nil
}

// ReadUint reads an unsigned little-endian integer of 1 to 8 bytes.
func (c *Cursor) ReadUint(width int) (uint64, error) {
	if width < 1 || width > 8 {
		return 0, fmt.Errorf("wire: invalid integer width %d", width)
	}
	if err := c.check(width); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(c.buf[c.off+i]) << (8 * i)
	}
	c.off += width
	return v, nil
}

func (c *Cursor) ReadUint8() (uint8, error) {
	v, err := c.ReadUint(1)
	return uint8(v), err
}

func (c *Cursor) ReadUint16() (uint16, error) {
	v, err := c.ReadUint(2)
	return uint16(v), err
}

func (c *Cursor) ReadUint24() (uint32, error) {
	v, err := c.ReadUint(3)
	return uint32(v), err
}

func (c *Cursor) ReadUint32() (uint32, error) {
	v, err := c.ReadUint(4)
	return uint32(v), err
}

func (c *Cursor) ReadUint48() (uint64, error) {
	return c.ReadUint(6)
}

func (c *Cursor) ReadUint64() (uint64, error) {
	return c.ReadUint(8)
}

// ReadBytes returns the next n bytes. The slice aliases the region.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.check(n); err != nil {
		return nil, err
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// ReadRest returns everything from the offset to the end of the region.
func (c *Cursor) ReadRest() []byte {
	b := c.buf[c.off:]
	c.off = len(c.buf)
	return b
}

// WriteUint writes v as an unsigned little-endian integer of 1 to 8 bytes.
// Bits of v above the width are dropped.
func (c *Cursor) WriteUint(width int, v uint64) error {
	if width < 1 || width > 8 {
		return fmt.Errorf("wire: invalid integer width %d", width)
	}
	if err := c.check(width); err != nil {
		return err
	}
	for i := 0; i < width; i++ {
		c.buf[c.off+i] = byte(v >> (8 * i))
	}
	c.off += width
	return nil
}

func (c *Cursor) WriteUint8(v uint8) error   { return c.WriteUint(1, uint64(v)) }
func (c *Cursor) WriteUint16(v uint16) error { return c.WriteUint(2, uint64(v)) }
func (c *Cursor) WriteUint24(v uint32) error { return c.WriteUint(3, uint64(v)) }
func (c *Cursor) WriteUint32(v uint32) error { return c.WriteUint(4, uint64(v)) }
func (c *Cursor) WriteUint48(v uint64) error { return c.WriteUint(6, v) }
func (c *Cursor) WriteUint64(v uint64) error { return c.WriteUint(8, v) }

func (c *Cursor) WriteBytes(b []byte) error {
	if err := c.check(len(b)); err != nil {
		return err
	}
	c.off += copy(c.buf[c.off:], b)
	return nil
}

func (c *Cursor) WriteString(s string) error {
	if err := c.check(len(s)); err != nil {
		return err
	}
	c.off += copy(c.buf[c.off:], s)
	return nil
}

// WriteZeros writes n zero bytes.
func (c *Cursor) WriteZeros(n int) error {
	if err := c.check(n); err != nil {
		return err
	}
	clear(c.buf[c.off : c.off+n])
	c.off += n
	return nil
}
