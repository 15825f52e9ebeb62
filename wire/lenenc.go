package wire

import (
	"errors"
	"fmt"
)

// ErrInvalidLengthEncoding is returned for the reserved 0xFB and 0xFF prefixes.
var ErrInvalidLengthEncoding = errors.New("wire: invalid length-encoded integer")

const (
	lenencTwoBytes   = 0xfc
	lenencThreeBytes = 0xfd
	lenencEightBytes = 0xfe
)

// LengthEncodedIntSize returns how many bytes v occupies as a MySQL length-encoded integer.
func LengthEncodedIntSize(v uint64) int {
	switch {
	case v < 251:
		return 1
	case v < 1<<16:
		return 3
	case v < 1<<24:
		return 4
	default:
		return 9
	}
}

// AppendLengthEncodedInt appends v to dst.
func AppendLengthEncodedInt(dst []byte, v uint64) []byte {
	switch {
	case v < 251:
		return append(dst, byte(v))
	case v < 1<<16:
		return append(dst, lenencTwoBytes, byte(v), byte(v>>8))
	case v < 1<<24:
		return append(dst, lenencThreeBytes, byte(v), byte(v>>8), byte(v>>16))
	default:
		return append(dst, lenencEightBytes,
			byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
			byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
	}
}

// PutLengthEncodedInt writes v at the cursor.
func (c *Cursor) PutLengthEncodedInt(v uint64) error {
	size := LengthEncodedIntSize(v)
	if err := c.check(size); err != nil {
		return err
	}
	switch size {
	case 1:
		return c.WriteUint8(uint8(v))
	case 3:
		c.buf[c.off] = lenencTwoBytes
		c.off++
		return c.WriteUint(2, v)
	case 4:
		c.buf[c.off] = lenencThreeBytes
		c.off++
		return c.WriteUint(3, v)
	default:
		c.buf[c.off] = lenencEightBytes
		c.off++
		return c.WriteUint(8, v)
	}
}

// ReadLengthEncodedInt reads a length-encoded integer at the cursor.
func (c *Cursor) ReadLengthEncodedInt() (uint64, error) {
	start := c.off
	first, err := c.ReadUint8()
	if err != nil {
		return 0, err
	}
	var v uint64
	switch {
	case first < 251:
		return uint64(first), nil
	case first == lenencTwoBytes:
		v, err = c.ReadUint(2)
	case first == lenencThreeBytes:
		v, err = c.ReadUint(3)
	case first == lenencEightBytes:
		v, err = c.ReadUint(8)
	default:
		c.off = start
		return 0, fmt.Errorf("%w: prefix 0x%02x at offset %d", ErrInvalidLengthEncoding, first, start)
	}
	if err != nil {
		c.off = start
		return 0, err
	}
	return v, nil
}

// DecodeLengthEncodedInt decodes a length-encoded integer at the start of b and
// returns the value and the number of bytes consumed.
func DecodeLengthEncodedInt(b []byte) (uint64, int, error) {
	c := NewCursor(b)
	v, err := c.ReadLengthEncodedInt()
	if err != nil {
		return 0, 0, err
	}
	return v, c.Offset(), nil
}
