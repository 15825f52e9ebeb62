package wire

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorReadWrite(t *testing.T) {
	buf := make([]byte, 1+2+3+4+6+8)
	c := NewCursor(buf)
	require.NoError(t, c.WriteUint8(0xab))
	require.NoError(t, c.WriteUint16(0x1234))
	require.NoError(t, c.WriteUint24(0x563412))
	require.NoError(t, c.WriteUint32(0xdeadbeef))
	require.NoError(t, c.WriteUint48(0x0000feedfacecafe&0xffffffffffff))
	require.NoError(t, c.WriteUint64(math.MaxUint64-1))
	assert.True(t, c.AtEnd())

	assert.Equal(t, []byte{0x34, 0x12}, buf[1:3])

	r := NewCursor(buf)
	u8, _ := r.ReadUint8()
	u16, _ := r.ReadUint16()
	u24, _ := r.ReadUint24()
	u32, _ := r.ReadUint32()
	u48, _ := r.ReadUint48()
	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), u8)
	assert.Equal(t, uint16(0x1234), u16)
	assert.Equal(t, uint32(0x563412), u24)
	assert.Equal(t, uint32(0xdeadbeef), u32)
	assert.Equal(t, uint64(0xfeedfacecafe), u48)
	assert.Equal(t, uint64(math.MaxUint64-1), u64)
	assert.Equal(t, 0, r.Remaining())
}

func TestCursorBounds(t *testing.T) {
	buf := []byte{1, 2, 3}
	c := NewCursor(buf)

	_, err := c.ReadUint32()
	assert.True(t, errors.Is(err, ErrOutOfBounds))
	assert.Equal(t, 0, c.Offset(), "failed read must not move the cursor")

	require.NoError(t, c.Forward(2))
	assert.ErrorIs(t, c.WriteUint16(7), ErrOutOfBounds)
	assert.Equal(t, []byte{1, 2, 3}, buf, "failed write must not touch the region")

	_, err = c.ReadBytes(2)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, c.Forward(-1), ErrOutOfBounds)
	assert.ErrorIs(t, c.Seek(4), ErrOutOfBounds)
	assert.Equal(t, []byte{3}, c.ReadRest())
	assert.True(t, c.AtEnd())
}

func TestLengthEncodedIntRoundTrip(t *testing.T) {
	tests := []struct {
		value uint64
		size  int
		first byte
	}{
		{0, 1, 0x00},
		{250, 1, 0xfa},
		{251, 3, 0xfc},
		{65535, 3, 0xfc},
		{65536, 4, 0xfd},
		{16777215, 4, 0xfd},
		{16777216, 9, 0xfe},
		{math.MaxUint64, 9, 0xfe},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.size, LengthEncodedIntSize(tt.value), "size of %d", tt.value)

		appended := AppendLengthEncodedInt(nil, tt.value)
		require.Len(t, appended, tt.size)
		assert.Equal(t, tt.first, appended[0])

		buf := make([]byte, tt.size)
		c := NewCursor(buf)
		require.NoError(t, c.PutLengthEncodedInt(tt.value))
		assert.True(t, c.AtEnd())
		assert.Equal(t, appended, buf)

		v, n, err := DecodeLengthEncodedInt(buf)
		require.NoError(t, err)
		assert.Equal(t, tt.value, v)
		assert.Equal(t, tt.size, n)
	}
}

func TestLengthEncodedIntErrors(t *testing.T) {
	_, _, err := DecodeLengthEncodedInt([]byte{0xfb})
	assert.ErrorIs(t, err, ErrInvalidLengthEncoding)
	_, _, err = DecodeLengthEncodedInt([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidLengthEncoding)
	_, _, err = DecodeLengthEncodedInt([]byte{0xfd, 0x01})
	assert.ErrorIs(t, err, ErrOutOfBounds)

	c := NewCursor(make([]byte, 2))
	assert.ErrorIs(t, c.PutLengthEncodedInt(70000), ErrOutOfBounds)
}

func TestDecimalKnownLayout(t *testing.T) {
	b, err := EncodeDecimal("1234567890.1234", 14, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x0d, 0xfb, 0x38, 0xd2, 0x04, 0xd2}, b)

	b, err = EncodeDecimal("-1234567890.1234", 14, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7e, 0xf2, 0x04, 0xc7, 0x2d, 0xfb, 0x2d}, b)
	assert.Equal(t, 7, DecimalBinSize(14, 4))
}

func TestDecimalRoundTrip(t *testing.T) {
	tests := []struct {
		in        string
		precision int
		scale     int
		want      string
	}{
		{"0", 10, 0, "0"},
		{"-0.00", 5, 2, "0.00"},
		{"42", 10, 2, "42.00"},
		{"-42.5", 10, 2, "-42.50"},
		{"0001.50", 4, 2, "1.50"},
		{"1000000000.000000001", 19, 9, "1000000000.000000001"},
		{"-999999999999999999.123456789012", 30, 12, "-999999999999999999.123456789012"},
		{".5", 3, 1, "0.5"},
		{"+7", 1, 0, "7"},
		{"1.239", 4, 2, "1.23"},
		{"-0.000000000000000000000000000001", 31, 30, "-0.000000000000000000000000000001"},
	}

	for _, tt := range tests {
		b, err := EncodeDecimal(tt.in, tt.precision, tt.scale)
		require.NoError(t, err, tt.in)
		assert.Len(t, b, DecimalBinSize(tt.precision, tt.scale), tt.in)

		got, err := DecodeDecimal(b, tt.precision, tt.scale)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDecimalErrors(t *testing.T) {
	_, err := EncodeDecimal("123", 4, 2)
	assert.ErrorIs(t, err, ErrDecimalOverflow)

	for _, bad := range []string{"", "-", ".", "1e5", "12a", "1.2.3"} {
		_, err := EncodeDecimal(bad, 10, 2)
		assert.ErrorIs(t, err, ErrInvalidDecimal, bad)
	}

	_, err = EncodeDecimal("1", 66, 0)
	assert.Error(t, err)
	_, err = EncodeDecimal("1", 5, 6)
	assert.Error(t, err)

	_, err = DecodeDecimal([]byte{0x80}, 10, 2)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestDecimalOrderingMatchesValue(t *testing.T) {
	// Packed decimals compare bytewise in numeric order.
	values := []string{"-100.5", "-1.25", "-0.01", "0", "0.01", "1.25", "100.5"}
	var prev []byte
	for _, v := range values {
		b, err := EncodeDecimal(v, 8, 2)
		require.NoError(t, err)
		if prev != nil {
			assert.Negative(t, compareBytes(prev, b), "%s should sort after its predecessor", v)
		}
		prev = b
	}
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return 0
}

func TestDatetime2RoundTrip(t *testing.T) {
	base := time.Date(2024, time.March, 15, 13, 45, 59, 123456000, time.UTC)
	for fsp := 0; fsp <= 6; fsp++ {
		b, err := EncodeDatetime2(base, fsp)
		require.NoError(t, err)
		assert.Len(t, b, 5+FractionalBytes(fsp))

		got, err := DecodeDatetime2(b, fsp)
		require.NoError(t, err)
		want := base.Truncate(time.Duration(microPow10[fsp]) * time.Microsecond)
		assert.True(t, want.Equal(got), "fsp %d: want %v got %v", fsp, want, got)
	}

	b, err := EncodeDatetime2(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), b[0]&0x80)
}

func TestTimestamp2RoundTrip(t *testing.T) {
	b, err := EncodeTimestamp2(1700000000, 654321, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x65, 0x53, 0xf1, 0x00}, b[:4])

	sec, usec, err := DecodeTimestamp2(b, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), sec)
	assert.Equal(t, 654000, usec)

	_, err = EncodeTimestamp2(-1, 0, 0)
	assert.Error(t, err)
}

func TestTime2RoundTrip(t *testing.T) {
	durations := []time.Duration{
		0,
		time.Second,
		-1500 * time.Millisecond,
		-500 * time.Millisecond,
		838*time.Hour + 59*time.Minute + 59*time.Second,
		-(838*time.Hour + 59*time.Minute + 59*time.Second),
		12*time.Hour + 34*time.Minute + 56*time.Second + 789012*time.Microsecond,
		-(12*time.Hour + 34*time.Minute + 56*time.Second + 789012*time.Microsecond),
	}
	for fsp := 0; fsp <= 6; fsp++ {
		for _, d := range durations {
			b, err := EncodeTime2(d, fsp)
			require.NoError(t, err)
			assert.Len(t, b, 3+FractionalBytes(fsp))

			got, err := DecodeTime2(b, fsp)
			require.NoError(t, err)

			unit := time.Duration(microPow10[fsp]) * time.Microsecond
			want := d.Truncate(unit)
			assert.Equal(t, want, got, "fsp %d duration %v", fsp, d)
		}
	}

	zero, err := EncodeTime2(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x00, 0x00}, zero)

	_, err = EncodeTime2(839*time.Hour, 0)
	assert.Error(t, err)
}

func TestDateAndYear(t *testing.T) {
	b, err := EncodeDate(2024, 3, 15)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x6f, 0xd0, 0x0f}, b)

	y, m, d, err := DecodeDate(b)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 3, 15}, []int{y, m, d})

	_, err = EncodeDate(2024, 13, 1)
	assert.Error(t, err)

	yb, err := EncodeYear(2024)
	require.NoError(t, err)
	assert.Equal(t, byte(124), yb)
	yb, err = EncodeYear(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), yb)
	_, err = EncodeYear(1800)
	assert.Error(t, err)
}
