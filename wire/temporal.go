package wire

import (
	"fmt"
	"time"
)

const (
	timeIntOffset     = 0x800000
	timeOffset        = 0x800000000000
	datetimeIntOffset = 0x8000000000

	maxTimeHours = 838
	maxFSP       = 6
)

var microPow10 = [maxFSP + 1]int{1000000, 100000, 10000, 1000, 100, 10, 1}

// FractionalBytes is the number of bytes used for fractional seconds at fsp.
func FractionalBytes(fsp int) int {
	return (fsp + 1) / 2
}

func checkFSP(fsp int) error {
	if fsp < 0 || fsp > maxFSP {
		return fmt.Errorf("wire: invalid fractional seconds precision %d", fsp)
	}
	return nil
}

// truncateMicros drops sub-precision digits from usec.
func truncateMicros(usec, fsp int) int {
	p := microPow10[fsp]
	return usec - usec%p
}

func appendBigEndian(dst []byte, v uint64, size int) []byte {
	for i := size - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

func readBigEndian(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func appendFraction(dst []byte, usec, fsp int) []byte {
	switch FractionalBytes(fsp) {
	case 1:
		return append(dst, byte(usec/10000))
	case 2:
		return appendBigEndian(dst, uint64(usec/100), 2)
	case 3:
		return appendBigEndian(dst, uint64(usec), 3)
	}
	return dst
}

func readFraction(b []byte, fsp int) int {
	switch FractionalBytes(fsp) {
	case 1:
		return int(b[0]) * 10000
	case 2:
		return int(readBigEndian(b[:2])) * 100
	case 3:
		return int(readBigEndian(b[:3]))
	}
	return 0
}

// EncodeDatetime2 packs the wall-clock fields of t as DATETIME(fsp).
func EncodeDatetime2(t time.Time, fsp int) ([]byte, error) {
	if err := checkFSP(fsp); err != nil {
		return nil, err
	}
	if t.Year() < 0 || t.Year() > 9999 {
		return nil, fmt.Errorf("wire: datetime year %d out of range", t.Year())
	}
	ymd := (uint64(t.Year())*13+uint64(t.Month()))<<5 | uint64(t.Day())
	hms := uint64(t.Hour())<<12 | uint64(t.Minute())<<6 | uint64(t.Second())
	out := make([]byte, 0, 5+FractionalBytes(fsp))
	out = appendBigEndian(out, (ymd<<17|hms)+datetimeIntOffset, 5)
	return appendFraction(out, truncateMicros(t.Nanosecond()/1000, fsp), fsp), nil
}

// DecodeDatetime2 is the inverse of EncodeDatetime2; the result is in UTC.
func DecodeDatetime2(b []byte, fsp int) (time.Time, error) {
	if err := checkFSP(fsp); err != nil {
		return time.Time{}, err
	}
	size := 5 + FractionalBytes(fsp)
	if len(b) < size {
		return time.Time{}, fmt.Errorf("%w: datetime needs %d bytes, have %d", ErrOutOfBounds, size, len(b))
	}
	packed := readBigEndian(b[:5]) - datetimeIntOffset
	ymd := packed >> 17
	hms := packed % (1 << 17)
	ym := ymd >> 5
	return time.Date(int(ym/13), time.Month(ym%13), int(ymd%(1<<5)),
		int(hms>>12), int((hms>>6)%(1<<6)), int(hms%(1<<6)),
		readFraction(b[5:], fsp)*1000, time.UTC), nil
}

// EncodeTimestamp2 packs epoch seconds plus microseconds as TIMESTAMP(fsp).
func EncodeTimestamp2(sec int64, usec int, fsp int) ([]byte, error) {
	if err := checkFSP(fsp); err != nil {
		return nil, err
	}
	if sec < 0 || sec > 1<<32-1 {
		return nil, fmt.Errorf("wire: timestamp %d out of range", sec)
	}
	if usec < 0 || usec > 999999 {
		return nil, fmt.Errorf("wire: invalid microseconds %d", usec)
	}
	out := make([]byte, 0, 4+FractionalBytes(fsp))
	out = appendBigEndian(out, uint64(sec), 4)
	return appendFraction(out, truncateMicros(usec, fsp), fsp), nil
}

func DecodeTimestamp2(b []byte, fsp int) (sec int64, usec int, err error) {
	if err := checkFSP(fsp); err != nil {
		return 0, 0, err
	}
	size := 4 + FractionalBytes(fsp)
	if len(b) < size {
		return 0, 0, fmt.Errorf("%w: timestamp needs %d bytes, have %d", ErrOutOfBounds, size, len(b))
	}
	return int64(readBigEndian(b[:4])), readFraction(b[4:], fsp), nil
}

// EncodeTime2 packs a signed duration as TIME(fsp). The magnitude must stay
// below 839 hours.
func EncodeTime2(d time.Duration, fsp int) ([]byte, error) {
	if err := checkFSP(fsp); err != nil {
		return nil, err
	}
	neg := d < 0
	if neg {
		d = -d
	}
	total := int64(d / time.Microsecond)
	usec := truncateMicros(int(total%1000000), fsp)
	secs := total / 1000000
	hours := secs / 3600
	if hours > maxTimeHours {
		return nil, fmt.Errorf("wire: time %v out of range", d)
	}
	hms := hours<<12 | ((secs/60)%60)<<6 | secs%60
	nr := hms<<24 + int64(usec)
	if neg {
		nr = -nr
	}

	intPart := nr >> 24
	frac := nr % (1 << 24)
	out := make([]byte, 0, 3+FractionalBytes(fsp))
	switch FractionalBytes(fsp) {
	case 0:
		out = appendBigEndian(out, uint64(intPart+timeIntOffset), 3)
	case 1:
		out = appendBigEndian(out, uint64(intPart+timeIntOffset), 3)
		out = append(out, byte(int8(frac/10000)))
	case 2:
		out = appendBigEndian(out, uint64(intPart+timeIntOffset), 3)
		out = appendBigEndian(out, uint64(uint16(int16(frac/100))), 2)
	default:
		out = appendBigEndian(out, uint64(nr+timeOffset), 6)
	}
	return out, nil
}

// DecodeTime2 is the inverse of EncodeTime2.
func DecodeTime2(b []byte, fsp int) (time.Duration, error) {
	if err := checkFSP(fsp); err != nil {
		return 0, err
	}
	size := 3 + FractionalBytes(fsp)
	if len(b) < size {
		return 0, fmt.Errorf("%w: time needs %d bytes, have %d", ErrOutOfBounds, size, len(b))
	}

	var nr int64
	switch FractionalBytes(fsp) {
	case 0:
		nr = (int64(readBigEndian(b[:3])) - timeIntOffset) << 24
	case 1:
		intPart := int64(readBigEndian(b[:3])) - timeIntOffset
		frac := int64(b[3])
		if intPart < 0 && frac != 0 {
			intPart++
			frac -= 0x100
		}
		nr = intPart<<24 + frac*10000
	case 2:
		intPart := int64(readBigEndian(b[:3])) - timeIntOffset
		frac := int64(readBigEndian(b[3:5]))
		if intPart < 0 && frac != 0 {
			intPart++
			frac -= 0x10000
		}
		nr = intPart<<24 + frac*100
	default:
		nr = int64(readBigEndian(b[:6])) - timeOffset
	}

	neg := nr < 0
	if neg {
		nr = -nr
	}
	hms := nr >> 24
	d := time.Duration(hms>>12)*time.Hour +
		time.Duration((hms>>6)%(1<<6))*time.Minute +
		time.Duration(hms%(1<<6))*time.Second +
		time.Duration(nr%(1<<24))*time.Microsecond
	if neg {
		d = -d
	}
	return d, nil
}

// EncodeDate packs a DATE as 3 little-endian bytes.
func EncodeDate(year, month, day int) ([]byte, error) {
	if year < 0 || year > 9999 || month < 0 || month > 12 || day < 0 || day > 31 {
		return nil, fmt.Errorf("wire: invalid date %04d-%02d-%02d", year, month, day)
	}
	v := uint32(day) | uint32(month)<<5 | uint32(year)<<9
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}, nil
}

func DecodeDate(b []byte) (year, month, day int, err error) {
	if len(b) < 3 {
		return 0, 0, 0, fmt.Errorf("%w: date needs 3 bytes, have %d", ErrOutOfBounds, len(b))
	}
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return int(v >> 9), int((v >> 5) & 0x0f), int(v & 0x1f), nil
}

// EncodeYear packs a YEAR; 0 is the zero year.
func EncodeYear(year int) (byte, error) {
	if year == 0 {
		return 0, nil
	}
	if year < 1901 || year > 2155 {
		return 0, fmt.Errorf("wire: year %d out of range", year)
	}
	return byte(year - 1900), nil
}
