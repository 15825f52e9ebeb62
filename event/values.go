package event

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"

	"github.com/maxpert/binlogd/wire"
)

type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueLong
	ValueDouble
	ValueString
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueLong:
		return "long"
	case ValueDouble:
		return "double"
	case ValueString:
		return "string"
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// Value is a column value as captured at the source.
type Value struct {
	Kind   ValueKind
	Long   int64
	Double float64
	String string
}

func NullValue() Value { return Value{Kind: ValueNull} }

func LongValue(v int64) Value { return Value{Kind: ValueLong, Long: v} }

func DoubleValue(v float64) Value { return Value{Kind: ValueDouble, Double: v} }

func StringValue(v string) Value { return Value{Kind: ValueString, String: v} }

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05.999999"
)

var dateTimeLayouts = []string{
	dateTimeLayout,
	"2006-01-02T15:04:05.999999",
	time.RFC3339Nano,
	dateLayout,
}

func (v Value) text() string {
	switch v.Kind {
	case ValueLong:
		return strconv.FormatInt(v.Long, 10)
	case ValueDouble:
		return strconv.FormatFloat(v.Double, 'f', -1, 64)
	}
	return v.String
}

func (v Value) asInt() (int64, error) {
	switch v.Kind {
	case ValueLong:
		return v.Long, nil
	case ValueDouble:
		if v.Double != math.Trunc(v.Double) || v.Double < math.MinInt64 || v.Double >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrValue, v.Double)
		}
		return int64(v.Double), nil
	case ValueString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrValue, v.String)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s value has no integer form", ErrValue, v.Kind)
}

func (v Value) asUint() (uint64, error) {
	switch v.Kind {
	case ValueLong:
		if v.Long < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrValue, v.Long)
		}
		return uint64(v.Long), nil
	case ValueDouble:
		if v.Double != math.Trunc(v.Double) || v.Double < 0 || v.Double >= math.MaxUint64 {
			return 0, fmt.Errorf("%w: %v is not an unsigned integer", ErrValue, v.Double)
		}
		return uint64(v.Double), nil
	case ValueString:
		n, err := strconv.ParseUint(strings.TrimSpace(v.String), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an unsigned integer", ErrValue, v.String)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s value has no integer form", ErrValue, v.Kind)
}

func (v Value) asFloat() (float64, error) {
	switch v.Kind {
	case ValueLong:
		return float64(v.Long), nil
	case ValueDouble:
		return v.Double, nil
	case ValueString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.String), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrValue, v.String)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s value has no numeric form", ErrValue, v.Kind)
}

// decimalText renders v with no more than scale fraction digits.
func (v Value) decimalText(scale int) string {
	if v.Kind == ValueDouble {
		return strconv.FormatFloat(v.Double, 'f', scale, 64)
	}
	return v.text()
}

// dateTime interprets v as a wall-clock date and time. Integers are epoch seconds.
func (v Value) dateTime() (time.Time, error) {
	switch v.Kind {
	case ValueLong:
		return time.Unix(v.Long, 0).UTC(), nil
	case ValueDouble:
		sec, frac := math.Modf(v.Double)
		return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1000).UTC(), nil
	case ValueString:
		s := strings.TrimSpace(v.String)
		var lastErr error
		for _, layout := range dateTimeLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				return t, nil
			}
			lastErr = err
		}
		return time.Time{}, fmt.Errorf("%w: unable to parse date %q: %v", ErrValue, s, lastErr)
	}
	return time.Time{}, fmt.Errorf("%w: %s value has no date form", ErrValue, v.Kind)
}

// duration interprets v as a TIME value: "[-]H:MM:SS[.ffffff]" or seconds.
func (v Value) duration() (time.Duration, error) {
	switch v.Kind {
	case ValueLong:
		return time.Duration(v.Long) * time.Second, nil
	case ValueDouble:
		return time.Duration(math.Round(v.Double*1e6)) * time.Microsecond, nil
	case ValueString:
		return parseTimeOfDay(v.String)
	}
	return 0, fmt.Errorf("%w: %s value has no time form", ErrValue, v.Kind)
}

func parseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	clock, frac, _ := strings.Cut(s, ".")
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: invalid time %q", ErrValue, s)
	}
	var hms [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 || (i > 0 && n > 59) {
			return 0, fmt.Errorf("%w: invalid time %q", ErrValue, s)
		}
		hms[i] = n
	}
	var usec int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		n, err := strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid time %q", ErrValue, s)
		}
		usec = n
	}
	d := time.Duration(hms[0])*time.Hour + time.Duration(hms[1])*time.Minute +
		time.Duration(hms[2])*time.Second + time.Duration(usec)*time.Microsecond
	if neg {
		d = -d
	}
	return d, nil
}

func appendLittleEndian(dst []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

func appendInteger(dst []byte, col Column, v Value, width int) ([]byte, error) {
	bits := uint(width * 8)
	if col.Unsigned {
		n, err := v.asUint()
		if err != nil {
			return nil, err
		}
		if bits < 64 && n >= 1<<bits {
			return nil, fmt.Errorf("%w: %d overflows %d-byte unsigned column", ErrValue, n, width)
		}
		return appendLittleEndian(dst, n, width), nil
	}
	n, err := v.asInt()
	if err != nil {
		return nil, err
	}
	if bits < 64 && (n < -(1<<(bits-1)) || n >= 1<<(bits-1)) {
		return nil, fmt.Errorf("%w: %d overflows %d-byte column", ErrValue, n, width)
	}
	return appendLittleEndian(dst, uint64(n), width), nil
}

func appendPrefixed(dst []byte, data []byte, prefix int) ([]byte, error) {
	if prefix < 8 && uint64(len(data)) >= 1<<(8*uint(prefix)) {
		return nil, fmt.Errorf("%w: %d bytes do not fit a %d-byte length prefix", ErrValue, len(data), prefix)
	}
	dst = appendLittleEndian(dst, uint64(len(data)), prefix)
	return append(dst, data...), nil
}

// appendValue encodes a non-null value in the row-image form of col.
func appendValue(dst []byte, c *Codec, col Column, v Value) ([]byte, error) {
	switch col.Type {
	case mysql.MYSQL_TYPE_TINY:
		return appendInteger(dst, col, v, 1)
	case mysql.MYSQL_TYPE_SHORT:
		return appendInteger(dst, col, v, 2)
	case mysql.MYSQL_TYPE_INT24:
		return appendInteger(dst, col, v, 3)
	case mysql.MYSQL_TYPE_LONG:
		return appendInteger(dst, col, v, 4)
	case mysql.MYSQL_TYPE_LONGLONG:
		return appendInteger(dst, col, v, 8)

	case mysql.MYSQL_TYPE_YEAR:
		n, err := v.asInt()
		if err != nil {
			return nil, err
		}
		y, err := wire.EncodeYear(int(n))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return append(dst, y), nil

	case mysql.MYSQL_TYPE_FLOAT:
		f, err := v.asFloat()
		if err != nil {
			return nil, err
		}
		return appendLittleEndian(dst, uint64(math.Float32bits(float32(f))), 4), nil
	case mysql.MYSQL_TYPE_DOUBLE:
		f, err := v.asFloat()
		if err != nil {
			return nil, err
		}
		return appendLittleEndian(dst, math.Float64bits(f), 8), nil

	case mysql.MYSQL_TYPE_NEWDECIMAL:
		precision, scale := int(col.Meta>>8), int(col.Meta&0xff)
		b, err := wire.EncodeDecimal(v.decimalText(scale), precision, scale)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return append(dst, b...), nil

	case mysql.MYSQL_TYPE_BIT:
		nbits := int(col.Meta>>8)*8 + int(col.Meta&0xff)
		n, err := v.asUint()
		if err != nil {
			return nil, err
		}
		if nbits < 64 && n >= 1<<uint(nbits) {
			return nil, fmt.Errorf("%w: %d overflows BIT(%d)", ErrValue, n, nbits)
		}
		size := (nbits + 7) / 8
		for i := size - 1; i >= 0; i-- {
			dst = append(dst, byte(n>>(8*uint(i))))
		}
		return dst, nil

	case mysql.MYSQL_TYPE_VARCHAR, mysql.MYSQL_TYPE_VAR_STRING:
		s := v.text()
		if len(s) > int(col.Meta) {
			return nil, fmt.Errorf("%w: %d bytes exceed VARCHAR(%d)", ErrValue, len(s), col.Meta)
		}
		prefix := 1
		if col.Meta > 255 {
			prefix = 2
		}
		return appendPrefixed(dst, []byte(s), prefix)

	case mysql.MYSQL_TYPE_STRING:
		s := v.text()
		maxLen := col.stringMaxLen()
		if len(s) > maxLen {
			return nil, fmt.Errorf("%w: %d bytes exceed CHAR column of %d bytes", ErrValue, len(s), maxLen)
		}
		prefix := 1
		if maxLen > 255 {
			prefix = 2
		}
		return appendPrefixed(dst, []byte(s), prefix)

	case mysql.MYSQL_TYPE_BLOB, mysql.MYSQL_TYPE_GEOMETRY:
		return appendPrefixed(dst, []byte(v.text()), int(col.Meta))

	case mysql.MYSQL_TYPE_JSON:
		if c.Documents == nil {
			return nil, fmt.Errorf("%w: no document encoder for JSON column", ErrValue)
		}
		doc, err := c.Documents.EncodeDocument(v.text())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return appendPrefixed(dst, doc, int(col.Meta))

	case mysql.MYSQL_TYPE_DATE:
		t, err := v.dateTime()
		if err != nil {
			return nil, err
		}
		b, err := wire.EncodeDate(t.Year(), int(t.Month()), t.Day())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return append(dst, b...), nil

	case mysql.MYSQL_TYPE_DATETIME2:
		t, err := v.dateTime()
		if err != nil {
			return nil, err
		}
		b, err := wire.EncodeDatetime2(t, int(col.Meta))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return append(dst, b...), nil

	case mysql.MYSQL_TYPE_TIMESTAMP2:
		t, err := v.dateTime()
		if err != nil {
			return nil, err
		}
		b, err := wire.EncodeTimestamp2(t.Unix(), t.Nanosecond()/1000, int(col.Meta))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return append(dst, b...), nil

	case mysql.MYSQL_TYPE_TIME2:
		d, err := v.duration()
		if err != nil {
			return nil, err
		}
		b, err := wire.EncodeTime2(d, int(col.Meta))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return append(dst, b...), nil
	}
	return nil, fmt.Errorf("%w: unsupported column type %d", ErrValue, col.Type)
}
