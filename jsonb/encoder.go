// Package jsonb encodes JSON text into the MySQL binary JSON format stored in
// JSON columns and row images.
package jsonb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	typeSmallObject = 0x00
	typeLargeObject = 0x01
	typeSmallArray  = 0x02
	typeLargeArray  = 0x03
	typeLiteral     = 0x04
	typeInt16       = 0x05
	typeUint16      = 0x06
	typeInt32       = 0x07
	typeUint32      = 0x08
	typeInt64       = 0x09
	typeUint64      = 0x0a
	typeDouble      = 0x0b
	typeString      = 0x0c

	literalNull  = 0x00
	literalTrue  = 0x01
	literalFalse = 0x02

	maxSmallSize = math.MaxUint16
	maxKeyLen    = math.MaxUint16
)

var (
	ErrInvalidDocument  = errors.New("jsonb: invalid JSON document")
	errTooLargeForSmall = errors.New("jsonb: container exceeds small format")
)

// Encoder converts JSON text to MySQL binary JSON.
type Encoder struct{}

func (Encoder) EncodeDocument(text string) ([]byte, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document", ErrInvalidDocument)
	}
	return Encode(v)
}

// Encode converts a value as produced by encoding/json (with UseNumber) into a document.
func Encode(v any) ([]byte, error) {
	typ, body, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{typ}, body...), nil
}

func encodeValue(v any) (byte, []byte, error) {
	switch x := v.(type) {
	case nil:
		return typeLiteral, []byte{literalNull}, nil
	case bool:
		if x {
			return typeLiteral, []byte{literalTrue}, nil
		}
		return typeLiteral, []byte{literalFalse}, nil
	case string:
		return typeString, appendString(nil, x), nil
	case json.Number:
		return encodeNumber(x)
	case float64:
		return typeDouble, appendUint(nil, math.Float64bits(x), 8), nil
	case int64:
		return encodeInt(x)
	case int:
		return encodeInt(int64(x))
	case uint64:
		if x <= math.MaxInt64 {
			return encodeInt(int64(x))
		}
		return typeUint64, appendUint(nil, x, 8), nil
	case []any:
		body, err := encodeArray(x, false)
		if errors.Is(err, errTooLargeForSmall) {
			body, err = encodeArray(x, true)
			return typeLargeArray, body, err
		}
		return typeSmallArray, body, err
	case map[string]any:
		body, err := encodeObject(x, false)
		if errors.Is(err, errTooLargeForSmall) {
			body, err = encodeObject(x, true)
			return typeLargeObject, body, err
		}
		return typeSmallObject, body, err
	}
	return 0, nil, fmt.Errorf("%w: unsupported value of type %T", ErrInvalidDocument, v)
}

func encodeNumber(n json.Number) (byte, []byte, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return encodeInt(i)
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return typeUint64, appendUint(nil, u, 8), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: number %q: %v", ErrInvalidDocument, s, err)
	}
	return typeDouble, appendUint(nil, math.Float64bits(f), 8), nil
}

func encodeInt(i int64) (byte, []byte, error) {
	switch {
	case i >= math.MinInt16 && i <= math.MaxInt16:
		return typeInt16, appendUint(nil, uint64(i), 2), nil
	case i >= math.MinInt32 && i <= math.MaxInt32:
		return typeInt32, appendUint(nil, uint64(i), 4), nil
	}
	return typeInt64, appendUint(nil, uint64(i), 8), nil
}

func appendUint(dst []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

func putUint(dst []byte, v uint64, width int) {
	for i := 0; i < width; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

// appendString writes the 7-bits-per-byte length followed by the bytes.
func appendString(dst []byte, s string) []byte {
	n := uint64(len(s))
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			dst = append(dst, b)
			break
		}
		dst = append(dst, b|0x80)
	}
	return append(dst, s...)
}

// inlined reports whether a scalar of typ is stored inside its value entry.
func inlined(typ byte, large bool) bool {
	switch typ {
	case typeLiteral, typeInt16, typeUint16:
		return true
	case typeInt32, typeUint32:
		return large
	}
	return false
}

func offsetSize(large bool) int {
	if large {
		return 4
	}
	return 2
}

// writeValueEntry fills the entry at buf[pos] and appends non-inlined bodies to buf.
func writeValueEntry(buf []byte, pos int, v any, large bool) ([]byte, error) {
	typ, body, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	size := offsetSize(large)
	buf[pos] = typ
	if inlined(typ, large) {
		copy(buf[pos+1:pos+1+size], body)
		return buf, nil
	}
	if !large && len(buf) > maxSmallSize {
		return nil, errTooLargeForSmall
	}
	putUint(buf[pos+1:], uint64(len(buf)), size)
	return append(buf, body...), nil
}

func finishContainer(buf []byte, count int, large bool) ([]byte, error) {
	if !large && len(buf) > maxSmallSize {
		return nil, errTooLargeForSmall
	}
	if large && uint64(len(buf)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: document too large", ErrInvalidDocument)
	}
	size := offsetSize(large)
	putUint(buf[0:], uint64(count), size)
	putUint(buf[size:], uint64(len(buf)), size)
	return buf, nil
}

func encodeArray(items []any, large bool) ([]byte, error) {
	size := offsetSize(large)
	header := 2 * size
	entry := 1 + size
	buf := make([]byte, header+len(items)*entry)
	var err error
	for i, item := range items {
		if buf, err = writeValueEntry(buf, header+i*entry, item, large); err != nil {
			return nil, err
		}
	}
	return finishContainer(buf, len(items), large)
}

func encodeObject(obj map[string]any, large bool) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if len(k) > maxKeyLen {
			return nil, fmt.Errorf("%w: key of %d bytes", ErrInvalidDocument, len(k))
		}
		keys = append(keys, k)
	}
	// Keys are ordered by length, then bytewise.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	size := offsetSize(large)
	header := 2 * size
	keyEntry := size + 2
	valueEntry := 1 + size
	n := len(keys)
	buf := make([]byte, header+n*keyEntry+n*valueEntry)

	for i, k := range keys {
		pos := header + i*keyEntry
		if !large && len(buf) > maxSmallSize {
			return nil, errTooLargeForSmall
		}
		putUint(buf[pos:], uint64(len(buf)), size)
		putUint(buf[pos+size:], uint64(len(k)), 2)
		buf = append(buf, k...)
	}

	var err error
	valuesStart := header + n*keyEntry
	for i, k := range keys {
		if buf, err = writeValueEntry(buf, valuesStart+i*valueEntry, obj[k], large); err != nil {
			return nil, err
		}
	}
	return finishContainer(buf, n, large)
}
