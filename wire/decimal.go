package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDecimal  = errors.New("wire: invalid decimal literal")
	ErrDecimalOverflow = errors.New("wire: decimal value does not fit column")
)

const (
	digitsPerWord    = 9
	maxDecimalDigits = 65
	maxDecimalScale  = 30
)

var dig2bytes = [digitsPerWord + 1]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

// DecimalBinSize returns the packed size of a DECIMAL(precision, scale) value.
func DecimalBinSize(precision, scale int) int {
	intg := precision - scale
	return (intg/digitsPerWord)*4 + dig2bytes[intg%digitsPerWord] +
		(scale/digitsPerWord)*4 + dig2bytes[scale%digitsPerWord]
}

func checkDecimalShape(precision, scale int) error {
	if precision < 1 || precision > maxDecimalDigits || scale < 0 || scale > maxDecimalScale || scale > precision {
		return fmt.Errorf("wire: invalid decimal shape (%d,%d)", precision, scale)
	}
	return nil
}

// EncodeDecimal packs a textual decimal into MySQL's binary DECIMAL layout.
// Fraction digits beyond scale are truncated. Integer digits beyond
// precision-scale return ErrDecimalOverflow.
func EncodeDecimal(value string, precision, scale int) ([]byte, error) {
	if err := checkDecimalShape(precision, scale); err != nil {
		return nil, err
	}
	neg, intDigits, fracDigits, err := splitDecimal(value)
	if err != nil {
		return nil, err
	}

	intg := precision - scale
	if len(intDigits) > intg {
		return nil, fmt.Errorf("%w: %q has %d integer digits, column allows %d", ErrDecimalOverflow, value, len(intDigits), intg)
	}
	if len(fracDigits) > scale {
		fracDigits = fracDigits[:scale]
	}
	if neg && strings.Trim(intDigits+fracDigits, "0") == "" {
		neg = false
	}
	intDigits = strings.Repeat("0", intg-len(intDigits)) + intDigits
	fracDigits += strings.Repeat("0", scale-len(fracDigits))

	out := make([]byte, 0, DecimalBinSize(precision, scale))
	pos := intg % digitsPerWord
	if pos > 0 {
		out = appendDecimalWord(out, intDigits[:pos], dig2bytes[pos])
	}
	for ; pos < intg; pos += digitsPerWord {
		out = appendDecimalWord(out, intDigits[pos:pos+digitsPerWord], 4)
	}
	full := scale / digitsPerWord
	for i := 0; i < full; i++ {
		out = appendDecimalWord(out, fracDigits[i*digitsPerWord:(i+1)*digitsPerWord], 4)
	}
	if tail := scale % digitsPerWord; tail > 0 {
		out = appendDecimalWord(out, fracDigits[full*digitsPerWord:], dig2bytes[tail])
	}

	if neg {
		for i := range out {
			out[i] ^= 0xff
		}
	}
	out[0] ^= 0x80
	return out, nil
}

// DecodeDecimal unpacks a binary DECIMAL(precision, scale) into its canonical text form.
func DecodeDecimal(b []byte, precision, scale int) (string, error) {
	if err := checkDecimalShape(precision, scale); err != nil {
		return "", err
	}
	size := DecimalBinSize(precision, scale)
	if len(b) < size {
		return "", fmt.Errorf("%w: decimal needs %d bytes, have %d", ErrOutOfBounds, size, len(b))
	}
	buf := make([]byte, size)
	copy(buf, b)
	neg := buf[0]&0x80 == 0
	buf[0] ^= 0x80
	if neg {
		for i := range buf {
			buf[i] ^= 0xff
		}
	}

	c := NewCursor(buf)
	intg := precision - scale
	var ib, fb strings.Builder
	if lead := intg % digitsPerWord; lead > 0 {
		readDecimalWord(c, &ib, lead)
	}
	for i := 0; i < intg/digitsPerWord; i++ {
		readDecimalWord(c, &ib, digitsPerWord)
	}
	for i := 0; i < scale/digitsPerWord; i++ {
		readDecimalWord(c, &fb, digitsPerWord)
	}
	if tail := scale % digitsPerWord; tail > 0 {
		readDecimalWord(c, &fb, tail)
	}

	intPart := strings.TrimLeft(ib.String(), "0")
	if intPart == "" {
		intPart = "0"
	}
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	sb.WriteString(intPart)
	if scale > 0 {
		sb.WriteByte('.')
		sb.WriteString(fb.String())
	}
	return sb.String(), nil
}

func splitDecimal(value string) (neg bool, intDigits, fracDigits string, err error) {
	s := strings.TrimSpace(value)
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	intDigits, fracDigits, _ = strings.Cut(s, ".")
	if intDigits == "" && fracDigits == "" {
		return false, "", "", fmt.Errorf("%w: %q", ErrInvalidDecimal, value)
	}
	for _, part := range [...]string{intDigits, fracDigits} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return false, "", "", fmt.Errorf("%w: %q", ErrInvalidDecimal, value)
			}
		}
	}
	return neg, strings.TrimLeft(intDigits, "0"), fracDigits, nil
}

func appendDecimalWord(dst []byte, digits string, size int) []byte {
	var v uint32
	for i := 0; i < len(digits); i++ {
		v = v*10 + uint32(digits[i]-'0')
	}
	for i := size - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

func readDecimalWord(c *Cursor, sb *strings.Builder, digits int) {
	size := dig2bytes[digits]
	raw, _ := c.ReadBytes(size)
	var v uint32
	for _, b := range raw {
		v = v<<8 | uint32(b)
	}
	fmt.Fprintf(sb, "%0*d", digits, v)
}
