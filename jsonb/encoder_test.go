package jsonb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSmallObject(t *testing.T) {
	doc, err := Encoder{}.EncodeDocument(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		typeSmallObject,
		0x01, 0x00, // count
		0x0c, 0x00, // size
		0x0b, 0x00, 0x01, 0x00, // key offset, key length
		typeInt16, 0x01, 0x00, // inlined value
		'a',
	}, doc)
}

func TestEncodeSmallArray(t *testing.T) {
	doc, err := Encoder{}.EncodeDocument(`[true, "x"]`)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		typeSmallArray,
		0x02, 0x00,
		0x0c, 0x00,
		typeLiteral, literalTrue, 0x00,
		typeString, 0x0a, 0x00,
		0x01, 'x',
	}, doc)
}

func TestEncodeScalars(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{`null`, []byte{typeLiteral, literalNull}},
		{`false`, []byte{typeLiteral, literalFalse}},
		{`-2`, []byte{typeInt16, 0xfe, 0xff}},
		{`70000`, []byte{typeInt32, 0x70, 0x11, 0x01, 0x00}},
		{`18446744073709551615`, []byte{typeUint64, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{`1.5`, []byte{typeDouble, 0, 0, 0, 0, 0, 0, 0xf8, 0x3f}},
		{`"hi"`, []byte{typeString, 0x02, 'h', 'i'}},
	}
	for _, tt := range tests {
		doc, err := Encoder{}.EncodeDocument(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, doc, tt.in)
	}
}

func TestObjectKeysSortedByLengthThenBytes(t *testing.T) {
	doc, err := Encoder{}.EncodeDocument(`{"bb": 1, "a": 2, "ab": 3}`)
	require.NoError(t, err)
	keys := doc[len(doc)-5:]
	assert.Equal(t, "aabbb", string(keys))
}

func TestLongStringLength(t *testing.T) {
	s := strings.Repeat("z", 200)
	doc, err := Encoder{}.EncodeDocument(`"` + s + `"`)
	require.NoError(t, err)
	assert.Equal(t, []byte{typeString, 0xc8, 0x01}, doc[:3])
	assert.Len(t, doc, 3+200)
}

func TestLargeArrayFallback(t *testing.T) {
	items := make([]any, 0, 700)
	for i := 0; i < 700; i++ {
		items = append(items, strings.Repeat("v", 100))
	}
	doc, err := Encode(items)
	require.NoError(t, err)
	assert.Equal(t, byte(typeLargeArray), doc[0])
	assert.Equal(t, []byte{0xbc, 0x02, 0x00, 0x00}, doc[1:5], "count is a 4-byte word")
}

func TestInvalidDocuments(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":1} x`, `[1,]`} {
		_, err := Encoder{}.EncodeDocument(in)
		assert.ErrorIs(t, err, ErrInvalidDocument, in)
	}
}
