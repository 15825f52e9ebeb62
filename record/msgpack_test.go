package record

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/maxpert/binlogd/event"
)

func sampleDML() *Record {
	return &Record{
		CheckPoint: "1:100",
		DBName:     "shop",
		LastCommit: 3,
		TxSeq:      4,
		MsgTime:    1700000000123,
		TxTime:     1700000000000,
		OpType:     OpUpdate,
		SCN:        99,
		Seq:        5,
		Table:      "orders",
		Fields: []Field{
			{Name: "id", TypeName: "INT", Length: 4},
			{Name: "price", TypeName: "DECIMAL", Length: 2, Precision: 10, Nullable: true},
			{Name: "note", TypeName: "VARCHAR", Length: 64, Nullable: true},
		},
		Keys: []Pair{
			{Name: "id", Value: event.LongValue(7)},
		},
		NewData: []Pair{
			{Name: "id", Value: event.LongValue(7)},
			{Name: "price", Value: event.DoubleValue(12.5)},
			{Name: "note", Value: event.NullValue()},
		},
	}
}

func TestDecodeDML(t *testing.T) {
	payload, err := EncodeDML(sampleDML())
	require.NoError(t, err)

	r, err := MsgpackDecoder{}.Decode(payload, false)
	require.NoError(t, err)
	assert.Equal(t, sampleDML(), r)
	assert.False(t, r.IsDDL())
}

func TestDecodeDDL(t *testing.T) {
	in := &Record{
		CheckPoint: "1:50",
		DDLSQL:     "CREATE TABLE t1(a INT)",
		TxSeq:      1,
		MsgTime:    1000,
		TxTime:     1000,
		OpType:     OpDDL,
		SCN:        1,
		Seq:        1,
	}
	payload, err := EncodeDDL(in)
	require.NoError(t, err)

	r, err := MsgpackDecoder{}.Decode(payload, true)
	require.NoError(t, err)
	assert.True(t, r.IsDDL())
	assert.Equal(t, "CREATE TABLE t1(a INT)", r.DDLSQL)
	assert.Equal(t, int64(1), r.TxSeq)
	assert.Empty(t, r.DBName)
}

func encodeMap(t *testing.T, m map[string]interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	require.NoError(t, enc.Encode(m))
	return buf.Bytes()
}

func ddlMap() map[string]interface{} {
	return map[string]interface{}{
		"check_point": 42,
		"ddl_sql":     "DROP TABLE x",
		"ddl_type":    "DROP",
		"op_type":     "ALTER",
		"last_commit": 0,
		"tx_seq":      9,
		"msg_time":    1,
		"tx_time":     1,
		"scn":         1,
		"seq":         1,
		"extra":       []int{1, 2, 3},
	}
}

func TestDecodeDDLLenient(t *testing.T) {
	r, err := MsgpackDecoder{}.Decode(encodeMap(t, ddlMap()), true)
	require.NoError(t, err)
	assert.Equal(t, "42", r.CheckPoint, "integer check points are rendered as text")
	assert.Equal(t, "DROP", r.DDLType)
	assert.Equal(t, OpDDL, r.OpType)
}

func TestDecodeErrors(t *testing.T) {
	missing := ddlMap()
	delete(missing, "tx_seq")

	wrongTag := ddlMap()
	wrongTag["tx_seq"] = "nine"

	dmlNoTable := ddlMap()
	dmlNoTable["op_type"] = "INSERT"
	dmlNoTable["db_name"] = "d"
	dmlNoTable["fields"] = []interface{}{}
	dmlNoTable["new_data"] = []interface{}{}

	tests := []struct {
		name    string
		payload []byte
		isDDL   bool
	}{
		{"not a map", []byte{0x91, 0x01}, true},
		{"truncated", encodeMap(t, ddlMap())[:10], true},
		{"missing tx_seq", encodeMap(t, missing), true},
		{"wrong tag", encodeMap(t, wrongTag), true},
		{"dml without table", encodeMap(t, dmlNoTable), false},
		{"ddl record as dml", encodeMap(t, ddlMap()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MsgpackDecoder{}.Decode(tt.payload, tt.isDDL)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodeValueTags(t *testing.T) {
	r := sampleDML()
	r.OpType = OpInsert
	r.Keys = nil
	r.NewData = []Pair{{Name: "id", Value: event.LongValue(1)}}
	payload, err := EncodeDML(r)
	require.NoError(t, err)

	// Swap the image for one with a bool, which is not a valid value tag.
	m := map[string]interface{}{}
	require.NoError(t, msgpack.Unmarshal(payload, &m))
	m["new_data"] = []interface{}{[]interface{}{"id", true}}
	_, err = MsgpackDecoder{}.Decode(encodeMap(t, m), false)
	assert.ErrorIs(t, err, ErrDecode)

	m["new_data"] = []interface{}{[]interface{}{"id", uint64(math.MaxUint64)}}
	got, err := MsgpackDecoder{}.Decode(encodeMap(t, m), false)
	require.NoError(t, err)
	assert.Equal(t, event.StringValue("18446744073709551615"), got.NewData[0].Value)

	m["new_data"] = []interface{}{[]interface{}{"missing", 1}}
	_, err = MsgpackDecoder{}.Decode(encodeMap(t, m), false)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestParseOpType(t *testing.T) {
	for in, want := range map[string]OpType{"insert": OpInsert, "U": OpUpdate, " delete ": OpDelete, "DDL": OpDDL} {
		got, err := ParseOpType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOpType("MERGE")
	assert.ErrorIs(t, err, ErrDecode)
}
