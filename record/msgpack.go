package record

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/maxpert/binlogd/encoding"
	"github.com/maxpert/binlogd/event"
)

// Record keys.
const (
	keyCheckPoint = "check_point"
	keyDBName     = "db_name"
	keyDDLSQL     = "ddl_sql"
	keyDDLType    = "ddl_type"
	keyLastCommit = "last_commit"
	keyTxSeq      = "tx_seq"
	keyMsgTime    = "msg_time"
	keyTxTime     = "tx_time"
	keyOpType     = "op_type"
	keySCN        = "scn"
	keySeq        = "seq"
	keyTable      = "table"
	keyFields     = "fields"
	keyKeys       = "keys"
	keyNewData    = "new_data"

	keyName       = "name"
	keyTypeName   = "type_name"
	keyLength     = "length"
	keyIsUnsigned = "is_unsigned"
	keyNullable   = "nullable"
	keyPrecision  = "precision"
)

type seen uint32

const (
	seenCheckPoint seen = 1 << iota
	seenDBName
	seenDDLSQL
	seenLastCommit
	seenTxSeq
	seenMsgTime
	seenTxTime
	seenOpType
	seenSCN
	seenSeq
	seenTable
	seenFields
	seenKeys
	seenNewData
)

const requiredCommon = seenCheckPoint | seenLastCommit | seenTxSeq | seenMsgTime | seenTxTime | seenOpType | seenSCN | seenSeq

var seenNames = []struct {
	bit  seen
	name string
}{
	{seenCheckPoint, keyCheckPoint}, {seenDBName, keyDBName}, {seenDDLSQL, keyDDLSQL},
	{seenLastCommit, keyLastCommit}, {seenTxSeq, keyTxSeq}, {seenMsgTime, keyMsgTime},
	{seenTxTime, keyTxTime}, {seenOpType, keyOpType}, {seenSCN, keySCN}, {seenSeq, keySeq},
	{seenTable, keyTable}, {seenFields, keyFields}, {seenKeys, keyKeys}, {seenNewData, keyNewData},
}

// MsgpackDecoder reads records encoded as a msgpack map with the keys above.
// Image values are msgpack integers, floats, strings or nil. Unknown keys are
// skipped.
type MsgpackDecoder struct{}

func (MsgpackDecoder) Decode(payload []byte, isDDL bool) (*Record, error) {
	dec := encoding.NewDecoder(payload)
	r := &Record{}
	got, op, err := decodeRecord(dec, r)
	if err != nil {
		return nil, err
	}

	required := requiredCommon
	if isDDL {
		// DDL records carry free-form op types, or none.
		r.OpType = OpDDL
		got |= seenOpType
		required |= seenDDLSQL
	} else {
		if got&seenOpType != 0 {
			if r.OpType, err = ParseOpType(op); err != nil {
				return nil, err
			}
		}
		required |= seenDBName | seenTable | seenFields
		switch r.OpType {
		case OpInsert:
			required |= seenNewData
		case OpUpdate:
			required |= seenKeys | seenNewData
		case OpDelete:
			required |= seenKeys
		}
	}
	if missing := required &^ got; missing != 0 {
		return nil, fmt.Errorf("%w: missing field %s", ErrDecode, firstMissing(missing))
	}
	if !isDDL && r.OpType == OpDDL {
		return nil, fmt.Errorf("%w: DML record with op_type %s", ErrDecode, r.OpType)
	}
	if err := checkImages(r); err != nil {
		return nil, err
	}
	return r, nil
}

func firstMissing(m seen) string {
	for _, s := range seenNames {
		if m&s.bit != 0 {
			return s.name
		}
	}
	return "?"
}

func decodeRecord(dec *msgpack.Decoder, r *Record) (got seen, op string, err error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return 0, "", fmt.Errorf("%w: record is not a map: %v", ErrDecode, err)
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return 0, "", fmt.Errorf("%w: key %d: %v", ErrDecode, i, err)
		}
		var bit seen
		switch key {
		case keyCheckPoint:
			bit, err = seenCheckPoint, decodeScalarText(dec, &r.CheckPoint)
		case keyDBName:
			bit, err = seenDBName, decodeOptionalString(dec, &r.DBName)
		case keyDDLSQL:
			bit, err = seenDDLSQL, decodeString(dec, &r.DDLSQL)
		case keyDDLType:
			err = decodeOptionalString(dec, &r.DDLType)
		case keyLastCommit:
			bit, err = seenLastCommit, decodeInt(dec, &r.LastCommit)
		case keyTxSeq:
			bit, err = seenTxSeq, decodeInt(dec, &r.TxSeq)
		case keyMsgTime:
			bit, err = seenMsgTime, decodeInt(dec, &r.MsgTime)
		case keyTxTime:
			bit, err = seenTxTime, decodeInt(dec, &r.TxTime)
		case keyOpType:
			bit, err = seenOpType, decodeString(dec, &op)
		case keySCN:
			bit, err = seenSCN, decodeInt(dec, &r.SCN)
		case keySeq:
			bit, err = seenSeq, decodeInt(dec, &r.Seq)
		case keyTable:
			bit, err = seenTable, decodeOptionalString(dec, &r.Table)
		case keyFields:
			bit, err = seenFields, decodeFields(dec, r)
		case keyKeys:
			bit = seenKeys
			r.Keys, err = decodePairs(dec)
		case keyNewData:
			bit = seenNewData
			r.NewData, err = decodePairs(dec)
		default:
			err = dec.Skip()
		}
		if err != nil {
			return 0, "", fmt.Errorf("%w: %s: %v", ErrDecode, key, err)
		}
		got |= bit
	}
	return got, op, nil
}

func decodeString(dec *msgpack.Decoder, dst *string) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if !msgpcode.IsString(c) && !msgpcode.IsBin(c) {
		return fmt.Errorf("expected string, got code 0x%02x", c)
	}
	*dst, err = dec.DecodeString()
	return err
}

func decodeOptionalString(dec *msgpack.Decoder, dst *string) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if c == msgpcode.Nil {
		return dec.DecodeNil()
	}
	return decodeString(dec, dst)
}

func isInt(c byte) bool {
	return msgpcode.IsFixedNum(c) || (c >= msgpcode.Uint8 && c <= msgpcode.Int64)
}

func decodeInt(dec *msgpack.Decoder, dst *int64) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if !isInt(c) {
		return fmt.Errorf("expected integer, got code 0x%02x", c)
	}
	*dst, err = dec.DecodeInt64()
	return err
}

func decodeBool(dec *msgpack.Decoder, dst *bool) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}
	switch {
	case c == msgpcode.True || c == msgpcode.False:
		*dst, err = dec.DecodeBool()
		return err
	case isInt(c):
		var n int64
		n, err = dec.DecodeInt64()
		*dst = n != 0
		return err
	}
	return fmt.Errorf("expected bool, got code 0x%02x", c)
}

// decodeScalarText accepts a string or an integer; check points come in both forms.
func decodeScalarText(dec *msgpack.Decoder, dst *string) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if isInt(c) {
		n, err := dec.DecodeInt64()
		*dst = strconv.FormatInt(n, 10)
		return err
	}
	return decodeString(dec, dst)
}

func decodeFields(dec *msgpack.Decoder, r *Record) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("fields is nil")
	}
	r.Fields = make([]Field, n)
	for i := range r.Fields {
		if err := decodeField(dec, &r.Fields[i]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

func decodeField(dec *msgpack.Decoder, f *Field) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	var named, typed bool
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		switch key {
		case keyName:
			named = true
			err = decodeString(dec, &f.Name)
		case keyTypeName:
			typed = true
			err = decodeString(dec, &f.TypeName)
		case keyLength:
			err = decodeInt(dec, &f.Length)
		case keyIsUnsigned:
			err = decodeBool(dec, &f.IsUnsigned)
		case keyNullable:
			err = decodeBool(dec, &f.Nullable)
		case keyPrecision:
			err = decodeInt(dec, &f.Precision)
		default:
			err = dec.Skip()
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if !named || !typed {
		return fmt.Errorf("field needs %s and %s", keyName, keyTypeName)
	}
	return nil
}

func decodePairs(dec *msgpack.Decoder) ([]Pair, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	pairs := make([]Pair, n)
	for i := range pairs {
		m, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		if m != 2 {
			return nil, fmt.Errorf("pair %d has %d elements", i, m)
		}
		if err := decodeString(dec, &pairs[i].Name); err != nil {
			return nil, fmt.Errorf("pair %d name: %w", i, err)
		}
		if pairs[i].Value, err = decodeValue(dec); err != nil {
			return nil, fmt.Errorf("pair %d (%s): %w", i, pairs[i].Name, err)
		}
	}
	return pairs, nil
}

func decodeValue(dec *msgpack.Decoder) (event.Value, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return event.Value{}, err
	}
	switch {
	case c == msgpcode.Nil:
		return event.NullValue(), dec.DecodeNil()
	case c == msgpcode.Uint64:
		u, err := dec.DecodeUint64()
		if err != nil {
			return event.Value{}, err
		}
		if u > math.MaxInt64 {
			return event.StringValue(strconv.FormatUint(u, 10)), nil
		}
		return event.LongValue(int64(u)), nil
	case isInt(c):
		n, err := dec.DecodeInt64()
		return event.LongValue(n), err
	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		return event.DoubleValue(f), err
	case msgpcode.IsString(c) || msgpcode.IsBin(c):
		s, err := dec.DecodeString()
		return event.StringValue(s), err
	}
	return event.Value{}, fmt.Errorf("value tag 0x%02x is not long, double, string or null", c)
}

// checkImages verifies every image column names a declared field.
func checkImages(r *Record) error {
	if r.IsDDL() {
		return nil
	}
	names := make(map[string]struct{}, len(r.Fields))
	for _, f := range r.Fields {
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrDecode, f.Name)
		}
		names[f.Name] = struct{}{}
	}
	for _, img := range [][]Pair{r.Keys, r.NewData} {
		for _, p := range img {
			if _, ok := names[p.Name]; !ok {
				return fmt.Errorf("%w: value for undeclared column %q", ErrDecode, p.Name)
			}
		}
	}
	return nil
}

// EncodeDDL serializes a DDL record in the form MsgpackDecoder reads.
func EncodeDDL(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := encoding.NewEncoder(&buf)
	if err := encodeCommon(enc, r, 1); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, keyDDLSQL, r.DDLSQL); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeDML serializes a DML record in the form MsgpackDecoder reads.
func EncodeDML(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := encoding.NewEncoder(&buf)
	if err := encodeCommon(enc, r, 3); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(keyFields); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(r.Fields)); err != nil {
		return nil, err
	}
	for _, f := range r.Fields {
		if err := encodeField(enc, f); err != nil {
			return nil, err
		}
	}
	if err := encodePairs(enc, keyKeys, r.Keys); err != nil {
		return nil, err
	}
	if err := encodePairs(enc, keyNewData, r.NewData); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeCommon starts the record map with the ten keys every record has,
// leaving room for extra kind-specific keys.
func encodeCommon(enc *msgpack.Encoder, r *Record, extra int) error {
	if err := enc.EncodeMapLen(10 + extra); err != nil {
		return err
	}
	op := r.OpType.String()
	for _, kv := range []struct {
		k string
		v interface{}
	}{
		{keyCheckPoint, r.CheckPoint},
		{keyDBName, r.DBName},
		{keyLastCommit, r.LastCommit},
		{keyTxSeq, r.TxSeq},
		{keyMsgTime, r.MsgTime},
		{keyTxTime, r.TxTime},
		{keyOpType, op},
		{keySCN, r.SCN},
		{keySeq, r.Seq},
	} {
		if err := encodeKV(enc, kv.k, kv.v); err != nil {
			return err
		}
	}
	return encodeKV(enc, keyTable, r.Table)
}

func encodeKV(enc *msgpack.Encoder, key string, v interface{}) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.Encode(v)
}

func encodeField(enc *msgpack.Encoder, f Field) error {
	if err := enc.EncodeMapLen(6); err != nil {
		return err
	}
	for _, kv := range []struct {
		k string
		v interface{}
	}{
		{keyName, f.Name},
		{keyTypeName, f.TypeName},
		{keyLength, f.Length},
		{keyIsUnsigned, f.IsUnsigned},
		{keyNullable, f.Nullable},
		{keyPrecision, f.Precision},
	} {
		if err := encodeKV(enc, kv.k, kv.v); err != nil {
			return err
		}
	}
	return nil
}

func encodePairs(enc *msgpack.Encoder, key string, pairs []Pair) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(pairs)); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(p.Name); err != nil {
			return err
		}
		if err := encodeValue(enc, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(enc *msgpack.Encoder, v event.Value) error {
	switch v.Kind {
	case event.ValueLong:
		return enc.EncodeInt(v.Long)
	case event.ValueDouble:
		return enc.EncodeFloat64(v.Double)
	case event.ValueString:
		return enc.EncodeString(v.String)
	}
	return enc.EncodeNil()
}
