// Package record reads the inbound change records the pipeline turns into
// binlog events. A record is either a DDL statement or a row-level DML change.
package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maxpert/binlogd/event"
)

// ErrDecode marks a malformed record: a required field is missing or a value
// carries the wrong tag.
var ErrDecode = errors.New("record: malformed record")

// OpType is the operation a record describes.
type OpType uint8

const (
	OpDDL OpType = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (o OpType) String() string {
	switch o {
	case OpDDL:
		return "DDL"
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	}
	return fmt.Sprintf("OpType(%d)", uint8(o))
}

// ParseOpType accepts the long and single-letter spellings capture agents use.
func ParseOpType(s string) (OpType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DDL":
		return OpDDL, nil
	case "INSERT", "I", "C", "CREATE":
		return OpInsert, nil
	case "UPDATE", "U":
		return OpUpdate, nil
	case "DELETE", "D":
		return OpDelete, nil
	}
	return OpDDL, fmt.Errorf("%w: unknown op_type %q", ErrDecode, s)
}

// Field describes one column of a DML record.
type Field struct {
	Name       string
	TypeName   string
	Length     int64
	IsUnsigned bool
	Nullable   bool
	Precision  int64
}

// Pair is one column value of a before or after image.
type Pair struct {
	Name  string
	Value event.Value
}

// Record is a decoded DDL or DML change record.
type Record struct {
	CheckPoint string
	DBName     string
	DDLSQL     string
	DDLType    string
	LastCommit int64
	TxSeq      int64
	MsgTime    int64 // milliseconds since epoch
	TxTime     int64 // milliseconds since epoch
	OpType     OpType
	SCN        int64
	Seq        int64
	Table      string

	Fields  []Field
	Keys    []Pair // before image
	NewData []Pair // after image
}

// IsDDL reports whether the record carries a DDL statement.
func (r *Record) IsDDL() bool {
	return r.OpType == OpDDL
}

// Decoder reads a record from its serialized payload.
type Decoder interface {
	Decode(payload []byte, isDDL bool) (*Record, error)
}
