package event

import (
	"errors"
	"fmt"
)

// Type is the binlog event type code.
type Type uint8

const (
	TypeQuery             Type = 2
	TypeRotate            Type = 4
	TypeFormatDescription Type = 15
	TypeXid               Type = 16
	TypeTableMap          Type = 19
	TypeWriteRows         Type = 30
	TypeUpdateRows        Type = 31
	TypeDeleteRows        Type = 32
	TypeGtid              Type = 33
)

// Types lists every kind this package can encode.
var Types = []Type{
	TypeFormatDescription, TypeGtid, TypeQuery, TypeTableMap,
	TypeWriteRows, TypeUpdateRows, TypeDeleteRows, TypeXid, TypeRotate,
}

func (t Type) String() string {
	switch t {
	case TypeQuery:
		return "Query"
	case TypeRotate:
		return "Rotate"
	case TypeFormatDescription:
		return "FormatDescription"
	case TypeXid:
		return "Xid"
	case TypeTableMap:
		return "TableMap"
	case TypeWriteRows:
		return "WriteRows"
	case TypeUpdateRows:
		return "UpdateRows"
	case TypeDeleteRows:
		return "DeleteRows"
	case TypeGtid:
		return "Gtid"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// LogPosOffset is where the Writer patches the absolute end position.
const LogPosOffset = 13

const (
	HeaderLen         = 19
	EventLengthOffset = 9
	ChecksumLen       = 4
	BinlogVersion     = 4
)

// Magic starts every binlog file.
var Magic = []byte{0xfe, 'b', 'i', 'n'}

// ChecksumAlg is the binlog_checksum algorithm announced in the FormatDescription event.
type ChecksumAlg uint8

const (
	ChecksumOff   ChecksumAlg = 0
	ChecksumCRC32 ChecksumAlg = 1
)

func ParseChecksumAlg(s string) (ChecksumAlg, error) {
	switch s {
	case "", "off", "none", "NONE", "OFF":
		return ChecksumOff, nil
	case "crc32", "CRC32":
		return ChecksumCRC32, nil
	}
	return ChecksumOff, fmt.Errorf("unknown checksum algorithm %q", s)
}

var (
	// ErrEncodeBounds means a computed event size disagreed with the bytes written.
	ErrEncodeBounds = errors.New("event: encoded size mismatch")
	ErrUnknownType  = errors.New("event: no encoder for type")
	ErrValue        = errors.New("event: value does not fit column")
)

// Header carries the fields every event has in its common header besides
// those the codec fills in at serialization time.
type Header struct {
	Timestamp uint32
	Flags     uint16
}

func (h *Header) header() *Header { return h }

// Event is one of the kinds in Types. The set is closed.
type Event interface {
	Type() Type
	header() *Header
}

// FormatDescriptionEvent is the first event of every file.
type FormatDescriptionEvent struct {
	Header
	ServerVersion   string
	CreateTimestamp uint32
}

func (*FormatDescriptionEvent) Type() Type { return TypeFormatDescription }

// GtidEvent opens every transaction.
type GtidEvent struct {
	Header
	GtidFlags      uint8
	SID            [16]byte
	GNO            int64
	LastCommitted  int64
	SequenceNumber int64

	// Commit timestamps are in microseconds. A zero original means "same as immediate".
	ImmediateCommitTimestamp uint64
	OriginalCommitTimestamp  uint64
	// TransactionLength covers every event of the transaction, this one included.
	TransactionLength      uint64
	ImmediateServerVersion uint32
	OriginalServerVersion  uint32
}

func (*GtidEvent) Type() Type { return TypeGtid }

type QueryEvent struct {
	Header
	ThreadID   uint32
	ExecTime   uint32
	ErrorCode  uint16
	StatusVars StatusVars
	Schema     string
	Query      string
}

func (*QueryEvent) Type() Type { return TypeQuery }

type TableMapEvent struct {
	Header
	TableID    uint64
	TableFlags uint16
	Schema     string
	Table      string
	Columns    []Column
	// FullMetadata adds signedness and column-name optional metadata.
	FullMetadata bool
}

func (*TableMapEvent) Type() Type { return TypeTableMap }

type XidEvent struct {
	Header
	XID uint64
}

func (*XidEvent) Type() Type { return TypeXid }

// RotateEvent ends a file and names its successor.
type RotateEvent struct {
	Header
	Position uint64
	NextFile string
}

func (*RotateEvent) Type() Type { return TypeRotate }
