package event

import (
	"fmt"
	"math"

	"github.com/go-mysql-org/go-mysql/mysql"

	"github.com/maxpert/binlogd/wire"
)

const (
	tableMapPostHeaderLen = 6 + 2
	maxTableID            = 1<<48 - 1

	// TableMapFlagBitLenExact is set by MySQL on every table map it writes.
	TableMapFlagBitLenExact uint16 = 0x1

	optionalMetaSignedness = 1
	optionalMetaColumnName = 4
)

// Column describes one column as far as the row encoder needs it.
// Meta holds the type-specific metadata word in the same form MySQL keeps it:
// precision<<8|scale for NEWDECIMAL, max byte length for VARCHAR, StringMeta
// for CHAR,
// (bits/8)<<8|bits%8 for BIT, the length-prefix width for BLOB and JSON,
// the byte width for FLOAT and DOUBLE, and fsp for the temporal types.
type Column struct {
	Name     string
	Type     byte
	Meta     uint16
	Nullable bool
	Unsigned bool
}

// DecimalMeta packs a DECIMAL(precision, scale) metadata word.
func DecimalMeta(precision, scale int) uint16 {
	return uint16(precision)<<8 | uint16(scale)
}

// BitMeta packs a BIT(n) metadata word.
func BitMeta(bits int) uint16 {
	return uint16(bits/8)<<8 | uint16(bits%8)
}

// StringMeta packs a CHAR metadata word for a column of byteLen bytes.
// Bits 8-9 of the length are folded into the real type byte.
func StringMeta(byteLen int) uint16 {
	realType := uint16(mysql.MYSQL_TYPE_STRING) ^ uint16((byteLen&0x300)>>4)
	return realType<<8 | uint16(byteLen&0xff)
}

// stringMaxLen unpacks the byte length of a CHAR column from its metadata.
func (c Column) stringMaxLen() int {
	b0, b1 := int(c.Meta>>8), int(c.Meta&0xff)
	if b0&0x30 != 0x30 {
		return b1 | ((b0&0x30)^0x30)<<4
	}
	return b1
}

func (c Column) metaLen() int {
	switch c.Type {
	case mysql.MYSQL_TYPE_STRING, mysql.MYSQL_TYPE_NEWDECIMAL,
		mysql.MYSQL_TYPE_VAR_STRING, mysql.MYSQL_TYPE_VARCHAR, mysql.MYSQL_TYPE_BIT:
		return 2
	case mysql.MYSQL_TYPE_BLOB, mysql.MYSQL_TYPE_DOUBLE, mysql.MYSQL_TYPE_FLOAT,
		mysql.MYSQL_TYPE_GEOMETRY, mysql.MYSQL_TYPE_JSON,
		mysql.MYSQL_TYPE_TIME2, mysql.MYSQL_TYPE_DATETIME2, mysql.MYSQL_TYPE_TIMESTAMP2:
		return 1
	}
	return 0
}

func (c Column) writeMeta(w *wire.Cursor) error {
	switch c.metaLen() {
	case 2:
		if c.Type == mysql.MYSQL_TYPE_STRING || c.Type == mysql.MYSQL_TYPE_NEWDECIMAL {
			if err := w.WriteUint8(uint8(c.Meta >> 8)); err != nil {
				return err
			}
			return w.WriteUint8(uint8(c.Meta))
		}
		return w.WriteUint16(c.Meta)
	case 1:
		return w.WriteUint8(uint8(c.Meta))
	}
	return nil
}

func (c Column) isNumeric() bool {
	switch c.Type {
	case mysql.MYSQL_TYPE_TINY, mysql.MYSQL_TYPE_SHORT, mysql.MYSQL_TYPE_INT24,
		mysql.MYSQL_TYPE_LONG, mysql.MYSQL_TYPE_LONGLONG, mysql.MYSQL_TYPE_NEWDECIMAL,
		mysql.MYSQL_TYPE_FLOAT, mysql.MYSQL_TYPE_DOUBLE:
		return true
	}
	return false
}

func bitmapLen(n int) int {
	return (n + 7) / 8
}

func (e *TableMapEvent) metaBlockLen() int {
	n := 0
	for _, c := range e.Columns {
		n += c.metaLen()
	}
	return n
}

func (e *TableMapEvent) signedness() []byte {
	var numeric []bool
	for _, c := range e.Columns {
		if c.isNumeric() {
			numeric = append(numeric, c.Unsigned)
		}
	}
	if len(numeric) == 0 {
		return nil
	}
	bits := make([]byte, bitmapLen(len(numeric)))
	for i, unsigned := range numeric {
		if unsigned {
			bits[i/8] |= 0x80 >> (i % 8)
		}
	}
	return bits
}

func (e *TableMapEvent) columnNames() []byte {
	var out []byte
	for _, c := range e.Columns {
		out = wire.AppendLengthEncodedInt(out, uint64(len(c.Name)))
		out = append(out, c.Name...)
	}
	return out
}

// optionalMetadata renders the TLV block appended after the null bitmap.
func (e *TableMapEvent) optionalMetadata() []byte {
	if !e.FullMetadata {
		return nil
	}
	var out []byte
	if s := e.signedness(); s != nil {
		out = append(out, optionalMetaSignedness)
		out = wire.AppendLengthEncodedInt(out, uint64(len(s)))
		out = append(out, s...)
	}
	names := e.columnNames()
	out = append(out, optionalMetaColumnName)
	out = wire.AppendLengthEncodedInt(out, uint64(len(names)))
	return append(out, names...)
}

func tableMapSize(_ *Codec, e *TableMapEvent) (int, error) {
	if e.TableID > maxTableID {
		return 0, fmt.Errorf("table id %d exceeds 48 bits", e.TableID)
	}
	if len(e.Schema) > math.MaxUint8 || len(e.Table) > math.MaxUint8 {
		return 0, fmt.Errorf("name %s.%s too long", e.Schema, e.Table)
	}
	cols := len(e.Columns)
	meta := e.metaBlockLen()
	return tableMapPostHeaderLen +
		1 + len(e.Schema) + 1 +
		1 + len(e.Table) + 1 +
		wire.LengthEncodedIntSize(uint64(cols)) + cols +
		wire.LengthEncodedIntSize(uint64(meta)) + meta +
		bitmapLen(cols) +
		len(e.optionalMetadata()), nil
}

func encodeTableMap(_ *Codec, e *TableMapEvent, w *wire.Cursor) error {
	if err := w.WriteUint48(e.TableID); err != nil {
		return err
	}
	if err := w.WriteUint16(e.TableFlags); err != nil {
		return err
	}
	for _, name := range [...]string{e.Schema, e.Table} {
		if err := w.WriteUint8(uint8(len(name))); err != nil {
			return err
		}
		if err := w.WriteString(name); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil {
			return err
		}
	}

	if err := w.PutLengthEncodedInt(uint64(len(e.Columns))); err != nil {
		return err
	}
	for _, c := range e.Columns {
		if err := w.WriteUint8(c.Type); err != nil {
			return err
		}
	}
	if err := w.PutLengthEncodedInt(uint64(e.metaBlockLen())); err != nil {
		return err
	}
	for _, c := range e.Columns {
		if err := c.writeMeta(w); err != nil {
			return err
		}
	}

	nulls := make([]byte, bitmapLen(len(e.Columns)))
	for i, c := range e.Columns {
		if c.Nullable {
			nulls[i/8] |= 1 << (i % 8)
		}
	}
	if err := w.WriteBytes(nulls); err != nil {
		return err
	}
	return w.WriteBytes(e.optionalMetadata())
}
