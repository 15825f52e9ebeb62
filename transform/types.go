package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"

	"github.com/maxpert/binlogd/event"
	"github.com/maxpert/binlogd/record"
)

// typeClass says how a field descriptor's length and precision become column metadata.
type typeClass uint8

const (
	classPlain typeClass = iota
	classFloat
	classDouble
	classDecimal
	classTemporal
	classBit
	classVarchar
	classBlob
)

type columnType struct {
	typ   byte
	class typeClass
	// meta is the fixed metadata for blob-class types and the default
	// precision for decimals.
	meta uint16
}

const (
	maxVarcharLen   = math.MaxUint16
	maxFsp          = 6
	maxDecimalPrec  = 65
	maxDecimalScale = 30
	maxBitLen       = 64
)

// columnTypes maps upper-cased type names, MySQL and Oracle spellings, to binlog column types.
var columnTypes = map[string]columnType{
	"TINYINT":   {typ: mysql.MYSQL_TYPE_TINY},
	"BOOL":      {typ: mysql.MYSQL_TYPE_TINY},
	"BOOLEAN":   {typ: mysql.MYSQL_TYPE_TINY},
	"SMALLINT":  {typ: mysql.MYSQL_TYPE_SHORT},
	"MEDIUMINT": {typ: mysql.MYSQL_TYPE_INT24},
	"INT":       {typ: mysql.MYSQL_TYPE_LONG},
	"INTEGER":   {typ: mysql.MYSQL_TYPE_LONG},
	"BIGINT":    {typ: mysql.MYSQL_TYPE_LONGLONG},
	"YEAR":      {typ: mysql.MYSQL_TYPE_YEAR},

	"FLOAT":            {typ: mysql.MYSQL_TYPE_FLOAT, class: classFloat},
	"BINARY_FLOAT":     {typ: mysql.MYSQL_TYPE_FLOAT, class: classFloat},
	"DOUBLE":           {typ: mysql.MYSQL_TYPE_DOUBLE, class: classDouble},
	"DOUBLE PRECISION": {typ: mysql.MYSQL_TYPE_DOUBLE, class: classDouble},
	"REAL":             {typ: mysql.MYSQL_TYPE_DOUBLE, class: classDouble},
	"BINARY_DOUBLE":    {typ: mysql.MYSQL_TYPE_DOUBLE, class: classDouble},

	"DECIMAL": {typ: mysql.MYSQL_TYPE_NEWDECIMAL, class: classDecimal, meta: 10},
	"DEC":     {typ: mysql.MYSQL_TYPE_NEWDECIMAL, class: classDecimal, meta: 10},
	"NUMERIC": {typ: mysql.MYSQL_TYPE_NEWDECIMAL, class: classDecimal, meta: 10},
	"NUMBER":  {typ: mysql.MYSQL_TYPE_NEWDECIMAL, class: classDecimal, meta: maxDecimalPrec},

	"BIT": {typ: mysql.MYSQL_TYPE_BIT, class: classBit},

	"DATE":      {typ: mysql.MYSQL_TYPE_DATE},
	"DATETIME":  {typ: mysql.MYSQL_TYPE_DATETIME2, class: classTemporal},
	"TIMESTAMP": {typ: mysql.MYSQL_TYPE_TIMESTAMP2, class: classTemporal},
	"TIME":      {typ: mysql.MYSQL_TYPE_TIME2, class: classTemporal},

	"VARCHAR":   {typ: mysql.MYSQL_TYPE_VARCHAR, class: classVarchar},
	"VARCHAR2":  {typ: mysql.MYSQL_TYPE_VARCHAR, class: classVarchar},
	"NVARCHAR":  {typ: mysql.MYSQL_TYPE_VARCHAR, class: classVarchar},
	"NVARCHAR2": {typ: mysql.MYSQL_TYPE_VARCHAR, class: classVarchar},
	"VARBINARY": {typ: mysql.MYSQL_TYPE_VARCHAR, class: classVarchar},
	"RAW":       {typ: mysql.MYSQL_TYPE_VARCHAR, class: classVarchar},

	// Fixed character fields travel with a 4-byte length prefix.
	"CHAR":      {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"CHARACTER": {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"NCHAR":     {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"BINARY":    {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},

	"TINYTEXT":   {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 1},
	"TINYBLOB":   {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 1},
	"TEXT":       {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 2},
	"BLOB":       {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 2},
	"MEDIUMTEXT": {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 3},
	"MEDIUMBLOB": {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 3},
	"LONGTEXT":   {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"LONGBLOB":   {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"CLOB":       {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"NCLOB":      {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"LONG":       {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},
	"LONG RAW":   {typ: mysql.MYSQL_TYPE_BLOB, class: classBlob, meta: 4},

	"JSON":     {typ: mysql.MYSQL_TYPE_JSON, class: classBlob, meta: 4},
	"GEOMETRY": {typ: mysql.MYSQL_TYPE_GEOMETRY, class: classBlob, meta: 4},
}

// normalizeTypeName upper-cases name, drops any "(n,m)" arguments and
// trailing attributes, and reports a trailing UNSIGNED.
func normalizeTypeName(name string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(name))
	unsigned := strings.Contains(s, "UNSIGNED")
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	fields := strings.Fields(s)
	for len(fields) > 1 {
		last := fields[len(fields)-1]
		if last != "UNSIGNED" && last != "ZEROFILL" && last != "SIGNED" {
			break
		}
		fields = fields[:len(fields)-1]
	}
	s = strings.Join(fields, " ")
	if _, ok := columnTypes[s]; !ok && len(fields) > 1 {
		// "TIMESTAMP WITH TIME ZONE" and friends.
		s = fields[0]
	}
	return s, unsigned
}

// columnFor converts a field descriptor into the column the event encoders use.
func columnFor(f record.Field) (event.Column, error) {
	name, unsigned := normalizeTypeName(f.TypeName)
	ct, ok := columnTypes[name]
	if !ok {
		return event.Column{}, fmt.Errorf("%w: column %q has unsupported type %q", record.ErrDecode, f.Name, f.TypeName)
	}
	col := event.Column{
		Name:     f.Name,
		Type:     ct.typ,
		Nullable: f.Nullable,
		Unsigned: f.IsUnsigned || unsigned,
	}

	switch ct.class {
	case classFloat:
		col.Meta = 4
	case classDouble:
		col.Meta = 8
	case classDecimal:
		precision, scale := f.Precision, f.Length
		if precision <= 0 {
			precision = int64(ct.meta)
		}
		if precision > maxDecimalPrec || scale < 0 || scale > maxDecimalScale || scale > precision {
			return event.Column{}, fmt.Errorf("%w: column %q has invalid DECIMAL(%d,%d)", record.ErrDecode, f.Name, precision, scale)
		}
		col.Meta = event.DecimalMeta(int(precision), int(scale))
	case classTemporal:
		if f.Precision < 0 || f.Precision > maxFsp {
			return event.Column{}, fmt.Errorf("%w: column %q has fractional precision %d", record.ErrDecode, f.Name, f.Precision)
		}
		col.Meta = uint16(f.Precision)
	case classBit:
		bits := f.Length
		if bits <= 0 {
			bits = 1
		}
		if bits > maxBitLen {
			return event.Column{}, fmt.Errorf("%w: column %q has BIT(%d)", record.ErrDecode, f.Name, bits)
		}
		col.Meta = event.BitMeta(int(bits))
	case classVarchar:
		switch {
		case f.Length > maxVarcharLen:
			col.Type, col.Meta = mysql.MYSQL_TYPE_BLOB, 4
		case f.Length <= 0:
			col.Meta = maxVarcharLen
		default:
			col.Meta = uint16(f.Length)
		}
	case classBlob:
		col.Meta = ct.meta
	}
	return col, nil
}
