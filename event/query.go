package event

import (
	"fmt"
	"math"

	"github.com/maxpert/binlogd/wire"
)

const queryPostHeaderLen = 4 + 4 + 1 + 2 + 2

// Status variable codes.
const (
	statusFlags2               = 0
	statusSQLMode              = 1
	statusAutoIncrement        = 3
	statusCharset              = 4
	statusTimeZone             = 5
	statusUpdatedDBNames       = 12
	statusMicroseconds         = 13
	statusDDLLoggedWithXid     = 17
	statusDefaultCollationUTF8 = 18
)

const (
	maxUpdatedDBNames          = 16
	overUpdatedDBNamesSentinel = 254
	maxStatusVarsLen           = math.MaxUint16
)

// Charset is the session character set triple of a Query event.
type Charset struct {
	Client     uint16
	Connection uint16
	Server     uint16
}

// StatusVars holds the Query event status variables. Zero values are
// defaults and are not written.
type StatusVars struct {
	Flags2                     uint32
	SQLMode                    uint64
	AutoIncrementIncrement     uint16
	AutoIncrementOffset        uint16
	Charset                    Charset
	TimeZone                   string
	UpdatedDBNames             []string
	Microseconds               uint32
	DDLXid                     uint64
	DefaultCollationForUTF8MB4 uint16
}

func (s *StatusVars) hasAutoIncrement() bool {
	inc, off := s.AutoIncrementIncrement, s.AutoIncrementOffset
	return (inc != 0 && inc != 1) || (off != 0 && off != 1)
}

func orOne(v uint16) uint16 {
	if v == 0 {
		return 1
	}
	return v
}

func (s *StatusVars) size() (int, error) {
	n := 0
	if s.Flags2 != 0 {
		n += 1 + 4
	}
	if s.SQLMode != 0 {
		n += 1 + 8
	}
	if s.hasAutoIncrement() {
		n += 1 + 4
	}
	if s.Charset != (Charset{}) {
		n += 1 + 6
	}
	if s.TimeZone != "" {
		if len(s.TimeZone) > math.MaxUint8 {
			return 0, fmt.Errorf("time zone %q too long", s.TimeZone)
		}
		n += 1 + 1 + len(s.TimeZone)
	}
	if len(s.UpdatedDBNames) > 0 {
		n += 1 + 1
		if len(s.UpdatedDBNames) <= maxUpdatedDBNames {
			for _, db := range s.UpdatedDBNames {
				n += len(db) + 1
			}
		}
	}
	if s.Microseconds != 0 {
		n += 1 + 3
	}
	if s.DDLXid != 0 {
		n += 1 + 8
	}
	if s.DefaultCollationForUTF8MB4 != 0 {
		n += 1 + 2
	}
	if n > maxStatusVarsLen {
		return 0, fmt.Errorf("status variables of %d bytes exceed %d", n, maxStatusVarsLen)
	}
	return n, nil
}

// encode writes the variables in ascending code order.
func (s *StatusVars) encode(w *wire.Cursor) error {
	var err error
	put := func(width int, v uint64) {
		if err == nil {
			err = w.WriteUint(width, v)
		}
	}
	putString := func(v string) {
		if err == nil {
			err = w.WriteString(v)
		}
	}

	if s.Flags2 != 0 {
		put(1, statusFlags2)
		put(4, uint64(s.Flags2))
	}
	if s.SQLMode != 0 {
		put(1, statusSQLMode)
		put(8, s.SQLMode)
	}
	if s.hasAutoIncrement() {
		put(1, statusAutoIncrement)
		put(2, uint64(orOne(s.AutoIncrementIncrement)))
		put(2, uint64(orOne(s.AutoIncrementOffset)))
	}
	if s.Charset != (Charset{}) {
		put(1, statusCharset)
		put(2, uint64(s.Charset.Client))
		put(2, uint64(s.Charset.Connection))
		put(2, uint64(s.Charset.Server))
	}
	if s.TimeZone != "" {
		put(1, statusTimeZone)
		put(1, uint64(len(s.TimeZone)))
		putString(s.TimeZone)
	}
	if len(s.UpdatedDBNames) > 0 {
		put(1, statusUpdatedDBNames)
		if len(s.UpdatedDBNames) > maxUpdatedDBNames {
			put(1, overUpdatedDBNamesSentinel)
		} else {
			put(1, uint64(len(s.UpdatedDBNames)))
			for _, db := range s.UpdatedDBNames {
				putString(db)
				put(1, 0)
			}
		}
	}
	if s.Microseconds != 0 {
		put(1, statusMicroseconds)
		put(3, uint64(s.Microseconds))
	}
	if s.DDLXid != 0 {
		put(1, statusDDLLoggedWithXid)
		put(8, s.DDLXid)
	}
	if s.DefaultCollationForUTF8MB4 != 0 {
		put(1, statusDefaultCollationUTF8)
		put(2, uint64(s.DefaultCollationForUTF8MB4))
	}
	return err
}

func querySize(_ *Codec, e *QueryEvent) (int, error) {
	if len(e.Schema) > math.MaxUint8 {
		return 0, fmt.Errorf("schema name %q too long", e.Schema)
	}
	vars, err := e.StatusVars.size()
	if err != nil {
		return 0, err
	}
	return queryPostHeaderLen + vars + len(e.Schema) + 1 + len(e.Query), nil
}

func encodeQuery(_ *Codec, e *QueryEvent, w *wire.Cursor) error {
	vars, err := e.StatusVars.size()
	if err != nil {
		return err
	}
	if err := w.WriteUint32(e.ThreadID); err != nil {
		return err
	}
	if err := w.WriteUint32(e.ExecTime); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(len(e.Schema))); err != nil {
		return err
	}
	if err := w.WriteUint16(e.ErrorCode); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(vars)); err != nil {
		return err
	}
	if err := e.StatusVars.encode(w); err != nil {
		return err
	}
	if err := w.WriteString(e.Schema); err != nil {
		return err
	}
	if err := w.WriteUint8(0); err != nil {
		return err
	}
	return w.WriteString(e.Query)
}
