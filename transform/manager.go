// Package transform maps decoded change records onto the binlog events that
// represent them and serializes those events.
package transform

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/event"
	"github.com/maxpert/binlogd/filter"
	"github.com/maxpert/binlogd/record"
)

const (
	defaultCacheSize = 1024
	maxTableID       = 1<<48 - 1

	queryBegin = "BEGIN"

	// gtidFlagMayHaveSBR is set by MySQL on transactions holding a statement event.
	gtidFlagMayHaveSBR = 0x1
)

// ErrFiltered is returned for DML records whose table the filter rejects.
var ErrFiltered = errors.New("transform: table filtered out")

// Options configures a Manager.
type Options struct {
	Codec   *event.Codec
	Decoder record.Decoder
	Filter  *filter.GlobFilter

	// SID is carried by every Gtid event; zero unless a server UUID is configured.
	SID          [16]byte
	Charset      event.Charset
	CollationDB  uint16
	SQLMode      uint64
	TimeZone     string
	FullMetadata bool

	// CacheSize bounds the column metadata cache.
	CacheSize int
}

// Manager turns record payloads into events. It is safe for concurrent use;
// the only shared state is the metadata cache.
type Manager struct {
	opts          Options
	codec         *event.Codec
	decoder       record.Decoder
	serverVersion uint32
	columns       *lru.Cache[uint64, []event.Column]
}

// Transaction is the expansion of one record.
type Transaction struct {
	Record *record.Record
	Events []event.Event
	// Buffers holds the serialized Events with log_pos still zero.
	Buffers [][]byte
	Size    int
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Codec == nil {
		opts.Codec = &event.Codec{}
	}
	if opts.Decoder == nil {
		opts.Decoder = record.MsgpackDecoder{}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	cache, err := lru.New[uint64, []event.Column](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create column cache: %w", err)
	}
	version := opts.Codec.ServerVersion
	if version == "" {
		version = event.DefaultServerVersion
	}
	return &Manager{
		opts:          opts,
		codec:         opts.Codec,
		decoder:       opts.Decoder,
		serverVersion: event.ServerVersionNumber(version),
		columns:       cache,
	}, nil
}

// Codec returns the codec events are serialized with.
func (m *Manager) Codec() *event.Codec {
	return m.codec
}

// DecodeAndExpand decodes payload and builds the ordered events of its transaction:
// Gtid, Query for DDL; Gtid, Query(BEGIN), TableMap, Rows, Xid for DML.
func (m *Manager) DecodeAndExpand(payload []byte, isDDL bool) (*Transaction, error) {
	rec, err := m.decoder.Decode(payload, isDDL)
	if err != nil {
		return nil, err
	}
	var events []event.Event
	if rec.IsDDL() {
		events = m.expandDDL(rec)
	} else {
		if !m.opts.Filter.Match(rec.DBName, rec.Table) {
			return &Transaction{Record: rec}, ErrFiltered
		}
		if events, err = m.expandDML(rec); err != nil {
			return nil, err
		}
	}
	return &Transaction{Record: rec, Events: events}, nil
}

// Transform expands payload and serializes every event. The Gtid event's
// transaction length covers all of the buffers.
func (m *Manager) Transform(payload []byte, isDDL bool) (*Transaction, error) {
	tx, err := m.DecodeAndExpand(payload, isDDL)
	if err != nil {
		return tx, err
	}
	if err := m.setTransactionLength(tx.Events); err != nil {
		return nil, err
	}
	tx.Buffers = make([][]byte, 0, len(tx.Events))
	for _, e := range tx.Events {
		buf, err := m.codec.Encode(e)
		if err != nil {
			return nil, err
		}
		tx.Buffers = append(tx.Buffers, buf)
		tx.Size += len(buf)
	}
	return tx, nil
}

// setTransactionLength solves for the Gtid length field, whose own width
// depends on the value it holds.
func (m *Manager) setTransactionLength(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	gtid, ok := events[0].(*event.GtidEvent)
	if !ok {
		return nil
	}
	rest := 0
	for _, e := range events[1:] {
		n, err := m.codec.Size(e)
		if err != nil {
			return fmt.Errorf("failed to size %s event: %w", e.Type(), err)
		}
		rest += n
	}
	gtid.TransactionLength = uint64(rest)
	for {
		n, err := m.codec.Size(gtid)
		if err != nil {
			return err
		}
		total := uint64(rest + n)
		if total == gtid.TransactionLength {
			return nil
		}
		gtid.TransactionLength = total
	}
}

func (m *Manager) header(rec *record.Record) event.Header {
	return event.Header{Timestamp: uint32(rec.TxTime / 1000)}
}

func (m *Manager) gtid(rec *record.Record, flags uint8) *event.GtidEvent {
	return &event.GtidEvent{
		Header:                   m.header(rec),
		GtidFlags:                flags,
		SID:                      m.opts.SID,
		GNO:                      rec.TxSeq,
		LastCommitted:            rec.LastCommit,
		SequenceNumber:           rec.Seq,
		ImmediateCommitTimestamp: uint64(rec.TxTime) * 1000,
		ImmediateServerVersion:   m.serverVersion,
	}
}

func (m *Manager) statusVars(rec *record.Record) event.StatusVars {
	return event.StatusVars{
		SQLMode:                    m.opts.SQLMode,
		Charset:                    m.opts.Charset,
		TimeZone:                   m.opts.TimeZone,
		Microseconds:               uint32(rec.TxTime%1000) * 1000,
		DefaultCollationForUTF8MB4: m.opts.CollationDB,
	}
}

func (m *Manager) expandDDL(rec *record.Record) []event.Event {
	schema := rec.DBName
	if schema == "" {
		schema = ddlSchema(rec.DDLSQL)
	}
	vars := m.statusVars(rec)
	vars.DDLXid = uint64(rec.TxSeq)
	if schema != "" {
		vars.UpdatedDBNames = []string{schema}
	}
	return []event.Event{
		m.gtid(rec, gtidFlagMayHaveSBR),
		&event.QueryEvent{
			Header:     m.header(rec),
			StatusVars: vars,
			Schema:     schema,
			Query:      rec.DDLSQL,
		},
	}
}

func (m *Manager) expandDML(rec *record.Record) ([]event.Event, error) {
	cols, err := m.columnsFor(rec.Fields)
	if err != nil {
		return nil, err
	}
	tableID := TableID(rec.DBName, rec.Table)

	rows := &event.RowsEvent{
		Header:    m.header(rec),
		TableID:   tableID,
		RowsFlags: event.RowsFlagStmtEnd,
		Columns:   cols,
	}
	var row event.Row
	switch rec.OpType {
	case record.OpInsert:
		rows.Kind = event.TypeWriteRows
		rows.AfterPresent, row.After = image(cols, rec.NewData)
	case record.OpUpdate:
		rows.Kind = event.TypeUpdateRows
		rows.BeforePresent, row.Before = image(cols, rec.Keys)
		rows.AfterPresent, row.After = image(cols, rec.NewData)
	case record.OpDelete:
		rows.Kind = event.TypeDeleteRows
		rows.BeforePresent, row.Before = image(cols, rec.Keys)
	default:
		return nil, fmt.Errorf("%w: op_type %s has no rows event", record.ErrDecode, rec.OpType)
	}
	rows.Rows = []event.Row{row}

	return []event.Event{
		m.gtid(rec, 0),
		&event.QueryEvent{
			Header:     m.header(rec),
			StatusVars: m.statusVars(rec),
			Schema:     rec.DBName,
			Query:      queryBegin,
		},
		&event.TableMapEvent{
			Header:       m.header(rec),
			TableID:      tableID,
			TableFlags:   event.TableMapFlagBitLenExact,
			Schema:       rec.DBName,
			Table:        rec.Table,
			Columns:      cols,
			FullMetadata: m.opts.FullMetadata,
		},
		rows,
		&event.XidEvent{
			Header: m.header(rec),
			XID:    uint64(rec.TxSeq),
		},
	}, nil
}

// image lays pairs out in column order and marks which columns they cover.
func image(cols []event.Column, pairs []record.Pair) ([]bool, []event.Value) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c.Name] = i
	}
	present := make([]bool, len(cols))
	values := make([]event.Value, len(cols))
	for _, p := range pairs {
		i, ok := index[p.Name]
		if !ok {
			continue
		}
		present[i] = true
		values[i] = p.Value
	}
	return present, values
}

// columnsFor converts field descriptors, caching by a hash of the descriptors.
// Cached slices are shared and must not be modified.
func (m *Manager) columnsFor(fields []record.Field) ([]event.Column, error) {
	key := fieldsHash(fields)
	if cols, ok := m.columns.Get(key); ok {
		return cols, nil
	}
	cols := make([]event.Column, len(fields))
	for i, f := range fields {
		col, err := columnFor(f)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	m.columns.Add(key, cols)
	return cols, nil
}

func fieldsHash(fields []record.Field) uint64 {
	d := xxhash.New()
	var num []byte
	for _, f := range fields {
		_, _ = d.WriteString(f.Name)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(f.TypeName)
		num = strconv.AppendInt(num[:0], f.Length, 10)
		num = append(num, ',')
		num = strconv.AppendInt(num, f.Precision, 10)
		num = append(num, ',', boolByte(f.IsUnsigned), boolByte(f.Nullable), 0)
		_, _ = d.Write(num)
	}
	return d.Sum64()
}

func boolByte(b bool) byte {
	if b {
		return '1'
	}
	return '0'
}

// TableID derives a stable 48-bit table id from the qualified table name, so
// every worker assigns the same id without coordination. 0 and the all-ones
// value are reserved by MySQL.
func TableID(db, table string) uint64 {
	id := xxhash.Sum64String(db+"."+table) & maxTableID
	switch id {
	case 0:
		return 1
	case maxTableID:
		return maxTableID - 1
	}
	return id
}

// ddlSchema extracts the database a DDL statement targets, or "".
func ddlSchema(sql string) string {
	schema, err := ParseDDLTarget(sql)
	if err != nil {
		log.Debug().Err(err).Str("sql", sql).Msg("Could not parse DDL for schema")
		return ""
	}
	return schema.Database
}
