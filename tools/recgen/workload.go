package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/maxpert/binlogd/event"
	"github.com/maxpert/binlogd/record"
)

// fields is the schema of every generated table.
var fields = []record.Field{
	{Name: "id", TypeName: "BIGINT"},
	{Name: "k", TypeName: "VARCHAR(64)", Length: 64},
	{Name: "v", TypeName: "DOUBLE"},
	{Name: "note", TypeName: "TEXT", Nullable: true},
}

const createTable = "CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY, k VARCHAR(64), v DOUBLE, note TEXT)"

// KeyGenerator hands out row ids for one table. Deleted ids are not reused.
type KeyGenerator struct {
	next int64
	live []int64
}

// NextInsertKey returns a fresh id and marks it live.
func (g *KeyGenerator) NextInsertKey() int64 {
	g.next++
	g.live = append(g.live, g.next)
	return g.next
}

// RandomExistingKey returns a live id, false when the table is empty.
func (g *KeyGenerator) RandomExistingKey(rng *rand.Rand) (int64, bool) {
	if len(g.live) == 0 {
		return 0, false
	}
	return g.live[rng.Intn(len(g.live))], true
}

// RemoveRandomKey removes and returns a live id.
func (g *KeyGenerator) RemoveRandomKey(rng *rand.Rand) (int64, bool) {
	if len(g.live) == 0 {
		return 0, false
	}
	i := rng.Intn(len(g.live))
	id := g.live[i]
	g.live[i] = g.live[len(g.live)-1]
	g.live = g.live[:len(g.live)-1]
	return id, true
}

// OpSelector picks operations by cumulative percentage.
type OpSelector struct {
	thresholds [3]int
	rng        *rand.Rand
}

func NewOpSelector(dist WorkloadDistribution, rng *rand.Rand) *OpSelector {
	s := &OpSelector{rng: rng}
	s.thresholds[0] = dist.Insert
	s.thresholds[1] = s.thresholds[0] + dist.Update
	s.thresholds[2] = s.thresholds[1] + dist.Delete
	return s
}

func (s *OpSelector) Select() record.OpType {
	n := s.rng.Intn(100)
	switch {
	case n < s.thresholds[0]:
		return record.OpInsert
	case n < s.thresholds[1]:
		return record.OpUpdate
	default:
		return record.OpDelete
	}
}

// Generator produces record payloads with increasing transaction sequence.
type Generator struct {
	cfg   *GenConfig
	rng   *rand.Rand
	sel   *OpSelector
	keys  []*KeyGenerator
	txSeq int64
	now   func() time.Time
}

func NewGenerator(cfg *GenConfig) *Generator {
	rng := rand.New(rand.NewSource(cfg.Seed))
	g := &Generator{
		cfg:  cfg,
		rng:  rng,
		sel:  NewOpSelector(cfg.Distribution(), rng),
		keys: make([]*KeyGenerator, cfg.Tables),
		now:  time.Now,
	}
	for i := range g.keys {
		g.keys[i] = &KeyGenerator{}
	}
	return g
}

func tableName(i int) string {
	return fmt.Sprintf("bench_%d", i+1)
}

func (g *Generator) base(table string, op record.OpType) *record.Record {
	g.txSeq++
	ms := g.now().UnixMilli()
	return &record.Record{
		CheckPoint: fmt.Sprintf("recgen:%d", g.txSeq),
		DBName:     g.cfg.Database,
		Table:      table,
		OpType:     op,
		TxSeq:      g.txSeq,
		LastCommit: g.txSeq - 1,
		Seq:        g.txSeq,
		SCN:        g.txSeq,
		MsgTime:    ms,
		TxTime:     ms,
	}
}

// DDL returns the CREATE TABLE payload for table i.
func (g *Generator) DDL(i int) ([]byte, error) {
	r := g.base(tableName(i), record.OpDDL)
	r.DDLSQL = fmt.Sprintf(createTable, tableName(i))
	r.DDLType = "CREATE"
	return record.EncodeDDL(r)
}

func (g *Generator) row(id int64) []record.Pair {
	note := event.NullValue()
	if g.rng.Intn(4) != 0 {
		note = event.StringValue(fmt.Sprintf("note-%d", g.rng.Int63()))
	}
	return []record.Pair{
		{Name: "id", Value: event.LongValue(id)},
		{Name: "k", Value: event.StringValue(fmt.Sprintf("key_%012d", id))},
		{Name: "v", Value: event.DoubleValue(g.rng.Float64() * 1000)},
		{Name: "note", Value: note},
	}
}

// Insert returns an insert payload for table i.
func (g *Generator) Insert(i int) ([]byte, error) {
	r := g.base(tableName(i), record.OpInsert)
	r.Fields = fields
	r.NewData = g.row(g.keys[i].NextInsertKey())
	return record.EncodeDML(r)
}

// Next returns the next workload payload and its operation. Updates and
// deletes on an empty table become inserts.
func (g *Generator) Next() ([]byte, record.OpType, error) {
	i := g.rng.Intn(len(g.keys))
	op := g.sel.Select()

	var id int64
	var ok bool
	switch op {
	case record.OpUpdate:
		id, ok = g.keys[i].RandomExistingKey(g.rng)
	case record.OpDelete:
		id, ok = g.keys[i].RemoveRandomKey(g.rng)
	}
	if op != record.OpInsert && !ok {
		op = record.OpInsert
	}
	if op == record.OpInsert {
		payload, err := g.Insert(i)
		return payload, op, err
	}

	r := g.base(tableName(i), op)
	r.Fields = fields
	r.Keys = []record.Pair{{Name: "id", Value: event.LongValue(id)}}
	if op == record.OpUpdate {
		r.NewData = g.row(id)
	}
	payload, err := record.EncodeDML(r)
	return payload, op, err
}

// writeFrame writes one record frame: kind byte, 4-byte little-endian
// length, payload.
func writeFrame(w io.Writer, isDDL bool, payload []byte) error {
	var header [5]byte
	header[0] = 'M'
	if isDDL {
		header[0] = 'D'
	}
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
