package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/jizhuozhi/go-future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/binlogd/event"
	"github.com/maxpert/binlogd/filter"
	"github.com/maxpert/binlogd/logfile"
	"github.com/maxpert/binlogd/record"
	"github.com/maxpert/binlogd/transform"
)

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "binlog"
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 1 << 20
	}
	if cfg.Transform.Codec == nil {
		cfg.Transform.Codec = &event.Codec{ServerID: 1}
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func ddl(t *testing.T, db, sql string, txSeq int64) []byte {
	t.Helper()
	b, err := record.EncodeDDL(&record.Record{
		CheckPoint: fmt.Sprintf("cp-%d", txSeq),
		DBName:     db,
		DDLSQL:     sql,
		TxSeq:      txSeq,
		LastCommit: txSeq - 1,
		Seq:        txSeq,
		MsgTime:    1700000000000 + txSeq,
		TxTime:     1700000000000 + txSeq,
	})
	require.NoError(t, err)
	return b
}

func insert(t *testing.T, db, table string, txSeq, value int64) []byte {
	t.Helper()
	b, err := record.EncodeDML(&record.Record{
		CheckPoint: fmt.Sprintf("cp-%d", txSeq),
		DBName:     db,
		Table:      table,
		OpType:     record.OpInsert,
		TxSeq:      txSeq,
		LastCommit: txSeq - 1,
		Seq:        txSeq,
		MsgTime:    1700000000000 + txSeq,
		TxTime:     1700000000000 + txSeq,
		Fields:     []record.Field{{Name: "a", TypeName: "INT"}},
		NewData:    []record.Pair{{Name: "a", Value: event.LongValue(value)}},
	})
	require.NoError(t, err)
	return b
}

func shutdown(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

// parseAll decodes every file of the set in index order.
func parseAll(t *testing.T, p *Pipeline) map[string][]*replication.BinlogEvent {
	t.Helper()
	out := make(map[string][]*replication.BinlogEvent)
	for _, f := range p.Files().Files() {
		parser := replication.NewBinlogParser()
		var events []*replication.BinlogEvent
		err := parser.ParseFile(filepath.Join(p.Files().Dir(), f.Name), 0, func(e *replication.BinlogEvent) error {
			events = append(events, e)
			return nil
		})
		require.NoError(t, err, f.Name)
		out[f.Name] = events
	}
	return out
}

func gnos(t *testing.T, p *Pipeline) []int64 {
	t.Helper()
	var out []int64
	parsed := parseAll(t, p)
	for _, f := range p.Files().Files() {
		for _, e := range parsed[f.Name] {
			if g, ok := e.Event.(*replication.GTIDEvent); ok {
				out = append(out, g.GNO)
			}
		}
	}
	return out
}

func TestEndToEndDDLAndInsert(t *testing.T) {
	p := newPipeline(t, Config{Workers: 2})
	p.Start()

	ctx := context.Background()
	f1, err := p.Submit(ctx, ddl(t, "test", "CREATE TABLE t1 (a INT)", 1), true)
	require.NoError(t, err)
	f2, err := p.Submit(ctx, insert(t, "test", "t1", 2, 42), false)
	require.NoError(t, err)
	require.NoError(t, p.WaitForCompletion(ctx))

	pos1, err := f1.Get()
	require.NoError(t, err)
	pos2, err := f2.Get()
	require.NoError(t, err)
	assert.Equal(t, "binlog.000001", pos2.Name)
	assert.Greater(t, pos2.Pos, pos1.Pos)
	shutdown(t, p)

	events := parseAll(t, p)["binlog.000001"]
	var typesSeen []replication.EventType
	for _, e := range events {
		typesSeen = append(typesSeen, e.Header.EventType)
	}
	assert.Equal(t, []replication.EventType{
		replication.FORMAT_DESCRIPTION_EVENT,
		replication.GTID_EVENT,
		replication.QUERY_EVENT,
		replication.GTID_EVENT,
		replication.QUERY_EVENT,
		replication.TABLE_MAP_EVENT,
		replication.WRITE_ROWS_EVENTv2,
		replication.XID_EVENT,
	}, typesSeen)

	last := uint32(4)
	for _, e := range events {
		assert.Greater(t, e.Header.LogPos, last)
		assert.Equal(t, last+e.Header.EventSize, e.Header.LogPos)
		last = e.Header.LogPos
	}
	assert.Equal(t, pos1.Pos, events[2].Header.LogPos)
	assert.Equal(t, pos2.Pos, events[7].Header.LogPos)

	create := events[2].Event.(*replication.QueryEvent)
	assert.Equal(t, "CREATE TABLE t1 (a INT)", string(create.Query))
	assert.Equal(t, "test", string(create.Schema))
	begin := events[4].Event.(*replication.QueryEvent)
	assert.Equal(t, "BEGIN", string(begin.Query))

	tm := events[5].Event.(*replication.TableMapEvent)
	assert.Equal(t, "t1", string(tm.Table))
	assert.Equal(t, uint64(1), tm.ColumnCount)

	rows := events[6].Event.(*replication.RowsEvent)
	require.Len(t, rows.Rows, 1)
	assert.EqualValues(t, 42, rows.Rows[0][0])

	xid := events[7].Event.(*replication.XIDEvent)
	assert.Equal(t, uint64(2), xid.XID)
}

func TestOrderPreservation(t *testing.T) {
	p := newPipeline(t, Config{Workers: 8, BatchSize: 7, ResultCapacity: 4})
	p.Start()

	const n = 400
	ctx := context.Background()
	futures := make([]*future.Future[mysql.Position], 0, n)
	for i := int64(1); i <= n; i++ {
		var payload []byte
		isDDL := i%5 == 0
		if isDDL {
			payload = ddl(t, "db", fmt.Sprintf("CREATE TABLE t%d (a INT)", i), i)
		} else {
			payload = insert(t, "db", fmt.Sprintf("t%d", i%13), i, i)
		}
		f, err := p.Submit(ctx, payload, isDDL)
		require.NoError(t, err)
		futures = append(futures, f)
	}
	shutdown(t, p)

	var prev uint32
	for i, f := range futures {
		pos, err := f.Get()
		require.NoError(t, err, "task %d", i+1)
		assert.Greater(t, pos.Pos, prev)
		prev = pos.Pos
	}

	got := gnos(t, p)
	require.Len(t, got, n)
	for i, gno := range got {
		assert.Equal(t, int64(i+1), gno)
	}

	progress := p.Progress()
	assert.Equal(t, Progress{Pending: n, Processed: n, Written: n}, progress)
	assert.Equal(t, 0, p.InFlight())
}

func TestOutputMatchesSequentialTransform(t *testing.T) {
	codec := &event.Codec{ServerID: 9}
	p := newPipeline(t, Config{Workers: 4, BatchSize: 3, Transform: transform.Options{Codec: codec}})
	p.Start()

	var payloads [][]byte
	for i := int64(1); i <= 30; i++ {
		payloads = append(payloads, insert(t, "db", "t", i, i*10))
	}
	ctx := context.Background()
	for _, b := range payloads {
		_, err := p.Submit(ctx, b, false)
		require.NoError(t, err)
	}
	shutdown(t, p)

	m, err := transform.NewManager(transform.Options{Codec: codec})
	require.NoError(t, err)
	var want []byte
	for _, b := range payloads {
		tx, err := m.Transform(b, false)
		require.NoError(t, err)
		for _, buf := range tx.Buffers {
			want = append(want, buf...)
		}
	}

	raw, err := os.ReadFile(filepath.Join(p.Files().Dir(), "binlog.000001"))
	require.NoError(t, err)
	fdeEnd := 4 + event.HeaderLen + 103
	got := raw[fdeEnd:]
	require.Len(t, got, len(want))

	// Identical apart from the patched log_pos fields.
	for off := 0; off < len(want); {
		h, err := event.ParseHeader(want[off:])
		require.NoError(t, err)
		end := off + int(h.EventLength)
		assert.Equal(t, want[off:off+event.LogPosOffset], got[off:off+event.LogPosOffset])
		assert.Equal(t, want[off+event.LogPosOffset+4:end], got[off+event.LogPosOffset+4:end])
		off = end
	}
}

func TestRotationSafetyAndPositions(t *testing.T) {
	const maxSize = 4096
	p := newPipeline(t, Config{MaxFileSize: maxSize, Workers: 4, BatchSize: 5})
	p.Start()

	const n = 120
	ctx := context.Background()
	futures := make([]*future.Future[mysql.Position], 0, n)
	for i := int64(1); i <= n; i++ {
		f, err := p.Submit(ctx, insert(t, "db", "orders", i, i), false)
		require.NoError(t, err)
		futures = append(futures, f)
	}
	shutdown(t, p)

	files := p.Files().Files()
	require.Greater(t, len(files), 2)
	parsed := parseAll(t, p)

	xids := make(map[uint64]mysql.Position)
	for i, f := range files {
		info, err := os.Stat(filepath.Join(p.Files().Dir(), f.Name))
		require.NoError(t, err)
		assert.LessOrEqual(t, info.Size(), int64(maxSize))

		events := parsed[f.Name]
		if i < len(files)-1 {
			rot, ok := events[len(events)-1].Event.(*replication.RotateEvent)
			require.True(t, ok, f.Name)
			assert.Equal(t, files[i+1].Name, string(rot.NextLogName))
		}
		// Transactions are whole within a file.
		for j, e := range events {
			if e.Header.EventType == replication.GTID_EVENT {
				require.Less(t, j+4, len(events))
				assert.Equal(t, replication.XID_EVENT, events[j+4].Header.EventType)
			}
			if x, ok := e.Event.(*replication.XIDEvent); ok {
				xids[x.XID] = mysql.Position{Name: f.Name, Pos: e.Header.LogPos}
			}
		}
	}

	require.Len(t, xids, n)
	for i, f := range futures {
		pos, err := f.Get()
		require.NoError(t, err)
		assert.Equal(t, xids[uint64(i+1)], pos)
	}
}

func TestBackpressure(t *testing.T) {
	p := newPipeline(t, Config{QueueCapacity: 2, Workers: 1})
	ctx := context.Background()

	// Not started: nothing drains the queue.
	for i := int64(1); i <= 2; i++ {
		_, err := p.Submit(ctx, ddl(t, "db", "CREATE TABLE a (x INT)", i), true)
		require.NoError(t, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err := p.Submit(timeoutCtx, ddl(t, "db", "CREATE TABLE b (x INT)", 3), true)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(2), p.Progress().Pending)

	third := ddl(t, "db", "CREATE TABLE c (x INT)", 3)
	submitted := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, third, true)
		submitted <- err
	}()
	select {
	case <-submitted:
		t.Fatal("Submit should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	p.Start()
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not unblock after Start")
	}
	require.NoError(t, p.WaitForCompletion(ctx))
	shutdown(t, p)
	assert.Equal(t, []int64{1, 2, 3}, gnos(t, p))
}

func TestMalformedRecordIsSkipped(t *testing.T) {
	var commits []Commit
	p := newPipeline(t, Config{OnCommit: func(c []Commit) error {
		commits = append(commits, c...)
		return nil
	}})
	p.Start()
	ctx := context.Background()

	bad, err := p.Submit(ctx, []byte{0xc1}, false)
	require.NoError(t, err)
	good, err := p.Submit(ctx, insert(t, "db", "t", 5, 1), false)
	require.NoError(t, err)
	require.NoError(t, p.WaitForCompletion(ctx))

	_, err = bad.Get()
	assert.ErrorIs(t, err, record.ErrDecode)
	pos, err := good.Get()
	require.NoError(t, err)
	shutdown(t, p)

	assert.Equal(t, Progress{Pending: 2, Processed: 2, Written: 2, Skipped: 1}, p.Progress())
	require.Len(t, commits, 1)
	assert.Equal(t, int64(5), commits[0].Record.TxSeq)
	assert.Equal(t, "cp-5", commits[0].Record.CheckPoint)
	assert.Equal(t, pos, commits[0].Position)
	assert.Equal(t, []int64{5}, gnos(t, p))
}

func TestFilteredRecordIsSkipped(t *testing.T) {
	gf, err := filter.NewGlobFilter(nil, nil, []string{"db.audit*"})
	require.NoError(t, err)
	p := newPipeline(t, Config{Transform: transform.Options{Filter: gf}})
	p.Start()
	ctx := context.Background()

	skipped, err := p.Submit(ctx, insert(t, "db", "audit_log", 1, 1), false)
	require.NoError(t, err)
	kept, err := p.Submit(ctx, insert(t, "db", "orders", 2, 1), false)
	require.NoError(t, err)
	schema, err := p.Submit(ctx, ddl(t, "db", "CREATE TABLE audit_log (a INT)", 3), true)
	require.NoError(t, err)
	shutdown(t, p)

	_, err = skipped.Get()
	assert.ErrorIs(t, err, transform.ErrFiltered)
	_, err = kept.Get()
	assert.NoError(t, err)
	_, err = schema.Get()
	assert.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, gnos(t, p))
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := newPipeline(t, Config{})
	shutdown(t, p)
	_, err := p.Submit(context.Background(), ddl(t, "db", "CREATE TABLE a (x INT)", 1), true)
	assert.ErrorIs(t, err, ErrStopped)
	// Shutdown is idempotent.
	shutdown(t, p)
}

func TestShutdownDrainsUnstartedPipeline(t *testing.T) {
	p := newPipeline(t, Config{})
	f, err := p.Submit(context.Background(), ddl(t, "db", "CREATE TABLE a (x INT)", 1), true)
	require.NoError(t, err)
	shutdown(t, p)
	_, err = f.Get()
	assert.NoError(t, err)
}

func TestCommitHookFailureHaltsWriter(t *testing.T) {
	hookErr := errors.New("checkpoint log closed")
	calls := 0
	p := newPipeline(t, Config{OnCommit: func([]Commit) error {
		calls++
		return hookErr
	}})
	p.Start()

	ctx := context.Background()
	f, err := p.Submit(ctx, insert(t, "db", "t", 1, 1), false)
	require.NoError(t, err)

	err = p.WaitForCompletion(ctx)
	assert.ErrorIs(t, err, ErrCommitHook)

	_, err = f.Get()
	assert.ErrorIs(t, err, ErrCommitHook)
	assert.ErrorIs(t, err, hookErr)

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(stopCtx), ErrCommitHook)

	assert.Equal(t, 1, calls)
	assert.Equal(t, Progress{Pending: 1, Processed: 1, Written: 1, Failed: 1}, p.Progress())
}

func TestCapacityFailureHaltsWriter(t *testing.T) {
	dir := t.TempDir()
	// A directory in the way of the second file name.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "binlog.000002"), 0750))
	p := newPipeline(t, Config{Dir: dir, MaxFileSize: 4096, BatchSize: 4})
	p.Start()

	ctx := context.Background()
	var futures []*future.Future[mysql.Position]
	for i := int64(1); i <= 100; i++ {
		f, err := p.Submit(ctx, ddl(t, "db", fmt.Sprintf("CREATE TABLE t%d (a INT)", i), i), true)
		if err != nil {
			assert.ErrorIs(t, err, logfile.ErrCapacity)
			break
		}
		futures = append(futures, f)
	}

	err := p.WaitForCompletion(ctx)
	assert.ErrorIs(t, err, logfile.ErrCapacity)

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(stopCtx), logfile.ErrCapacity)

	failed := 0
	for _, f := range futures {
		if _, err := f.Get(); err != nil {
			assert.ErrorIs(t, err, logfile.ErrCapacity)
			failed++
		}
	}
	assert.Greater(t, failed, 0)
	progress := p.Progress()
	assert.Equal(t, progress.Pending, progress.Written)
	assert.Equal(t, uint64(failed), progress.Failed)
}
