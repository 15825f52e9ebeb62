// Package pipeline turns submitted record payloads into binlog files. Tasks
// are grouped into sequenced batches, transformed by a worker pool in any
// order and written by a single writer in submission order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/jizhuozhi/go-future"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/event"
	"github.com/maxpert/binlogd/logfile"
	"github.com/maxpert/binlogd/record"
	"github.com/maxpert/binlogd/telemetry"
	"github.com/maxpert/binlogd/transform"
	"github.com/maxpert/binlogd/wire"
)

const (
	DefaultQueueCapacity = 10000
	DefaultBatchSize     = 2000
	DefaultPollInterval  = 5 * time.Millisecond
)

// ErrStopped is returned by Submit once Shutdown has begun.
var ErrStopped = errors.New("pipeline: stopped")

// ErrCommitHook wraps a failure reported by Config.OnCommit.
var ErrCommitHook = errors.New("pipeline: commit hook failed")

// Config configures a Pipeline.
type Config struct {
	// Log files
	Dir           string
	Prefix        string
	MaxFileSize   uint64
	RotateReserve uint64
	Sync          logfile.SyncMode
	OnSeal        func(path string)

	QueueCapacity int
	BatchSize     int
	Workers       int // 0 = GOMAXPROCS
	PollInterval  time.Duration
	// BatchLinger is how long the collector waits for a batch to fill once
	// it holds a task. Zero takes whatever is queued.
	BatchLinger time.Duration
	// ResultCapacity bounds out-of-order results held for the writer.
	ResultCapacity int

	Transform transform.Options

	// OnCommit is called by the writer after each batch is durable, with one
	// entry per written transaction in log order. An error halts the pipeline
	// and fails the batch's promises.
	OnCommit func([]Commit) error
}

// Task is one submitted record. Payload must not be modified after Submit.
type Task struct {
	Payload []byte
	IsDDL   bool

	id      uint64
	promise *future.Promise[mysql.Position]
}

// ID returns the submission number of the task, starting at 1.
func (t *Task) ID() uint64 {
	return t.id
}

// Batch is a group of tasks with the sequence the writer orders by.
type Batch struct {
	Sequence uint64
	Tasks    []*Task
}

// TaskResult is the outcome of transforming one task.
type TaskResult struct {
	Task   *Task
	Record *record.Record
	// Buffers holds one serialized event per entry with log_pos unset.
	Buffers [][]byte
	Err     error
}

// BatchResult is a transformed batch. Err is set when a result cannot be
// trusted at all, which halts the pipeline.
type BatchResult struct {
	Sequence uint64
	Results  []TaskResult
	Err      error
}

// Commit describes a written transaction.
type Commit struct {
	Batch    uint64
	TaskID   uint64
	Record   *record.Record
	Position mysql.Position
}

// Progress counts tasks. Pending counts every submitted task, Processed the
// ones transformed and Written the ones resolved by the writer, including
// those Skipped or Failed. Written <= Processed <= Pending always holds.
type Progress struct {
	Pending   uint64 `json:"pending"`
	Processed uint64 `json:"processed"`
	Written   uint64 `json:"written"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

// Pipeline is the producer, worker pool and writer chain.
type Pipeline struct {
	cfg     Config
	files   *logfile.FileSet
	manager *transform.Manager

	tasks    chan *Task
	batches  chan *Batch
	results  *ResultQueue
	inflight *xsync.MapOf[uint64, *Task]

	intake    sync.RWMutex
	stopping  atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	nextID    atomic.Uint64

	submitted atomic.Uint64
	processed atomic.Uint64
	written   atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64

	errMu sync.Mutex
	err   error

	workers    sync.WaitGroup
	writerDone chan struct{}
}

// New opens the log file set and builds the pipeline. Nothing runs until Start.
func New(cfg Config) (*Pipeline, error) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResultCapacity <= 0 {
		cfg.ResultCapacity = 2 * cfg.Workers
	}

	manager, err := transform.NewManager(cfg.Transform)
	if err != nil {
		return nil, err
	}
	files, err := logfile.Open(logfile.Options{
		Dir:           cfg.Dir,
		Prefix:        cfg.Prefix,
		MaxSize:       cfg.MaxFileSize,
		RotateReserve: cfg.RotateReserve,
		Sync:          cfg.Sync,
		Codec:         manager.Codec(),
		OnSeal:        cfg.OnSeal,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		files:      files,
		manager:    manager,
		tasks:      make(chan *Task, cfg.QueueCapacity),
		batches:    make(chan *Batch, cfg.Workers),
		results:    NewResultQueue(cfg.ResultCapacity),
		inflight:   xsync.NewMapOf[uint64, *Task](),
		writerDone: make(chan struct{}),
	}, nil
}

// Start launches the collector, the workers and the writer. Later calls do nothing.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		go p.collect()
		p.workers.Add(p.cfg.Workers)
		for i := 0; i < p.cfg.Workers; i++ {
			go p.work()
		}
		go func() {
			p.workers.Wait()
			p.results.Close()
		}()
		go p.write()

		pos := p.files.Position()
		log.Info().
			Int("workers", p.cfg.Workers).
			Int("batch_size", p.cfg.BatchSize).
			Str("file", pos.Name).
			Uint32("position", pos.Pos).
			Msg("Pipeline started")
	})
}

// Submit queues a record and returns a future resolved with the position
// after its transaction once it is written. It blocks while the queue is full.
// Skipped records resolve with their decode or filter error.
func (p *Pipeline) Submit(ctx context.Context, payload []byte, isDDL bool) (*future.Future[mysql.Position], error) {
	p.intake.RLock()
	defer p.intake.RUnlock()

	if p.stopping.Load() {
		return nil, ErrStopped
	}
	if err := p.Err(); err != nil {
		return nil, err
	}

	t := &Task{
		Payload: payload,
		IsDDL:   isDDL,
		id:      p.nextID.Add(1),
		promise: future.NewPromise[mysql.Position](),
	}
	p.inflight.Store(t.id, t)
	p.submitted.Add(1)

	select {
	case p.tasks <- t:
		telemetry.TasksTotal.With("submitted").Inc()
		return t.promise.Future(), nil
	case <-ctx.Done():
		p.inflight.Delete(t.id)
		p.submitted.Add(^uint64(0))
		return nil, ctx.Err()
	}
}

// collect groups queued tasks into batches with increasing sequence numbers.
func (p *Pipeline) collect() {
	defer close(p.batches)

	var seq uint64
	for t := range p.tasks {
		tasks, closed := p.fill(t)
		seq++
		telemetry.BatchesTotal.Inc()
		telemetry.BatchSize.Observe(float64(len(tasks)))
		p.batches <- &Batch{Sequence: seq, Tasks: tasks}
		if closed {
			return
		}
	}
}

// fill builds a batch starting with first. It reports whether the task
// channel was closed while filling.
func (p *Pipeline) fill(first *Task) ([]*Task, bool) {
	tasks := make([]*Task, 1, min(p.cfg.BatchSize, 256))
	tasks[0] = first

	var linger <-chan time.Time
	if p.cfg.BatchLinger > 0 {
		timer := time.NewTimer(p.cfg.BatchLinger)
		defer timer.Stop()
		linger = timer.C
	}

	for len(tasks) < p.cfg.BatchSize {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return tasks, true
			}
			tasks = append(tasks, t)
			continue
		default:
		}
		if linger == nil {
			return tasks, false
		}
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return tasks, true
			}
			tasks = append(tasks, t)
		case <-linger:
			return tasks, false
		}
	}
	return tasks, false
}

func (p *Pipeline) work() {
	defer p.workers.Done()
	for b := range p.batches {
		p.results.Put(p.transformBatch(b))
	}
}

func (p *Pipeline) transformBatch(b *Batch) *BatchResult {
	res := &BatchResult{Sequence: b.Sequence, Results: make([]TaskResult, len(b.Tasks))}
	for i, t := range b.Tasks {
		start := time.Now()
		tx, err := p.manager.Transform(t.Payload, t.IsDDL)
		telemetry.TransformDurationSeconds.Observe(time.Since(start).Seconds())

		r := TaskResult{Task: t, Err: err}
		if tx != nil {
			r.Record = tx.Record
			r.Buffers = tx.Buffers
		}
		if err != nil && isFatal(err) && res.Err == nil {
			res.Err = fmt.Errorf("task %d: %w", t.id, err)
		}
		res.Results[i] = r
		p.processed.Add(1)
		telemetry.TasksTotal.With("processed").Inc()
	}
	return res
}

// isFatal reports whether err means the encoder itself is broken rather
// than the record.
func isFatal(err error) bool {
	return errors.Is(err, event.ErrEncodeBounds) ||
		errors.Is(err, event.ErrUnknownType) ||
		errors.Is(err, wire.ErrOutOfBounds)
}

// write is the single writer. It takes results in sequence order until the
// workers are done.
func (p *Pipeline) write() {
	defer close(p.writerDone)
	for {
		res, ok := p.results.Next(p.cfg.PollInterval)
		if !ok {
			return
		}
		p.writeBatch(res)
	}
}

type written struct {
	task *Task
	pos  mysql.Position
	rec  *record.Record
}

func (p *Pipeline) writeBatch(res *BatchResult) {
	start := time.Now()
	if res.Err != nil {
		p.fail(fmt.Errorf("batch %d: %w", res.Sequence, res.Err))
	}

	done := make([]written, 0, len(res.Results))
	for _, r := range res.Results {
		if err := p.Err(); err != nil {
			p.resolve(r.Task, mysql.Position{}, err, "failed")
			continue
		}
		if r.Err != nil {
			p.skip(res.Sequence, r)
			continue
		}
		pos, err := p.files.WriteTransaction(r.Buffers)
		if err != nil {
			p.fail(err)
			p.resolve(r.Task, mysql.Position{}, err, "failed")
			continue
		}
		done = append(done, written{task: r.Task, pos: pos, rec: r.Record})
	}
	if len(done) == 0 {
		return
	}

	if p.Err() == nil {
		if err := p.files.Flush(); err != nil {
			p.fail(err)
		}
	}
	if err := p.Err(); err != nil {
		for _, w := range done {
			p.resolve(w.task, mysql.Position{}, err, "failed")
		}
		return
	}
	telemetry.WriteDurationSeconds.Observe(time.Since(start).Seconds())

	commits := make([]Commit, len(done))
	for i, w := range done {
		commits[i] = Commit{Batch: res.Sequence, TaskID: w.task.id, Record: w.rec, Position: w.pos}
	}
	if p.cfg.OnCommit != nil {
		if err := p.cfg.OnCommit(commits); err != nil {
			err = fmt.Errorf("%w: batch %d: %w", ErrCommitHook, res.Sequence, err)
			p.fail(err)
			for _, w := range done {
				p.resolve(w.task, mysql.Position{}, err, "failed")
			}
			return
		}
	}
	for _, w := range done {
		p.resolve(w.task, w.pos, nil, "written")
	}
}

func (p *Pipeline) skip(batch uint64, r TaskResult) {
	if errors.Is(r.Err, transform.ErrFiltered) {
		log.Debug().
			Uint64("task", r.Task.id).
			Str("db", r.Record.DBName).
			Str("table", r.Record.Table).
			Msg("Skipping filtered record")
	} else {
		log.Warn().
			Err(r.Err).
			Uint64("task", r.Task.id).
			Uint64("batch", batch).
			Bool("ddl", r.Task.IsDDL).
			Msg("Skipping record that could not be transformed")
	}
	p.skipped.Add(1)
	p.resolve(r.Task, mysql.Position{}, r.Err, "skipped")
}

func (p *Pipeline) resolve(t *Task, pos mysql.Position, err error, outcome string) {
	if outcome == "failed" {
		p.failed.Add(1)
	}
	p.inflight.Delete(t.id)
	t.promise.Set(pos, err)
	p.written.Add(1)
	telemetry.TasksTotal.With(outcome).Inc()
}

// fail records the first fatal error. The writer keeps draining so that
// every promise is resolved.
func (p *Pipeline) fail(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err != nil {
		return
	}
	p.err = err
	log.Error().Err(err).Msg("Pipeline halted")
}

// Err returns the fatal error that halted the writer, if any.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// WaitForCompletion blocks until every submitted task is resolved, the
// pipeline fails or ctx is done.
func (p *Pipeline) WaitForCompletion(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := p.Err(); err != nil {
			return err
		}
		if p.written.Load() >= p.submitted.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops intake and drains: every queued task is batched,
// transformed and written before the files are closed. A pipeline that was
// never started is started first.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		p.Start()
		p.intake.Lock()
		close(p.tasks)
		p.intake.Unlock()
	})

	select {
	case <-p.writerDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.files.Close(); err != nil {
		p.fail(err)
	}
	progress := p.Progress()
	log.Info().
		Uint64("written", progress.Written).
		Uint64("skipped", progress.Skipped).
		Uint64("failed", progress.Failed).
		Msg("Pipeline stopped")
	return p.Err()
}

// Progress returns a snapshot of the task counters.
func (p *Pipeline) Progress() Progress {
	// Loaded in reverse pipeline order so the snapshot keeps Written <= Processed <= Pending.
	w := p.written.Load()
	proc := p.processed.Load()
	return Progress{
		Written:   w,
		Processed: proc,
		Pending:   p.submitted.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
	}
}

// InFlight returns the number of submitted tasks not yet resolved.
func (p *Pipeline) InFlight() int {
	return p.inflight.Size()
}

// QueueStats implements telemetry.StatsProvider.
func (p *Pipeline) QueueStats() (pending, queuedTasks, queuedResults int) {
	return p.inflight.Size(), len(p.tasks), p.results.Len()
}

// Files returns the log file set the writer appends to.
func (p *Pipeline) Files() *logfile.FileSet {
	return p.files
}
