package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/cfg"
	"github.com/maxpert/binlogd/filter"
	"github.com/maxpert/binlogd/notify"
	"github.com/maxpert/binlogd/pipeline"
)

// DefaultFormat is used when a sink leaves format empty
const DefaultFormat = "json"

// RegistryConfig configures the checkpoint publisher registry
type RegistryConfig struct {
	Dir         string                  // Pebble directory of the checkpoint log
	Retention   int                     // Checkpoints kept after every sink consumed them
	ServerID    uint32                  // Stamped on every checkpoint
	SID         [16]byte                // Gtid source id
	SinkConfigs []cfg.SinkConfiguration // From config
}

// Registry owns the checkpoint log and the lifecycle of all sink workers
type Registry struct {
	log      *CheckpointLog
	hub      *notify.Hub
	workers  []*Worker
	serverID uint32
	sid      [16]byte
	running  atomic.Bool
	mu       sync.Mutex
}

// NewRegistry opens the checkpoint log and creates one worker per sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}

	ckptLog, err := OpenCheckpointLog(config.Dir, config.Retention)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint log: %w", err)
	}

	registry := &Registry{
		log:      ckptLog,
		hub:      notify.NewHub(),
		workers:  make([]*Worker, 0, len(config.SinkConfigs)),
		serverID: config.ServerID,
		sid:      config.SID,
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			ckptLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Uint64("last_seq", ckptLog.LastSeq()).
		Msg("Checkpoint registry initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	format := config.Format
	if format == "" {
		format = DefaultFormat
	}
	trans, err := createTransformer(format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	f, err := filter.NewGlobFilter(config.FilterTables, config.FilterDatabases, nil)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          f,
		Topic:           config.Topic,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		Notify:          r.hub,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", format).
		Str("topic", config.Topic).
		Msg("Added checkpoint sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting checkpoint registry")
	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop stops all workers, closes their sinks and the checkpoint log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.log.closed.Load() {
		return
	}
	r.running.Store(false)

	for _, worker := range r.workers {
		worker.Stop()
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.Name()).Msg("Failed to close sink")
		}
	}
	r.hub.Close()

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close checkpoint log")
	}

	log.Info().Msg("Checkpoint registry stopped")
}

// AppendCommits records written transactions. It is installed as the
// pipeline's commit hook, so it runs on the writer goroutine after the
// log file was flushed. A failed append is returned so the pipeline halts
// before the checkpoint log falls behind the binlog.
func (r *Registry) AppendCommits(commits []pipeline.Commit) error {
	cps := FromCommits(r.serverID, r.sid, commits)
	if len(cps) == 0 {
		return nil
	}
	if err := r.log.Append(cps); err != nil {
		log.Error().
			Err(err).
			Int("count", len(cps)).
			Uint64("batch", cps[0].Batch).
			Msg("Failed to append checkpoints")
		return fmt.Errorf("append checkpoints: %w", err)
	}

	// One wakeup per table is enough
	type table struct{ db, name string }
	signalled := make(map[table]bool, 1)
	for i := len(cps) - 1; i >= 0; i-- {
		key := table{cps[i].Database, cps[i].Table}
		if !signalled[key] {
			signalled[key] = true
			r.hub.Signal(key.db, key.name, cps[i].Seq)
		}
	}
	return nil
}

// Last returns the newest checkpoint.
func (r *Registry) Last() (Checkpoint, bool, error) {
	return r.log.Last()
}

// ReadFrom reads checkpoints after cursor, up to limit entries.
func (r *Registry) ReadFrom(cursor uint64, limit int) ([]Checkpoint, error) {
	return r.log.ReadFrom(cursor, limit)
}

// Log returns the underlying checkpoint log.
func (r *Registry) Log() *CheckpointLog {
	return r.log
}

// Cursors returns the cursor of every sink keyed by name.
func (r *Registry) Cursors() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]uint64, len(r.workers))
	for _, w := range r.workers {
		out[w.Name()] = w.Cursor()
	}
	return out
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createTransformer creates a transformer based on the format
func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	return factory(), nil
}
