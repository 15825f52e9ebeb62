package publisher

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/notify"
	"github.com/maxpert/binlogd/telemetry"
)

const (
	// Default batch size for reading checkpoints per poll cycle
	DefaultBatchSize = 100
	// Default interval between poll cycles
	DefaultPollInterval = 100 * time.Millisecond
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on a publish operation
	DefaultMaxRetries = 100
)

// WorkerConfig configures a checkpoint publisher worker
type WorkerConfig struct {
	Name            string         // Sink name (for cursor tracking)
	Log             *CheckpointLog // Checkpoint log to read from
	Sink            Sink           // Destination sink
	Transformer     Transformer    // Payload encoder
	Filter          Filter         // Checkpoint filter
	Topic           string         // Kafka topic or JetStream subject
	BatchSize       int            // Checkpoints per poll cycle
	PollInterval    time.Duration  // Poll interval
	RetryInitial    time.Duration  // Initial retry delay
	RetryMax        time.Duration  // Max retry delay
	RetryMultiplier float64        // Backoff multiplier
	MaxRetries      int            // Maximum retry attempts
	Notify          *notify.Hub    // Optional; wakes the worker on new checkpoints
}

// Worker polls the CheckpointLog and publishes checkpoints to a sink
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64 // Last published or skipped sequence
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations

	wake        <-chan notify.Signal
	unsubscribe func()
}

// NewWorker creates a new checkpoint publisher worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("checkpoint log is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.GetCursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	// A new sink starts at the earliest checkpoint still in the log
	if cursor == 0 {
		cursor, err = findEarliestEntry(config.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to find earliest entry: %w", err)
		}
	}
	config.Log.RegisterCursor(config.Name, cursor)

	w := &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	w.cursor.Store(cursor)
	return w, nil
}

// findEarliestEntry returns the cursor just before the oldest stored checkpoint
func findEarliestEntry(cl *CheckpointLog) (uint64, error) {
	cps, err := cl.ReadFrom(0, 1)
	if err != nil {
		return 0, err
	}
	if len(cps) == 0 {
		return cl.LastSeq(), nil
	}
	return cps[0].Seq - 1, nil
}

// Name returns the sink name.
func (w *Worker) Name() string {
	return w.config.Name
}

// Cursor returns the last published or skipped sequence.
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	if w.config.Notify != nil {
		w.wake, w.unsubscribe = w.config.Notify.Subscribe(w.config.Filter)
	}

	log.Info().
		Str("worker", w.config.Name).
		Uint64("cursor", w.cursor.Load()).
		Msg("Starting checkpoint publisher worker")

	go w.pollLoop()
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.wake, w.unsubscribe = nil, nil
	}
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Checkpoint publisher worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		cps, err := w.config.Log.ReadFrom(w.cursor.Load(), w.config.BatchSize)
		if err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Uint64("cursor", w.cursor.Load()).
				Msg("Failed to read from checkpoint log")
			w.sleep(w.config.PollInterval)
			continue
		}
		telemetry.SinkLag.With(w.config.Name).Set(float64(w.config.Log.LastSeq() - w.cursor.Load()))

		if len(cps) == 0 {
			w.idle()
			continue
		}

		for _, cp := range cps {
			if err := w.processCheckpoint(cp); err != nil {
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Uint64("seq", cp.Seq).
					Msg("Failed to publish checkpoint")
				// Re-read from the cursor on the next cycle
				w.sleep(w.config.PollInterval)
				break
			}
			w.cursor.Store(cp.Seq)
		}
	}
}

// processCheckpoint publishes one checkpoint, then advances the cursor.
// Delivery is at-least-once: a crash between publish and cursor advance
// republishes on restart.
func (w *Worker) processCheckpoint(cp Checkpoint) error {
	if !w.config.Filter.Match(cp.Database, cp.Table) {
		if err := w.config.Log.AdvanceCursor(w.config.Name, cp.Seq); err != nil {
			log.Warn().
				Err(err).
				Str("worker", w.config.Name).
				Uint64("seq", cp.Seq).
				Msg("Failed to advance cursor for filtered checkpoint")
		}
		return nil
	}

	data, err := w.config.Transformer.Transform(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	// One key per server keeps checkpoints of a server in order on one partition.
	key := strconv.FormatUint(uint64(cp.ServerID), 10)
	if err := w.publishWithRetry(w.config.Topic, key, data); err != nil {
		telemetry.SinkPublishedTotal.With(w.config.Name, "failed").Inc()
		return err
	}
	telemetry.SinkPublishedTotal.With(w.config.Name, "success").Inc()

	if err := w.config.Log.AdvanceCursor(w.config.Name, cp.Seq); err != nil {
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", cp.Seq).
			Msg("Failed to advance cursor after successful publish - checkpoint may be republished")
	}
	return nil
}

// publishWithRetry publishes data with exponential backoff retry
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish checkpoint, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// idle waits for a new checkpoint signal or the poll interval
func (w *Worker) idle() {
	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()

	select {
	case <-w.stopCh:
	case _, ok := <-w.wake:
		if !ok {
			w.wake = nil
		}
	case <-timer.C:
	}
}

// sleep sleeps for the given duration, checking stopCh.
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
