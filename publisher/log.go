package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/encoding"
	"github.com/maxpert/binlogd/telemetry"
)

// Key prefixes for Pebble storage
const (
	prefixCkpt       = "/ckpt/"       // /ckpt/{16-digit-hex-seq}
	prefixCkptCursor = "/ckptcursor/" // /ckptcursor/{sinkName}
	prefixCkptSeq    = "/ckptseq"     // /ckptseq -> uint64 (last sequence)
)

// Pebble configuration constants
const (
	memTableSize                = 16 << 20 // 16MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 64 << 20 // 64MB
	maxConcurrentCompactions    = 2
)

// Read and cleanup constants
const (
	defaultReadLimit    = 100  // Default limit for ReadFrom
	cleanupIntervalMask = 0x7F // Cleanup every 128 sequences
)

// ErrLogClosed is returned by operations on a closed CheckpointLog
var ErrLogClosed = errors.New("checkpoint log is closed")

// CheckpointLog is a Pebble-backed append-only log of checkpoints with
// per-sink consumption cursors.
type CheckpointLog struct {
	db   *pebble.DB
	path string

	// retention is how many checkpoints are kept regardless of cursors
	retention uint64

	// In-memory cursor map for fast lookups
	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	// Last assigned sequence number; appends are serialized
	lastSeq  atomic.Uint64
	appendMu sync.Mutex

	// Cleanup tracking
	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenCheckpointLog creates or opens the log in dir. retention is the number
// of newest checkpoints never removed by cleanup.
func OpenCheckpointLog(dir string, retention int) (*CheckpointLog, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint log at %s: %w", dir, err)
	}
	// The newest checkpoint always stays readable.
	if retention < 1 {
		retention = 1
	}

	cl := &CheckpointLog{
		db:        db,
		path:      filepath.Clean(dir),
		retention: uint64(retention),
		cursors:   make(map[string]uint64),
	}

	if err := cl.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := cl.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return cl, nil
}

func (cl *CheckpointLog) loadLastSeq() error {
	val, closer, err := cl.db.Get([]byte(prefixCkptSeq))
	if errors.Is(err, pebble.ErrNotFound) {
		cl.lastSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	cl.lastSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (cl *CheckpointLog) loadCursors() error {
	prefix := []byte(prefixCkptCursor)
	iter, err := cl.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefixCkptCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor data for sink %s: invalid length %d", name, len(val))
		}
		cl.cursors[name] = binary.LittleEndian.Uint64(val)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(cl.cursors) > 0 {
		log.Info().Int("cursors", len(cl.cursors)).Msg("Loaded checkpoint log cursors")
	}
	return nil
}

// Append stores checkpoints and assigns their sequence numbers in place.
func (cl *CheckpointLog) Append(cps []Checkpoint) error {
	if len(cps) == 0 {
		return nil
	}
	if cl.closed.Load() {
		return ErrLogClosed
	}

	cl.appendMu.Lock()
	defer cl.appendMu.Unlock()

	seq := cl.lastSeq.Load()
	batch := cl.db.NewBatch()
	defer batch.Close()

	for i := range cps {
		seq++
		cps[i].Seq = seq
		val, err := encoding.Marshal(&cps[i])
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		if err := batch.Set([]byte(formatCkptKey(seq)), val, nil); err != nil {
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(prefixCkptSeq), seqBuf, nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	prev := cl.lastSeq.Swap(seq)
	telemetry.CheckpointsTotal.Add(float64(len(cps)))

	// Crossing a multiple of 128 triggers cleanup.
	if prev>>7 != seq>>7 {
		cl.triggerCleanup()
	}
	return nil
}

// LastSeq returns the newest assigned sequence number, 0 when empty.
func (cl *CheckpointLog) LastSeq() uint64 {
	return cl.lastSeq.Load()
}

// Last returns the newest checkpoint. ok is false when the log is empty.
func (cl *CheckpointLog) Last() (cp Checkpoint, ok bool, err error) {
	if cl.closed.Load() {
		return cp, false, ErrLogClosed
	}
	seq := cl.lastSeq.Load()
	if seq == 0 {
		return cp, false, nil
	}

	val, closer, err := cl.db.Get([]byte(formatCkptKey(seq)))
	if errors.Is(err, pebble.ErrNotFound) {
		return cp, false, nil
	}
	if err != nil {
		return cp, false, err
	}
	defer closer.Close()

	if err := encoding.Unmarshal(val, &cp); err != nil {
		return cp, false, fmt.Errorf("failed to decode checkpoint %d: %w", seq, err)
	}
	return cp, true, nil
}

// ReadFrom reads checkpoints after cursor, up to limit entries
func (cl *CheckpointLog) ReadFrom(cursor uint64, limit int) ([]Checkpoint, error) {
	if cl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	// cursor is the last processed checkpoint
	startKey := []byte(formatCkptKey(cursor + 1))
	iter, err := cl.db.NewIter(&pebble.IterOptions{
		LowerBound: startKey,
		UpperBound: prefixUpperBound([]byte(prefixCkpt)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]Checkpoint, 0, min(limit, defaultReadLimit))
	for iter.SeekGE(startKey); iter.Valid() && len(out) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var cp Checkpoint
		if err := encoding.Unmarshal(val, &cp); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to decode checkpoint")
			continue
		}
		out = append(out, cp)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCursor returns the current cursor for a sink, 0 for a new sink
func (cl *CheckpointLog) GetCursor(sinkName string) (uint64, error) {
	if cl.closed.Load() {
		return 0, ErrLogClosed
	}
	cl.cursorsMu.RLock()
	defer cl.cursorsMu.RUnlock()
	return cl.cursors[sinkName], nil
}

// RegisterCursor makes sinkName hold back cleanup from its current cursor on.
func (cl *CheckpointLog) RegisterCursor(sinkName string, cursor uint64) {
	cl.cursorsMu.Lock()
	defer cl.cursorsMu.Unlock()
	if _, ok := cl.cursors[sinkName]; !ok {
		cl.cursors[sinkName] = cursor
	}
}

// AdvanceCursor updates and persists the cursor for a sink
func (cl *CheckpointLog) AdvanceCursor(sinkName string, seq uint64) error {
	if cl.closed.Load() {
		return ErrLogClosed
	}

	cl.cursorsMu.Lock()
	cl.cursors[sinkName] = seq
	cl.cursorsMu.Unlock()

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, seq)
	if err := cl.db.Set([]byte(prefixCkptCursor+sinkName), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	if seq&cleanupIntervalMask == 0 {
		cl.triggerCleanup()
	}
	return nil
}

func (cl *CheckpointLog) triggerCleanup() {
	// Only spawn cleanup if one isn't already running
	if cl.cleanupRunning.CompareAndSwap(false, true) {
		cl.cleanupWg.Add(1)
		go cl.cleanupAsync()
	}
}

// cleanupBound returns the first sequence that must be kept: nothing a sink
// has not consumed, and never fewer than the retention count.
func (cl *CheckpointLog) cleanupBound() uint64 {
	last := cl.lastSeq.Load()
	if last <= cl.retention {
		return 0
	}
	bound := last - cl.retention + 1

	cl.cursorsMu.RLock()
	defer cl.cursorsMu.RUnlock()
	for _, cursor := range cl.cursors {
		if cursor+1 < bound {
			bound = cursor + 1
		}
	}
	return bound
}

// cleanup deletes entries below the cleanup bound. Safe to call directly.
func (cl *CheckpointLog) cleanup() {
	cl.cleanupMu.Lock()
	defer cl.cleanupMu.Unlock()

	if cl.closed.Load() {
		return
	}
	bound := cl.cleanupBound()
	if bound <= 1 {
		return
	}

	startKey := []byte(prefixCkpt)
	endKey := []byte(formatCkptKey(bound))
	if err := cl.db.DeleteRange(startKey, endKey, pebble.NoSync); err != nil {
		log.Warn().Err(err).Uint64("bound", bound).Msg("Failed to clean up checkpoint log")
		return
	}
	log.Debug().Uint64("bound", bound).Msg("Cleaned up checkpoint log entries")
}

func (cl *CheckpointLog) cleanupAsync() {
	defer cl.cleanupWg.Done()
	defer cl.cleanupRunning.Store(false)
	cl.cleanup()
}

// Close closes the Pebble database and waits for in-flight cleanup goroutines
func (cl *CheckpointLog) Close() error {
	if !cl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	cl.cleanupWg.Wait()
	return cl.db.Close()
}

// formatCkptKey formats a sequence number as a 16-digit zero-padded hex key
func formatCkptKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixCkpt, seq)
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
