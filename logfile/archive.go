package logfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/telemetry"
)

const archiveQueueSize = 64

// Archiver compresses sealed log files into a separate directory in the
// background. Originals are left in place.
type Archiver struct {
	dir   string
	level zstd.EncoderLevel
	queue chan string

	encoderPool sync.Pool
	mu          sync.Mutex
	closed      bool
	doneCh      chan struct{}
}

// NewArchiver starts an archiver writing <dir>/<name>.zst files.
// level runs from 1 (fastest) to 4 (best compression).
func NewArchiver(dir string, level int) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: create archive dir: %v", ErrIO, err)
	}
	a := &Archiver{
		dir:    dir,
		level:  levelToZstd(level),
		queue:  make(chan string, archiveQueueSize),
		doneCh: make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// levelToZstd maps config levels (1-4) to zstd.EncoderLevel
func levelToZstd(level int) zstd.EncoderLevel {
	switch level {
	case 2:
		return zstd.SpeedDefault
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedFastest
	}
}

// Enqueue schedules path for compression. It matches the FileSet OnSeal hook
// and never blocks: files sealed after Close, or while the queue is full,
// are not archived.
func (a *Archiver) Enqueue(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		log.Warn().Str("file", path).Msg("Archiver closed, not archiving")
		return
	}
	select {
	case a.queue <- path:
	default:
		telemetry.ArchivedFilesTotal.With("dropped").Inc()
		log.Warn().Str("file", path).Int("queued", len(a.queue)).Msg("Archive queue full, not archiving")
	}
}

// Close compresses whatever is queued and stops the background goroutine.
func (a *Archiver) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.doneCh
}

func (a *Archiver) run() {
	defer close(a.doneCh)
	for path := range a.queue {
		out, err := a.Compress(path)
		if err != nil {
			telemetry.ArchivedFilesTotal.With("failed").Inc()
			log.Error().Err(err).Str("file", path).Msg("Failed to archive log file")
			continue
		}
		telemetry.ArchivedFilesTotal.With("success").Inc()
		log.Info().Str("file", path).Str("archive", out).Msg("Archived log file")
	}
}

// Compress writes a zstd copy of path into the archive directory and returns its path.
func (a *Archiver) Compress(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	out := filepath.Join(a.dir, filepath.Base(path)+".zst")
	tmp := out + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}

	enc, err := a.encoder(f)
	if err != nil {
		f.Close()
		return "", err
	}
	_, copyErr := io.Copy(enc, in)
	closeErr := enc.Close()
	a.encoderPool.Put(enc)
	if copyErr != nil || closeErr != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("compress %s: %v %v", path, copyErr, closeErr)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return out, nil
}

func (a *Archiver) encoder(w io.Writer) (*zstd.Encoder, error) {
	if enc, ok := a.encoderPool.Get().(*zstd.Encoder); ok {
		enc.Reset(w)
		return enc, nil
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(a.level))
}
