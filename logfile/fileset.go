// Package logfile owns the numbered binlog files on disk: naming, the index
// file, rotation and the write position of the current file.
//
// A FileSet is written by a single goroutine. The mutex only guards the file
// handle against Flush and Close calls from shutdown paths.
package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/event"
	"github.com/maxpert/binlogd/telemetry"
)

const (
	maxFileNumber  = 999999
	writeBufSize   = 64 * 1024
	minMaxFileSize = 4096
	// rotatePosition is the offset a RotateEvent points at: just past the magic.
	rotatePosition = 4
)

var (
	// ErrIO wraps any open, write, seek or sync failure on a log file.
	ErrIO = errors.New("logfile: I/O failure")
	// ErrCapacity means the next log file could not be created.
	ErrCapacity = errors.New("logfile: cannot create next log file")
	ErrClosed   = errors.New("logfile: file set is closed")
)

// SyncMode controls when written data is fsynced.
type SyncMode string

const (
	// SyncNone leaves durability to the OS; buffers are flushed on rotate and close.
	SyncNone SyncMode = "none"
	// SyncBatch fsyncs on every Flush call.
	SyncBatch SyncMode = "batch"
	// SyncAlways fsyncs after every transaction.
	SyncAlways SyncMode = "always"
)

func ParseSyncMode(s string) (SyncMode, error) {
	switch SyncMode(s) {
	case "", SyncBatch:
		return SyncBatch, nil
	case SyncNone, SyncAlways:
		return SyncMode(s), nil
	}
	return SyncBatch, fmt.Errorf("unknown sync mode %q", s)
}

// Options configures a FileSet.
type Options struct {
	Dir     string
	Prefix  string
	MaxSize uint64
	// RotateReserve is kept free below MaxSize on top of the Rotate event.
	RotateReserve uint64
	Sync          SyncMode
	Codec         *event.Codec
	// OnSeal is called with the path of every file rotated away from.
	OnSeal func(path string)
}

// FileInfo describes one file of the set.
type FileInfo struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Size   uint64 `json:"size"`
}

// FileSet is the ordered set of log files in a directory.
type FileSet struct {
	mu       sync.Mutex
	opts     Options
	codec    *event.Codec
	files    []FileInfo
	file     *os.File
	writer   *bufio.Writer
	position uint64
	// start is the position right after the magic and FormatDescription.
	start  uint64
	closed bool
}

// Open scans dir, recovers the newest file and positions the set for appending.
// An empty directory gets file number 1.
func Open(opts Options) (*FileSet, error) {
	if opts.Prefix == "" {
		return nil, fmt.Errorf("log file prefix is empty")
	}
	if opts.MaxSize < minMaxFileSize || opts.MaxSize > math.MaxUint32 {
		return nil, fmt.Errorf("max file size %d outside [%d, %d]", opts.MaxSize, minMaxFileSize, uint64(math.MaxUint32))
	}
	if opts.Codec == nil {
		opts.Codec = &event.Codec{}
	}
	if opts.Sync == "" {
		opts.Sync = SyncBatch
	}
	if err := os.MkdirAll(opts.Dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: create log dir: %v", ErrIO, err)
	}

	s := &FileSet{opts: opts, codec: opts.Codec}
	files, err := scanDir(opts.Dir, opts.Prefix)
	if err != nil {
		return nil, err
	}
	s.files = files

	if len(files) == 0 {
		if err := s.create(1); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.resume(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSet) name(n int) string {
	return fmt.Sprintf("%s.%06d", s.opts.Prefix, n)
}

func (s *FileSet) path(name string) string {
	return filepath.Join(s.opts.Dir, name)
}

func (s *FileSet) current() *FileInfo {
	return &s.files[len(s.files)-1]
}

// resume reopens the newest file for appending after recovering its tail.
func (s *FileSet) resume() error {
	cur := s.current()
	p := s.path(cur.Name)
	st, err := recoverFile(p)
	if err != nil {
		return err
	}

	switch {
	case !st.valid:
		log.Warn().Str("file", cur.Name).Msg("Log file has no valid header, rewriting it")
		s.files = s.files[:len(s.files)-1]
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("%w: remove %s: %v", ErrIO, cur.Name, err)
		}
		return s.create(cur.Number)
	case st.rotated:
		// Crashed between sealing this file and creating the next one.
		cur.Size = st.end
		return s.create(cur.Number + 1)
	}

	if st.size != st.end {
		log.Warn().
			Str("file", cur.Name).
			Uint64("size", st.size).
			Uint64("recovered", st.end).
			Msg("Truncating partial transaction at end of log file")
	}
	f, err := os.OpenFile(p, os.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrIO, cur.Name, err)
	}
	if err := f.Truncate(int64(st.end)); err != nil {
		f.Close()
		return fmt.Errorf("%w: truncate %s: %v", ErrIO, cur.Name, err)
	}
	if _, err := f.Seek(int64(st.end), 0); err != nil {
		f.Close()
		return fmt.Errorf("%w: seek %s: %v", ErrIO, cur.Name, err)
	}
	s.file = f
	s.writer = bufio.NewWriterSize(f, writeBufSize)
	s.position = st.end
	s.start = st.start
	cur.Size = st.end

	if st.checksum != s.codec.Checksum {
		// Never mix checksum algorithms within one file.
		log.Info().Str("file", cur.Name).Msg("Checksum setting changed, rotating")
		return s.rotateWith(&event.Codec{
			ServerID:      s.codec.ServerID,
			ServerVersion: s.codec.ServerVersion,
			Checksum:      st.checksum,
		})
	}
	if err := writeIndex(s.opts.Dir, s.opts.Prefix, s.files); err != nil {
		return err
	}
	log.Info().Str("file", cur.Name).Uint64("position", s.position).Msg("Resumed binlog file")
	return nil
}

// create starts file n with the magic number and a FormatDescription event.
func (s *FileSet) create(n int) error {
	if n > maxFileNumber {
		return fmt.Errorf("%w: file number %d exceeds %d", ErrCapacity, n, maxFileNumber)
	}
	name := s.name(n)
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCapacity, name, err)
	}
	s.file = f
	s.writer = bufio.NewWriterSize(f, writeBufSize)
	s.position = 0
	s.files = append(s.files, FileInfo{Number: n, Name: name})

	fde, err := s.codec.Encode(&event.FormatDescriptionEvent{
		Header:          event.Header{Timestamp: uint32(time.Now().Unix())},
		ServerVersion:   s.codec.ServerVersion,
		CreateTimestamp: uint32(time.Now().Unix()),
	})
	if err != nil {
		return err
	}
	if err := s.write(event.Magic); err != nil {
		return err
	}
	if err := s.appendEvent(fde, s.codec.Checksum); err != nil {
		return err
	}
	s.start = s.position
	if err := s.flushLocked(true); err != nil {
		return err
	}
	if err := writeIndex(s.opts.Dir, s.opts.Prefix, s.files); err != nil {
		return err
	}
	log.Info().Str("file", name).Msg("Created binlog file")
	return nil
}

func (s *FileSet) write(b []byte) error {
	if _, err := s.writer.Write(b); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, s.current().Name, err)
	}
	s.position += uint64(len(b))
	s.current().Size = s.position
	return nil
}

// appendEvent patches log_pos of one serialized event and writes it.
func (s *FileSet) appendEvent(buf []byte, alg event.ChecksumAlg) error {
	end := s.position + uint64(len(buf))
	if end > math.MaxUint32 {
		return fmt.Errorf("%w: position %d overflows log_pos", ErrCapacity, end)
	}
	if err := event.PatchLogPos(buf, uint32(end), alg); err != nil {
		return err
	}
	if err := s.write(buf); err != nil {
		return err
	}
	telemetry.BytesWrittenTotal.Add(float64(len(buf)))
	telemetry.EventsWrittenTotal.With(event.Type(buf[4]).String()).Inc()
	return nil
}

func (s *FileSet) rotateSize() uint64 {
	n, err := s.codec.Size(&event.RotateEvent{NextFile: s.name(s.current().Number + 1)})
	if err != nil {
		return 0
	}
	return uint64(n)
}

// Fits reports whether a transaction of size bytes can be appended to the
// current file while leaving room for the Rotate event and the reserve.
func (s *FileSet) Fits(size uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fits(size)
}

func (s *FileSet) fits(size uint64) bool {
	return s.position+size+s.rotateSize()+s.opts.RotateReserve <= s.opts.MaxSize
}

// WriteTransaction appends the events of one transaction, rotating first when
// they do not fit. A transaction is never split across files; one too large
// for an empty file is written whole. It returns the position after the last event.
func (s *FileSet) WriteTransaction(bufs [][]byte) (mysql.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mysql.Position{}, ErrClosed
	}

	var size uint64
	for _, b := range bufs {
		size += uint64(len(b))
	}
	if !s.fits(size) {
		if s.position > s.start {
			if err := s.rotateWith(s.codec); err != nil {
				return mysql.Position{}, err
			}
		}
		if !s.fits(size) {
			log.Warn().
				Str("file", s.current().Name).
				Uint64("size", size).
				Uint64("max_size", s.opts.MaxSize).
				Msg("Transaction larger than a log file, writing it whole")
		}
	}

	for _, b := range bufs {
		if err := s.appendEvent(b, s.codec.Checksum); err != nil {
			return mysql.Position{}, err
		}
	}
	if s.opts.Sync == SyncAlways {
		if err := s.flushLocked(true); err != nil {
			return mysql.Position{}, err
		}
	}
	return s.positionLocked(), nil
}

// Rotate seals the current file and starts the next one.
func (s *FileSet) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.rotateWith(s.codec)
}

// rotateWith ends the current file with a Rotate event encoded by c, then
// creates the next file.
func (s *FileSet) rotateWith(c *event.Codec) error {
	cur := *s.current()
	next := cur.Number + 1
	if next > maxFileNumber {
		return fmt.Errorf("%w: file number %d exceeds %d", ErrCapacity, next, maxFileNumber)
	}
	rot, err := c.Encode(&event.RotateEvent{
		Header:   event.Header{Timestamp: uint32(time.Now().Unix())},
		Position: rotatePosition,
		NextFile: s.name(next),
	})
	if err != nil {
		return err
	}
	if err := s.appendEvent(rot, c.Checksum); err != nil {
		return err
	}
	if err := s.flushLocked(true); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, cur.Name, err)
	}
	s.file = nil
	if err := s.create(next); err != nil {
		return err
	}
	telemetry.RotationsTotal.Inc()
	log.Info().Str("sealed", cur.Name).Str("file", s.current().Name).Msg("Rotated binlog file")
	if s.opts.OnSeal != nil {
		s.opts.OnSeal(s.path(cur.Name))
	}
	return nil
}

// Flush writes buffered bytes to the file, and fsyncs unless the sync mode is none.
func (s *FileSet) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked(s.opts.Sync != SyncNone)
}

func (s *FileSet) flushLocked(sync bool) error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %v", ErrIO, s.current().Name, err)
	}
	if sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync %s: %v", ErrIO, s.current().Name, err)
		}
	}
	return nil
}

// Close flushes and closes the current file. It is safe to call twice.
func (s *FileSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	if err := s.flushLocked(true); err != nil {
		s.file.Close()
		return err
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}

// Position returns the current file name and write offset.
func (s *FileSet) Position() mysql.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *FileSet) positionLocked() mysql.Position {
	return mysql.Position{Name: s.current().Name, Pos: uint32(s.position)}
}

// FileStats returns the current file number and write offset.
func (s *FileSet) FileStats() (int, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current().Number, s.position
}

// Files returns the index, oldest first. The last entry is the writable file.
func (s *FileSet) Files() []FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FileInfo, len(s.files))
	copy(out, s.files)
	return out
}

// Dir returns the directory holding the files.
func (s *FileSet) Dir() string {
	return s.opts.Dir
}
