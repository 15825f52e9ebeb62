package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/maxpert/binlogd/record"
)

// Stats counts generated records. Safe for concurrent reads while the
// generator writes.
type Stats struct {
	ddlOps    atomic.Uint64
	insertOps atomic.Uint64
	updateOps atomic.Uint64
	deleteOps atomic.Uint64
	bytes     atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	DDL    uint64
	Insert uint64
	Update uint64
	Delete uint64
	Bytes  uint64
}

func (s Snapshot) Total() uint64 {
	return s.DDL + s.Insert + s.Update + s.Delete
}

// Record counts one emitted frame.
func (s *Stats) Record(op record.OpType, frameBytes int) {
	switch op {
	case record.OpDDL:
		s.ddlOps.Add(1)
	case record.OpInsert:
		s.insertOps.Add(1)
	case record.OpUpdate:
		s.updateOps.Add(1)
	case record.OpDelete:
		s.deleteOps.Add(1)
	}
	s.bytes.Add(uint64(frameBytes))
}

func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		DDL:    s.ddlOps.Load(),
		Insert: s.insertOps.Load(),
		Update: s.updateOps.Load(),
		Delete: s.deleteOps.Load(),
		Bytes:  s.bytes.Load(),
	}
}

// PrintSummary writes the final report.
func (s *Stats) PrintSummary(w io.Writer, elapsed time.Duration) {
	snap := s.GetSnapshot()
	fmt.Fprintln(w, "=== recgen summary ===")
	fmt.Fprintf(w, "records: %d (ddl %d, insert %d, update %d, delete %d)\n",
		snap.Total(), snap.DDL, snap.Insert, snap.Update, snap.Delete)
	fmt.Fprintf(w, "bytes:   %d\n", snap.Bytes)
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "rate:    %.1f records/sec, %.2f MB/sec\n",
			float64(snap.Total())/secs, float64(snap.Bytes)/secs/(1<<20))
	}
}
