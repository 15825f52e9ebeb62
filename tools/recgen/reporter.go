package main

import (
	"context"
	"fmt"
	"io"
	"time"
)

// reportProgress prints progress every second until ctx ends.
func reportProgress(ctx context.Context, w io.Writer, stats *Stats) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last Snapshot
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := stats.GetSnapshot()
			elapsed := time.Since(start)
			fmt.Fprintf(w, "[%5.0fs] records/sec: %7d | total: %9d | MB: %8.1f | throughput: %.1f records/sec\n",
				elapsed.Seconds(),
				snap.Total()-last.Total(),
				snap.Total(),
				float64(snap.Bytes)/(1<<20),
				float64(snap.Total())/elapsed.Seconds(),
			)
			last = snap
		}
	}
}
