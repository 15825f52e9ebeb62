package telemetry

import (
	"sync"
	"time"
)

// StatsProvider interface for components that provide queue stats
type StatsProvider interface {
	QueueStats() (pending, queuedTasks, queuedResults int)
}

// FileStatsProvider interface for the log file set
type FileStatsProvider interface {
	FileStats() (number int, position uint64)
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	stats    StatsProvider
	files    FileStatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(stats StatsProvider, files FileStatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		stats:    stats,
		files:    files,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.stats != nil {
		UpdatePipelineStats(mc.stats.QueueStats())
	}
	if mc.files != nil {
		number, position := mc.files.FileStats()
		CurrentFileNumber.Set(float64(number))
		CurrentFilePosition.Set(float64(position))
	}
}
