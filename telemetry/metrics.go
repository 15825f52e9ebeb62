package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// TransformBuckets for per-record decode and encode work
	TransformBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

	// WriteBuckets for per-batch file writes including fsync
	WriteBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	// BatchSizeBuckets for the number of tasks per batch
	BatchSizeBuckets = []float64{1, 10, 50, 100, 250, 500, 1000, 2000, 5000}
)

// Pipeline Metrics
var (
	// TasksTotal counts tasks by outcome (submitted, processed, written, skipped, failed)
	TasksTotal CounterVec = noopCounterVec{}

	// BatchesTotal counts batches handed to the worker pool
	BatchesTotal Counter = NoopStat{}

	// BatchSize measures the number of tasks per batch
	BatchSize Histogram = NoopStat{}

	// TransformDurationSeconds measures per-task transform latency
	TransformDurationSeconds Histogram = NoopStat{}

	// WriteDurationSeconds measures per-batch write latency including flush
	WriteDurationSeconds Histogram = NoopStat{}

	// QueueDepth tracks queued items by stage (tasks, results)
	QueueDepth GaugeVec = noopGaugeVec{}

	// PendingTasks tracks tasks submitted but not yet resolved
	PendingTasks Gauge = NoopStat{}
)

// Log File Metrics
var (
	// BytesWrittenTotal counts event bytes appended to log files
	BytesWrittenTotal Counter = NoopStat{}

	// EventsWrittenTotal counts events by type
	EventsWrittenTotal CounterVec = noopCounterVec{}

	// RotationsTotal counts log file rotations
	RotationsTotal Counter = NoopStat{}

	// CurrentFileNumber tracks the number of the writable log file
	CurrentFileNumber Gauge = NoopStat{}

	// CurrentFilePosition tracks the write position in the writable log file
	CurrentFilePosition Gauge = NoopStat{}

	// ArchivedFilesTotal counts archive attempts by result (success, failed, dropped)
	ArchivedFilesTotal CounterVec = noopCounterVec{}
)

// Checkpoint Metrics
var (
	// CheckpointsTotal counts checkpoints appended to the checkpoint log
	CheckpointsTotal Counter = NoopStat{}

	// SinkPublishedTotal counts checkpoints published by sink and result
	SinkPublishedTotal CounterVec = noopCounterVec{}

	// SinkLag tracks checkpoints not yet published per sink
	SinkLag GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry exists.
func InitMetrics() {
	// Pipeline Metrics
	TasksTotal = NewCounterVec(
		"tasks_total",
		"Pipeline tasks by outcome",
		[]string{"outcome"},
	)
	BatchesTotal = NewCounter(
		"batches_total",
		"Total batches handed to the worker pool",
	)
	BatchSize = NewHistogram(
		"batch_size",
		"Number of tasks per batch",
		BatchSizeBuckets,
	)
	TransformDurationSeconds = NewHistogram(
		"transform_duration_seconds",
		"Per-task transform duration in seconds",
		TransformBuckets,
	)
	WriteDurationSeconds = NewHistogram(
		"write_duration_seconds",
		"Per-batch write duration in seconds",
		WriteBuckets,
	)
	QueueDepth = NewGaugeVec(
		"queue_depth",
		"Items queued per pipeline stage",
		[]string{"stage"},
	)
	PendingTasks = NewGauge(
		"pending_tasks",
		"Tasks submitted but not yet resolved",
	)

	// Log File Metrics
	BytesWrittenTotal = NewCounter(
		"bytes_written_total",
		"Event bytes appended to log files",
	)
	EventsWrittenTotal = NewCounterVec(
		"events_written_total",
		"Events appended to log files by type",
		[]string{"type"},
	)
	RotationsTotal = NewCounter(
		"rotations_total",
		"Total log file rotations",
	)
	CurrentFileNumber = NewGauge(
		"current_file_number",
		"Number of the writable log file",
	)
	CurrentFilePosition = NewGauge(
		"current_file_position_bytes",
		"Write position in the writable log file",
	)
	ArchivedFilesTotal = NewCounterVec(
		"archived_files_total",
		"Sealed log files archived by result",
		[]string{"result"},
	)

	// Checkpoint Metrics
	CheckpointsTotal = NewCounter(
		"checkpoints_total",
		"Checkpoints appended to the checkpoint log",
	)
	SinkPublishedTotal = NewCounterVec(
		"sink_published_total",
		"Checkpoints published by sink and result",
		[]string{"sink", "result"},
	)
	SinkLag = NewGaugeVec(
		"sink_lag",
		"Checkpoints not yet published per sink",
		[]string{"sink"},
	)
}

// UpdatePipelineStats sets the queue gauges in one call.
func UpdatePipelineStats(pending, queuedTasks, queuedResults int) {
	PendingTasks.Set(float64(pending))
	QueueDepth.With("tasks").Set(float64(queuedTasks))
	QueueDepth.With("results").Set(float64(queuedResults))
}
