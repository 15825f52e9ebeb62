package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/logfile"
	"github.com/maxpert/binlogd/pipeline"
	"github.com/maxpert/binlogd/publisher"
)

const (
	defaultLimit = 256
	maxLimit     = 1024
)

// PipelineSource exposes pipeline progress
type PipelineSource interface {
	Progress() pipeline.Progress
	InFlight() int
	QueueStats() (pending, queuedTasks, queuedResults int)
	Err() error
}

// FileSource exposes the log file index
type FileSource interface {
	Files() []logfile.FileInfo
	Position() mysql.Position
}

// CheckpointSource exposes the checkpoint log
type CheckpointSource interface {
	Last() (publisher.Checkpoint, bool, error)
	ReadFrom(cursor uint64, limit int) ([]publisher.Checkpoint, error)
	Cursors() map[string]uint64
}

// Handlers serves the admin API. Checkpoints may be nil when the
// checkpoint log is disabled.
type Handlers struct {
	pipeline    PipelineSource
	files       FileSource
	checkpoints CheckpointSource
}

// NewHandlers creates a new Handlers instance
func NewHandlers(p PipelineSource, files FileSource, checkpoints CheckpointSource) *Handlers {
	return &Handlers{
		pipeline:    p,
		files:       files,
		checkpoints: checkpoints,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, next string) {
	response := map[string]interface{}{
		"data": data,
	}
	if hasMore {
		response["has_more"] = true
		response["next"] = next
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > maxLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxLimit)
	}
	return limit, nil
}

// parseFrom parses the exclusive sequence to page from, 0 when absent
func parseFrom(r *http.Request) (uint64, error) {
	fromStr := r.URL.Query().Get("from")
	if fromStr == "" {
		return 0, nil
	}
	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid from parameter: %w", err)
	}
	return from, nil
}
