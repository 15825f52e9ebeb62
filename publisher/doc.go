// Package publisher records written transactions as checkpoints and ships
// them to external systems.
//
// The pipeline's commit hook hands every flushed batch to Registry.AppendCommits,
// which converts the records to Checkpoint values and appends them to a
// CheckpointLog. The log is a Pebble database:
//
//	/ckpt/{seq:016x}      -> msgpack(Checkpoint)
//	/ckptcursor/{sink}    -> uint64 (last consumed sequence)
//	/ckptseq              -> uint64 (last assigned sequence)
//
// Each configured sink gets a Worker that reads from its cursor, drops
// checkpoints rejected by the sink's table and database globs, encodes the
// rest with the sink's format and publishes them with exponential backoff.
// The cursor is advanced after each publish, so delivery is at-least-once.
//
// Checkpoints below every cursor and outside the retention window are
// removed in the background.
//
// Sink types and formats register themselves from init functions in the
// sink and transformer subpackages; import them for their side effects:
//
//	import (
//		_ "github.com/maxpert/binlogd/publisher/sink"
//		_ "github.com/maxpert/binlogd/publisher/transformer"
//	)
package publisher
