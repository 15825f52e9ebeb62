package publisher

// Checkpoint records one written transaction: where the upstream capture
// stood and where its events ended in the binlog.
type Checkpoint struct {
	Seq        uint64 `msgpack:"seq" json:"seq"`                 // Monotonic sequence in the checkpoint log
	Batch      uint64 `msgpack:"batch" json:"batch"`             // Pipeline batch sequence
	CheckPoint string `msgpack:"cp" json:"check_point"`          // Upstream capture position
	SCN        int64  `msgpack:"scn" json:"scn"`                 // Source change number
	TxSeq      int64  `msgpack:"tx" json:"tx_seq"`               // Upstream transaction sequence, also the Gtid GNO
	Database   string `msgpack:"db" json:"db,omitempty"`         // Database name
	Table      string `msgpack:"tbl" json:"table,omitempty"`     // Table name, empty for schema-wide DDL
	OpType     string `msgpack:"op" json:"op_type"`              // DDL, INSERT, UPDATE or DELETE
	File       string `msgpack:"file" json:"file"`               // Binlog file holding the transaction
	EndPos     uint32 `msgpack:"pos" json:"end_pos"`             // Offset after the transaction's last event
	TxTime     int64  `msgpack:"ts" json:"tx_time"`              // Upstream commit time (unix ms)
	ServerID   uint32 `msgpack:"server" json:"server_id"`        // Writing server
	GTID       string `msgpack:"gtid" json:"gtid,omitempty"`     // sid:gno when a server uuid is set
}

// Sink represents a destination for checkpoints (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an encoded checkpoint to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer encodes checkpoints into a sink payload format
type Transformer interface {
	// Transform converts a checkpoint to bytes for publishing
	Transform(cp Checkpoint) ([]byte, error)
}

// Filter determines whether a checkpoint should be published
type Filter interface {
	// Match returns true if the checkpoint should be published
	Match(database, table string) bool
}
