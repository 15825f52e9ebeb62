// Package transformer provides implementations of the publisher.Transformer
// interface for encoding checkpoints on the wire.
package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/maxpert/binlogd/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewJSONTransformer()
	})
}

// JSONTransformer encodes a checkpoint as a flat JSON object using the
// Checkpoint json tags.
type JSONTransformer struct{}

// NewJSONTransformer creates a new JSON transformer
func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{}
}

// Transform implements publisher.Transformer
func (t *JSONTransformer) Transform(cp publisher.Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint %d: %w", cp.Seq, err)
	}
	return data, nil
}
