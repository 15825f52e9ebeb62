package transformer

import (
	"fmt"

	"github.com/maxpert/binlogd/encoding"
	"github.com/maxpert/binlogd/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return NewMsgpackTransformer()
	})
}

// MsgpackTransformer encodes a checkpoint with the same msgpack layout the
// checkpoint log stores.
type MsgpackTransformer struct{}

func NewMsgpackTransformer() *MsgpackTransformer {
	return &MsgpackTransformer{}
}

// Transform implements publisher.Transformer
func (t *MsgpackTransformer) Transform(cp publisher.Checkpoint) ([]byte, error) {
	data, err := encoding.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint %d: %w", cp.Seq, err)
	}
	return data, nil
}
