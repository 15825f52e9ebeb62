package event

import "github.com/maxpert/binlogd/wire"

func xidSize(_ *Codec, _ *XidEvent) (int, error) { return 8, nil }

func encodeXid(_ *Codec, e *XidEvent, w *wire.Cursor) error {
	return w.WriteUint64(e.XID)
}

func rotateSize(_ *Codec, e *RotateEvent) (int, error) {
	return 8 + len(e.NextFile), nil
}

func encodeRotate(_ *Codec, e *RotateEvent, w *wire.Cursor) error {
	if err := w.WriteUint64(e.Position); err != nil {
		return err
	}
	return w.WriteString(e.NextFile)
}
