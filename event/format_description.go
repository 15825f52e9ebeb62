package event

import (
	"fmt"

	"github.com/maxpert/binlogd/wire"
)

const serverVersionLen = 50

// postHeaderLengths is the MySQL 8.0 table of post-header lengths, indexed by type code - 1.
var postHeaderLengths = []byte{
	0x38, 0x0d, 0x00, 0x08, 0x00, 0x12, 0x00, 0x04, 0x04, 0x04,
	0x04, 0x12, 0x00, 0x00, 0x5f, 0x00, 0x04, 0x1a, 0x08, 0x00,
	0x00, 0x00, 0x08, 0x08, 0x08, 0x02, 0x00, 0x00, 0x00, 0x0a,
	0x0a, 0x0a, 0x2a, 0x2a, 0x00, 0x12, 0x34, 0x00, 0x0a, 0x28,
	0x00,
}

func formatDescriptionSize(c *Codec, e *FormatDescriptionEvent) (int, error) {
	if v := e.version(c); len(v) > serverVersionLen {
		return 0, fmt.Errorf("server version %q longer than %d bytes", v, serverVersionLen)
	}
	// version + server version + created + header length + table + checksum alg
	return 2 + serverVersionLen + 4 + 1 + len(postHeaderLengths) + 1, nil
}

func (e *FormatDescriptionEvent) version(c *Codec) string {
	if e.ServerVersion != "" {
		return e.ServerVersion
	}
	return c.serverVersion()
}

func encodeFormatDescription(c *Codec, e *FormatDescriptionEvent, w *wire.Cursor) error {
	if err := w.WriteUint16(BinlogVersion); err != nil {
		return err
	}
	v := e.version(c)
	if err := w.WriteString(v); err != nil {
		return err
	}
	if err := w.WriteZeros(serverVersionLen - len(v)); err != nil {
		return err
	}
	if err := w.WriteUint32(e.CreateTimestamp); err != nil {
		return err
	}
	if err := w.WriteUint8(HeaderLen); err != nil {
		return err
	}
	if err := w.WriteBytes(postHeaderLengths); err != nil {
		return err
	}
	return w.WriteUint8(uint8(c.Checksum))
}
