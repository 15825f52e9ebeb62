package event

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/maxpert/binlogd/wire"
)

// DefaultServerVersion is announced in FormatDescription events when none is configured.
const DefaultServerVersion = "8.0.32"

// DocumentEncoder turns the text of a JSON column value into its stored binary form.
type DocumentEncoder interface {
	EncodeDocument(text string) ([]byte, error)
}

// Codec serializes events. It is safe for concurrent use.
type Codec struct {
	ServerID      uint32
	ServerVersion string
	Checksum      ChecksumAlg
	Documents     DocumentEncoder
}

// kindCodec sizes and writes the post-header and body of one event kind.
// size must return exactly what encode writes.
type kindCodec struct {
	size   func(c *Codec, e Event) (int, error)
	encode func(c *Codec, e Event, w *wire.Cursor) error
}

var kinds = map[Type]kindCodec{}

func register[T Event](t Type, size func(*Codec, T) (int, error), encode func(*Codec, T, *wire.Cursor) error) {
	kinds[t] = kindCodec{
		size: func(c *Codec, e Event) (int, error) {
			return size(c, e.(T))
		},
		encode: func(c *Codec, e Event, w *wire.Cursor) error {
			return encode(c, e.(T), w)
		},
	}
}

func init() {
	register(TypeFormatDescription, formatDescriptionSize, encodeFormatDescription)
	register(TypeGtid, gtidSize, encodeGtid)
	register(TypeQuery, querySize, encodeQuery)
	register(TypeTableMap, tableMapSize, encodeTableMap)
	register(TypeWriteRows, rowsSize, encodeRows)
	register(TypeUpdateRows, rowsSize, encodeRows)
	register(TypeDeleteRows, rowsSize, encodeRows)
	register(TypeXid, xidSize, encodeXid)
	register(TypeRotate, rotateSize, encodeRotate)
}

// Encode serializes e with checksums off.
func Encode(e Event, serverID uint32) ([]byte, error) {
	c := &Codec{ServerID: serverID}
	return c.Encode(e)
}

func (c *Codec) serverVersion() string {
	if c.ServerVersion == "" {
		return DefaultServerVersion
	}
	return c.ServerVersion
}

func (c *Codec) trailerLen(t Type) int {
	if c.Checksum == ChecksumCRC32 || t == TypeFormatDescription {
		return ChecksumLen
	}
	return 0
}

// Size returns the serialized length of e, header and trailer included.
func (c *Codec) Size(e Event) (int, error) {
	k, ok := kinds[e.Type()]
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnknownType, e.Type())
	}
	body, err := k.size(c, e)
	if err != nil {
		return 0, err
	}
	return HeaderLen + body + c.trailerLen(e.Type()), nil
}

// Encode serializes e into a fresh buffer whose log_pos is 0.
func (c *Codec) Encode(e Event) ([]byte, error) {
	k, ok := kinds[e.Type()]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownType, e.Type())
	}
	body, err := k.size(c, e)
	if err != nil {
		return nil, fmt.Errorf("failed to size %s event: %w", e.Type(), err)
	}
	total := HeaderLen + body + c.trailerLen(e.Type())
	buf := make([]byte, total)
	w := wire.NewCursor(buf)

	h := e.header()
	if err := c.writeHeader(w, e.Type(), h, uint32(total)); err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", ErrEncodeBounds, e.Type(), err)
	}
	if err := k.encode(c, e, w); err != nil {
		if errors.Is(err, wire.ErrOutOfBounds) {
			return nil, fmt.Errorf("%w: %s body: %v", ErrEncodeBounds, e.Type(), err)
		}
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Type(), err)
	}
	if w.Offset() != HeaderLen+body {
		return nil, fmt.Errorf("%w: %s wrote %d of %d bytes", ErrEncodeBounds, e.Type(), w.Offset(), HeaderLen+body)
	}
	if c.Checksum == ChecksumCRC32 {
		putChecksum(buf)
	}
	return buf, nil
}

func (c *Codec) writeHeader(w *wire.Cursor, t Type, h *Header, total uint32) error {
	if err := w.WriteUint32(h.Timestamp); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(t)); err != nil {
		return err
	}
	if err := w.WriteUint32(c.ServerID); err != nil {
		return err
	}
	if err := w.WriteUint32(total); err != nil {
		return err
	}
	if err := w.WriteUint32(0); err != nil {
		return err
	}
	return w.WriteUint16(h.Flags)
}

func putChecksum(buf []byte) {
	n := len(buf) - ChecksumLen
	sum := crc32.ChecksumIEEE(buf[:n])
	w := wire.NewCursor(buf[n:])
	_ = w.WriteUint32(sum)
}

// PatchLogPos stores the absolute end offset of a serialized event and, when
// checksums are on, refreshes the trailer.
func PatchLogPos(buf []byte, pos uint32, alg ChecksumAlg) error {
	if len(buf) < HeaderLen {
		return fmt.Errorf("%w: event of %d bytes has no header", wire.ErrOutOfBounds, len(buf))
	}
	w := wire.NewCursor(buf)
	if err := w.Seek(LogPosOffset); err != nil {
		return err
	}
	if err := w.WriteUint32(pos); err != nil {
		return err
	}
	if alg == ChecksumCRC32 {
		if len(buf) < HeaderLen+ChecksumLen {
			return fmt.Errorf("%w: event of %d bytes has no checksum", wire.ErrOutOfBounds, len(buf))
		}
		putChecksum(buf)
	}
	return nil
}

// ParsedHeader is the decoded common header of a serialized event.
type ParsedHeader struct {
	Timestamp   uint32
	Type        Type
	ServerID    uint32
	EventLength uint32
	LogPos      uint32
	Flags       uint16
}

// ParseHeader decodes the common header at the start of buf.
func ParseHeader(buf []byte) (ParsedHeader, error) {
	var h ParsedHeader
	r := wire.NewCursor(buf)
	var err error
	if h.Timestamp, err = r.ReadUint32(); err != nil {
		return h, err
	}
	t, err := r.ReadUint8()
	if err != nil {
		return h, err
	}
	h.Type = Type(t)
	if h.ServerID, err = r.ReadUint32(); err != nil {
		return h, err
	}
	if h.EventLength, err = r.ReadUint32(); err != nil {
		return h, err
	}
	if h.LogPos, err = r.ReadUint32(); err != nil {
		return h, err
	}
	if h.Flags, err = r.ReadUint16(); err != nil {
		return h, err
	}
	return h, nil
}

// VerifyChecksum reports whether the CRC32 trailer of buf matches its contents.
func VerifyChecksum(buf []byte) bool {
	if len(buf) < HeaderLen+ChecksumLen {
		return false
	}
	n := len(buf) - ChecksumLen
	r := wire.NewCursor(buf[n:])
	want, _ := r.ReadUint32()
	return crc32.ChecksumIEEE(buf[:n]) == want
}
