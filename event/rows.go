package event

import (
	"fmt"

	"github.com/maxpert/binlogd/wire"
)

const (
	rowsPostHeaderLen = 6 + 2 + 2
	// rowsExtraInfoLen is the v2 extra-info length word when no extra info follows.
	rowsExtraInfoLen = 2

	// RowsFlagStmtEnd marks the last rows event of a statement.
	RowsFlagStmtEnd uint16 = 0x1
)

// Row holds one row change. Values are indexed by column; only columns marked
// present in the corresponding image bitmap are encoded.
type Row struct {
	Before []Value
	After  []Value
}

// RowsEvent is a v2 Write, Update or Delete rows event.
type RowsEvent struct {
	Header
	Kind      Type
	TableID   uint64
	RowsFlags uint16
	Columns   []Column

	// BeforePresent applies to delete and update events, AfterPresent to
	// write and update events. A nil slice means every column.
	BeforePresent []bool
	AfterPresent  []bool

	Rows []Row

	// images holds the encoded rows once sized; an event is encoded once.
	images [][]byte
}

func (e *RowsEvent) Type() Type { return e.Kind }

func (e *RowsEvent) hasBefore() bool {
	return e.Kind == TypeUpdateRows || e.Kind == TypeDeleteRows
}

func (e *RowsEvent) hasAfter() bool {
	return e.Kind == TypeUpdateRows || e.Kind == TypeWriteRows
}

func presentAt(present []bool, i int) bool {
	return present == nil || (i < len(present) && present[i])
}

func (e *RowsEvent) presentBitmap(present []bool) []byte {
	bits := make([]byte, bitmapLen(len(e.Columns)))
	for i := range e.Columns {
		if presentAt(present, i) {
			bits[i/8] |= 1 << (i % 8)
		}
	}
	return bits
}

// appendImage encodes one row image: a null bitmap over the present columns
// followed by the non-null values.
func (e *RowsEvent) appendImage(dst []byte, c *Codec, present []bool, values []Value) ([]byte, error) {
	var cols []int
	for i := range e.Columns {
		if presentAt(present, i) {
			cols = append(cols, i)
		}
	}
	nullStart := len(dst)
	dst = append(dst, make([]byte, bitmapLen(len(cols)))...)
	for bit, i := range cols {
		if i >= len(values) {
			return nil, fmt.Errorf("%w: row has %d values, column %q is #%d", ErrValue, len(values), e.Columns[i].Name, i)
		}
		v := values[i]
		if v.Kind == ValueNull {
			dst[nullStart+bit/8] |= 1 << (bit % 8)
			continue
		}
		var err error
		dst, err = appendValue(dst, c, e.Columns[i], v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", e.Columns[i].Name, err)
		}
	}
	return dst, nil
}

func (e *RowsEvent) encodeImages(c *Codec) error {
	if e.images != nil {
		return nil
	}
	images := make([][]byte, 0, len(e.Rows))
	for _, row := range e.Rows {
		var img []byte
		var err error
		if e.hasBefore() {
			if img, err = e.appendImage(img, c, e.BeforePresent, row.Before); err != nil {
				return fmt.Errorf("before image: %w", err)
			}
		}
		if e.hasAfter() {
			if img, err = e.appendImage(img, c, e.AfterPresent, row.After); err != nil {
				return fmt.Errorf("after image: %w", err)
			}
		}
		images = append(images, img)
	}
	e.images = images
	return nil
}

func rowsSize(c *Codec, e *RowsEvent) (int, error) {
	if e.TableID > maxTableID {
		return 0, fmt.Errorf("table id %d exceeds 48 bits", e.TableID)
	}
	if err := e.encodeImages(c); err != nil {
		return 0, err
	}
	bitmaps := 1
	if e.Kind == TypeUpdateRows {
		bitmaps = 2
	}
	n := rowsPostHeaderLen +
		wire.LengthEncodedIntSize(uint64(len(e.Columns))) +
		bitmaps*bitmapLen(len(e.Columns))
	for _, img := range e.images {
		n += len(img)
	}
	return n, nil
}

func encodeRows(c *Codec, e *RowsEvent, w *wire.Cursor) error {
	if err := e.encodeImages(c); err != nil {
		return err
	}
	if err := w.WriteUint48(e.TableID); err != nil {
		return err
	}
	if err := w.WriteUint16(e.RowsFlags); err != nil {
		return err
	}
	if err := w.WriteUint16(rowsExtraInfoLen); err != nil {
		return err
	}
	if err := w.PutLengthEncodedInt(uint64(len(e.Columns))); err != nil {
		return err
	}
	if e.hasBefore() {
		if err := w.WriteBytes(e.presentBitmap(e.BeforePresent)); err != nil {
			return err
		}
	}
	if e.hasAfter() {
		if err := w.WriteBytes(e.presentBitmap(e.AfterPresent)); err != nil {
			return err
		}
	}
	for _, img := range e.images {
		if err := w.WriteBytes(img); err != nil {
			return err
		}
	}
	return nil
}
