package event

import (
	"strconv"
	"strings"

	"github.com/maxpert/binlogd/wire"
)

const (
	gtidPostHeaderLen       = 1 + 16 + 8 + 1 + 8 + 8
	logicalTimestampType    = 2
	commitTimestampLen      = 7
	serverVersionNumLen     = 4
	commitTimestampHasOrig  = uint64(1) << 55
	serverVersionHasOrig    = uint32(1) << 31
	maxCommitTimestampValue = commitTimestampHasOrig - 1
)

// ServerVersionNumber converts "8.0.32" into 80032, the form carried by Gtid events.
func ServerVersionNumber(version string) uint32 {
	v, _, _ := strings.Cut(version, "-")
	parts := strings.SplitN(v, ".", 3)
	var n uint32
	mult := []uint32{10000, 100, 1}
	for i, p := range parts {
		x, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0
		}
		n += uint32(x) * mult[i]
	}
	return n
}

func (e *GtidEvent) originalCommitTimestamp() uint64 {
	if e.OriginalCommitTimestamp == 0 {
		return e.ImmediateCommitTimestamp
	}
	return e.OriginalCommitTimestamp
}

func (e *GtidEvent) originalServerVersion() uint32 {
	if e.OriginalServerVersion == 0 {
		return e.ImmediateServerVersion
	}
	return e.OriginalServerVersion
}

func gtidSize(_ *Codec, e *GtidEvent) (int, error) {
	n := gtidPostHeaderLen + commitTimestampLen
	if e.originalCommitTimestamp() != e.ImmediateCommitTimestamp {
		n += commitTimestampLen
	}
	n += wire.LengthEncodedIntSize(e.TransactionLength)
	n += serverVersionNumLen
	if e.originalServerVersion() != e.ImmediateServerVersion {
		n += serverVersionNumLen
	}
	return n, nil
}

func encodeGtid(_ *Codec, e *GtidEvent, w *wire.Cursor) error {
	if err := w.WriteUint8(e.GtidFlags); err != nil {
		return err
	}
	if err := w.WriteBytes(e.SID[:]); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(e.GNO)); err != nil {
		return err
	}
	if err := w.WriteUint8(logicalTimestampType); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(e.LastCommitted)); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(e.SequenceNumber)); err != nil {
		return err
	}

	immediate := e.ImmediateCommitTimestamp & maxCommitTimestampValue
	original := e.originalCommitTimestamp() & maxCommitTimestampValue
	if e.originalCommitTimestamp() != e.ImmediateCommitTimestamp {
		if err := w.WriteUint(commitTimestampLen, immediate|commitTimestampHasOrig); err != nil {
			return err
		}
		if err := w.WriteUint(commitTimestampLen, original); err != nil {
			return err
		}
	} else if err := w.WriteUint(commitTimestampLen, immediate); err != nil {
		return err
	}

	if err := w.PutLengthEncodedInt(e.TransactionLength); err != nil {
		return err
	}

	if e.originalServerVersion() != e.ImmediateServerVersion {
		if err := w.WriteUint32(e.ImmediateServerVersion | serverVersionHasOrig); err != nil {
			return err
		}
		return w.WriteUint32(e.originalServerVersion())
	}
	return w.WriteUint32(e.ImmediateServerVersion)
}
