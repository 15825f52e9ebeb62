package logfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/maxpert/binlogd/event"
)

// queryFixedLen is the Query post-header: thread id, exec time, db length,
// error code and status vars length.
const queryFixedLen = 4 + 4 + 1 + 2 + 2

var queryBegin = []byte("BEGIN")

type recoverState struct {
	// valid is false when the file does not start with magic and a FormatDescription.
	valid bool
	// rotated is true when the last complete event is a Rotate.
	rotated  bool
	checksum event.ChecksumAlg
	size     uint64
	// start is the offset after the FormatDescription; end is the offset after
	// the last complete transaction.
	start uint64
	end   uint64
}

// recoverFile walks the events of a log file and finds the last transaction
// boundary. Transactions end at an Xid, at a DDL Query (one that directly
// follows a Gtid and is not BEGIN) and at the FormatDescription.
func recoverFile(path string) (recoverState, error) {
	var st recoverState
	f, err := os.Open(path)
	if err != nil {
		return st, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return st, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	st.size = uint64(info.Size())

	r := bufio.NewReaderSize(f, writeBufSize)
	magic := make([]byte, len(event.Magic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, event.Magic) {
		return st, nil
	}

	pos := uint64(len(magic))
	prev := event.Type(0)
	header := make([]byte, event.HeaderLen)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return st, nil
			}
			return st, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
		}
		h, err := event.ParseHeader(header)
		if err != nil || h.EventLength < event.HeaderLen || pos+uint64(h.EventLength) > st.size {
			return st, nil
		}
		body := make([]byte, h.EventLength-event.HeaderLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return st, nil
		}
		pos += uint64(h.EventLength)

		if !st.valid {
			if h.Type != event.TypeFormatDescription || len(body) < 1+event.ChecksumLen {
				return st, nil
			}
			st.valid = true
			st.checksum = event.ChecksumAlg(body[len(body)-1-event.ChecksumLen])
			st.start, st.end = pos, pos
			prev = h.Type
			continue
		}

		switch h.Type {
		case event.TypeXid:
			st.end = pos
		case event.TypeQuery:
			if prev == event.TypeGtid && !isBegin(body, st.checksum) {
				st.end = pos
			}
		case event.TypeRotate:
			st.end = pos
			st.rotated = true
			return st, nil
		}
		prev = h.Type
	}
}

func isBegin(body []byte, alg event.ChecksumAlg) bool {
	if alg == event.ChecksumCRC32 {
		if len(body) < event.ChecksumLen {
			return false
		}
		body = body[:len(body)-event.ChecksumLen]
	}
	if len(body) < queryFixedLen {
		return false
	}
	dbLen := int(body[8])
	statusLen := int(body[11]) | int(body[12])<<8
	start := queryFixedLen + statusLen + dbLen + 1
	if start > len(body) {
		return false
	}
	return bytes.Equal(body[start:], queryBegin)
}
