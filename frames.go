package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	frameDDL = 'D'
	frameDML = 'M'

	maxFrameSize = 64 << 20
)

var errBadFrame = errors.New("bad record frame")

// frameReader reads record frames: a kind byte ('D' or 'M'), a 4-byte
// little-endian payload length and the msgpack payload.
type frameReader struct {
	r      *bufio.Reader
	header [5]byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// next returns io.EOF only on a clean frame boundary.
func (f *frameReader) next() (payload []byte, isDDL bool, err error) {
	if _, err := io.ReadFull(f.r, f.header[:1]); err != nil {
		return nil, false, err
	}
	if _, err := io.ReadFull(f.r, f.header[1:]); err != nil {
		return nil, false, fmt.Errorf("%w: truncated header: %v", errBadFrame, err)
	}

	switch f.header[0] {
	case frameDDL:
		isDDL = true
	case frameDML:
	default:
		return nil, false, fmt.Errorf("%w: unknown kind 0x%02x", errBadFrame, f.header[0])
	}

	size := binary.LittleEndian.Uint32(f.header[1:])
	if size > maxFrameSize {
		return nil, false, fmt.Errorf("%w: payload of %d bytes exceeds %d", errBadFrame, size, maxFrameSize)
	}
	payload = make([]byte, size)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, false, fmt.Errorf("%w: truncated payload: %v", errBadFrame, err)
	}
	return payload, isDDL, nil
}
