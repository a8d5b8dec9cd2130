package native

import (
	"encoding/binary"
	"fmt"
	"io"
)

// headerSize is the length prefix size: a uint32, little-endian, counting
// the JSON payload bytes that follow.
const headerSize = 4

// MaxFrameSize caps inbound frames. Chrome's native messaging layer refuses
// anything larger, so a bigger prefix means a corrupt or hostile stream.
const MaxFrameSize = 64 << 20

// readFrame reads one length-prefixed frame. io.EOF is returned unchanged
// when the stream ends cleanly between frames; a stream that ends inside a
// frame yields io.ErrUnexpectedEOF.
func readFrame(r io.Reader) ([]byte, error) {
	var head [headerSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint32(head[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", size, MaxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame payload: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return payload, nil
}

// encodeFrame prepends the length prefix, returning a single buffer so the
// caller can emit the frame in one write.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}
