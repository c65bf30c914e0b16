package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedFrame reports a payload whose frame prefixes do not add up.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// MaxFrameSize bounds a single frame.
const MaxFrameSize = 16 << 20

// JoinFrames packs frames into one payload, each prefixed by its uvarint
// length.
func JoinFrames(frames ...[]byte) []byte {
	size := 0
	for _, f := range frames {
		size += binary.MaxVarintLen64 + len(f)
	}
	out := make([]byte, 0, size)
	for _, f := range frames {
		out = binary.AppendUvarint(out, uint64(len(f)))
		out = append(out, f...)
	}
	return out
}

// SplitFrames is the inverse of JoinFrames. An empty payload yields no frames.
func SplitFrames(payload []byte) ([][]byte, error) {
	var frames [][]byte
	for off := 0; off < len(payload); {
		n, w := binary.Uvarint(payload[off:])
		if w <= 0 {
			return nil, fmt.Errorf("%w: bad length prefix at offset %d", ErrMalformedFrame, off)
		}
		off += w
		if n > MaxFrameSize || n > uint64(len(payload)-off) {
			return nil, fmt.Errorf("%w: frame of %d bytes at offset %d overruns payload of %d", ErrMalformedFrame, n, off, len(payload))
		}
		frames = append(frames, payload[off:off+int(n)])
		off += int(n)
	}
	return frames, nil
}
