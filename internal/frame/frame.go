// Package frame wraps payloads in length-prefixed HTTP/2 frames.
package frame

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/net/http2"
)

// HeaderLen is the size of the fixed HTTP/2 frame header.
const HeaderLen = 9

// DefaultStreamID is the stream an h2c upgrade response is delivered on.
const DefaultStreamID uint32 = 1

// Encoder produces DATA frames. It is safe for concurrent use.
type Encoder struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	framer   *http2.Framer
	streamID uint32
}

// NewEncoder creates an encoder writing frames for streamID.
func NewEncoder(streamID uint32) *Encoder {
	if streamID == 0 {
		streamID = DefaultStreamID
	}
	e := &Encoder{streamID: streamID}
	e.framer = http2.NewFramer(&e.buf, nil)
	return e
}

// Wrap returns data framed as a single END_STREAM DATA frame: a 24-bit
// length, type, flags and stream id followed by the payload.
func (e *Encoder) Wrap(data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf.Reset()
	if err := e.framer.WriteData(e.streamID, true, data); err != nil {
		return nil, fmt.Errorf("frame: write data: %w", err)
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}
