package h1

import (
	"strconv"
	"sync"

	"github.com/albertbausili/sluice/internal/date"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"
)

// Pre-allocated common headers to avoid allocations
var (
	statusLine200       = []byte("HTTP/1.1 200 OK\r\n")
	headerContentLength = []byte("content-length: ")
	headerDate          = []byte("date: ")
	headerConnection    = []byte("connection: ")
	headerKeepAlive     = []byte("keep-alive\r\n")
	headerClose         = []byte("close\r\n")
	headerSep           = []byte(": ")
	crlf                = []byte("\r\n")

	// Buffer pool for response assembly
	responseBufferPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}
)

// maxPooledBuffer is the largest assembly buffer returned to the pool.
const maxPooledBuffer = 64 << 10

// Conn is the subset of gnet.Conn the writer needs.
type Conn interface {
	AsyncWritev(bs [][]byte, callback gnet.AsyncCallback) error
	Close() error
}

// ResponseWriter writes HTTP/1.1 responses on one connection. Writes are
// queued on the connection's event loop in call order and are safe from any
// goroutine.
type ResponseWriter struct {
	conn           Conn
	mu             sync.Mutex
	logger         *zap.Logger
	coalesceBuf    []byte
	coalesceThresh int
	bytesWritten   int64
}

// NewResponseWriter creates a new HTTP/1.1 response writer.
func NewResponseWriter(conn Conn, logger *zap.Logger) *ResponseWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseWriter{
		conn:           conn,
		logger:         logger,
		coalesceThresh: 16384,
	}
}

// RenderStatus writes a complete plain-text response carrying code and its
// reason phrase, then closes the connection once the bytes are flushed.
func (w *ResponseWriter) RenderStatus(code int) error {
	body := []byte(StatusText(code))
	headers := [][2]string{
		{"content-type", "text/plain; charset=utf-8"},
	}
	return w.WriteResponse(code, headers, body, false)
}

// Send queues raw bytes. Small sends are coalesced until final is set or
// the coalescing threshold is reached.
func (w *ResponseWriter) Send(b []byte, final bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.coalesceBuf = append(w.coalesceBuf, b...)
	if !final && len(w.coalesceBuf) < w.coalesceThresh {
		return nil
	}
	return w.flushLocked(false)
}

// WriteResponse writes a full response with status, headers and body.
// content-length, date and connection headers are added automatically; when
// keepAlive is false the connection is closed after the write completes.
func (w *ResponseWriter) WriteResponse(status int, headers [][2]string, body []byte, keepAlive bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	bufPtr := responseBufferPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	if status == 200 {
		buf = append(buf, statusLine200...)
	} else {
		buf = append(buf, "HTTP/1.1 "...)
		buf = strconv.AppendInt(buf, int64(status), 10)
		buf = append(buf, ' ')
		buf = append(buf, StatusText(status)...)
		buf = append(buf, crlf...)
	}

	hasContentLength := false
	for _, h := range headers {
		if h[0] == "content-length" {
			hasContentLength = true
			break
		}
	}
	if !hasContentLength {
		buf = append(buf, headerContentLength...)
		buf = strconv.AppendInt(buf, int64(len(body)), 10)
		buf = append(buf, crlf...)
	}

	for _, h := range headers {
		buf = append(buf, h[0]...)
		buf = append(buf, headerSep...)
		buf = append(buf, h[1]...)
		buf = append(buf, crlf...)
	}

	buf = append(buf, headerDate...)
	buf = append(buf, date.Current()...)
	buf = append(buf, crlf...)

	buf = append(buf, headerConnection...)
	if keepAlive {
		buf = append(buf, headerKeepAlive...)
	} else {
		buf = append(buf, headerClose...)
	}
	buf = append(buf, crlf...)
	buf = append(buf, body...)
	*bufPtr = buf

	// Anything queued through Send goes out first.
	batch := make([][]byte, 0, 2)
	if len(w.coalesceBuf) > 0 {
		batch = append(batch, w.takeCoalesced())
	}
	batch = append(batch, buf)
	w.bytesWritten += int64(len(buf))

	return w.writev(batch, !keepAlive, bufPtr)
}

// BytesWritten returns the number of bytes handed to the connection so far.
func (w *ResponseWriter) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesWritten
}

func (w *ResponseWriter) takeCoalesced() []byte {
	out := make([]byte, len(w.coalesceBuf))
	copy(out, w.coalesceBuf)
	w.coalesceBuf = w.coalesceBuf[:0]
	return out
}

func (w *ResponseWriter) flushLocked(closeAfter bool) error {
	if len(w.coalesceBuf) == 0 {
		return nil
	}
	out := w.takeCoalesced()
	w.bytesWritten += int64(len(out))
	return w.writev([][]byte{out}, closeAfter, nil)
}

// writev hands batch to the event loop. pooled, if set, is returned to the
// buffer pool once the write has completed.
func (w *ResponseWriter) writev(batch [][]byte, closeAfter bool, pooled *[]byte) error {
	err := w.conn.AsyncWritev(batch, func(_ gnet.Conn, err error) error {
		if err != nil {
			w.logger.Debug("async write failed", zap.Error(err))
		}
		if pooled != nil && cap(*pooled) <= maxPooledBuffer {
			*pooled = (*pooled)[:0]
			responseBufferPool.Put(pooled)
		}
		if closeAfter {
			_ = w.conn.Close()
		}
		return nil
	})
	if err != nil {
		return WrapIO(err)
	}
	return nil
}
