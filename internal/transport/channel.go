package transport

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"github.com/albertbausili/sluice/internal/dispatch"
	"github.com/albertbausili/sluice/internal/h1"
)

// Channel is one accepted connection. It is the connection identity seen by
// the dispatch pipeline, its selector registration and the sink the response
// writer writes to.
type Channel struct {
	c         gnet.Conn
	id        uuid.UUID
	remote    string
	closed    atomic.Bool
	cancelled atomic.Bool

	// counted is set in OnOpen once the connection is admitted. Only the
	// connection's event loop touches it.
	counted bool
}

func newChannel(c gnet.Conn) *Channel {
	ch := &Channel{c: c, id: uuid.New()}
	if addr := c.RemoteAddr(); addr != nil {
		ch.remote = addr.String()
	}
	return ch
}

// String returns the connection id.
func (ch *Channel) String() string {
	return ch.id.String()
}

// Remote returns the peer address.
func (ch *Channel) Remote() string {
	return ch.remote
}

// IsOpen reports whether the connection has not been closed by either side.
func (ch *Channel) IsOpen() bool {
	return !ch.closed.Load()
}

// Close closes the connection once. It is safe from any goroutine.
func (ch *Channel) Close() error {
	if !ch.closed.CompareAndSwap(false, true) {
		return nil
	}
	return ch.c.Close()
}

// Cancel stops readiness events from reaching the pipeline.
func (ch *Channel) Cancel() {
	ch.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (ch *Channel) Cancelled() bool {
	return ch.cancelled.Load()
}

// AsyncWritev queues bs on the connection's event loop.
func (ch *Channel) AsyncWritev(bs [][]byte, callback gnet.AsyncCallback) error {
	if !ch.IsOpen() {
		return h1.WrapIO(fmt.Errorf("write on closed connection %s", ch))
	}
	return ch.c.AsyncWritev(bs, callback)
}

// reader drains a gnet inbound buffer. It is only called from OnTraffic, on
// the connection's event loop.
type reader struct {
	c gnet.Conn
}

func (r reader) ReadAvailable() ([]byte, error) {
	if r.c.InboundBuffered() == 0 {
		return nil, nil
	}
	buf, err := r.c.Next(-1)
	if err != nil {
		return nil, h1.WrapIO(err)
	}
	// buf aliases gnet's inbound buffer, which is reused once OnTraffic returns.
	return bytes.Clone(buf), nil
}

// NewBindingFactory builds an HTTP/1.1 decoder, response writer and read
// adapter for every new Channel.
func NewBindingFactory(limits h1.Limits, logger *zap.Logger) dispatch.BindingFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(conn dispatch.Conn, _ dispatch.Registration) (*dispatch.Binding, error) {
		ch, ok := conn.(*Channel)
		if !ok {
			return nil, fmt.Errorf("transport: unexpected connection type %T", conn)
		}
		w := h1.NewResponseWriter(ch, logger.With(zap.Stringer("conn", ch)))
		return dispatch.NewBinding(h1.NewDecoder(limits), w, reader{ch.c}), nil
	}
}
