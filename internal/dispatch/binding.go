// Package dispatch turns bytes read from ready connections into complete
// requests. A single scheduling loop drains readiness work items and hands
// them to a bounded worker pool, guaranteeing that at most one worker decodes
// a given connection at a time and that a connection's bytes are decoded in
// the order they were read.
package dispatch

import (
	"fmt"
	"sync/atomic"

	"github.com/albertbausili/sluice/internal/h1"
)

// Conn is the identity of one accepted connection. Implementations must be
// comparable; the pipeline uses the value itself as a map key.
type Conn interface {
	fmt.Stringer
	IsOpen() bool
}

// Registration is the selector registration that delivers readiness events
// for a connection.
type Registration interface {
	// Close closes the underlying connection.
	Close() error
	// Cancel stops further readiness notifications.
	Cancel()
}

// Decoder is the incremental request decoder bound to a connection.
type Decoder interface {
	Decode(b []byte) (h1.Result, error)
	Request() *h1.Request
}

// ResponseWriter writes on the connection a Decoder reads from.
type ResponseWriter interface {
	RenderStatus(code int) error
	Send(b []byte, final bool) error
	WriteResponse(status int, headers [][2]string, body []byte, keepAlive bool) error
}

// Reader pulls the bytes currently available on a ready connection without
// blocking. An empty result is not an error.
type Reader interface {
	ReadAvailable() ([]byte, error)
}

// Binding is the per-connection decoding state retained for the connection's
// lifetime.
type Binding struct {
	Decoder Decoder
	Writer  ResponseWriter
	Reader  Reader

	// stamped counts work items created for this connection.
	stamped atomic.Uint64
	// next is the sequence number the scheduler may dispatch next. Only the
	// scheduling loop touches it.
	next uint64
}

// NewBinding assembles a binding from its parts.
func NewBinding(dec Decoder, w ResponseWriter, r Reader) *Binding {
	return &Binding{Decoder: dec, Writer: w, Reader: r}
}

// BindingFactory creates the binding for a connection seen for the first time.
type BindingFactory func(conn Conn, reg Registration) (*Binding, error)
