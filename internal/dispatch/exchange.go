package dispatch

import (
	"context"

	"github.com/albertbausili/sluice/internal/h1"
)

// Exchange pairs a decoded request with the writer for its connection. It is
// what the downstream execution stage receives.
type Exchange struct {
	Request *h1.Request
	Writer  ResponseWriter
	Conn    Conn

	ctx    context.Context
	cancel context.CancelFunc
}

func newExchange(conn Conn, req *h1.Request, w ResponseWriter) *Exchange {
	// Rooted at Background so unfinished exchanges are not retained by a parent.
	ctx, cancel := context.WithCancel(context.Background())
	return &Exchange{
		Request: req,
		Writer:  w,
		Conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is cancelled when the connection is torn down by a fault.
func (e *Exchange) Context() context.Context {
	return e.ctx
}

// Cancel interrupts whoever is handling the exchange.
func (e *Exchange) Cancel() {
	e.cancel()
}

// Respond writes a full response, keeping the connection open when the
// request asked for keep-alive.
func (e *Exchange) Respond(status int, headers [][2]string, body []byte) error {
	keepAlive := e.Request != nil && e.Request.KeepAlive
	return e.Writer.WriteResponse(status, headers, body, keepAlive)
}
