package sluice

import (
	"context"

	"github.com/albertbausili/sluice/internal/dispatch"
)

// Exchange is a decoded request paired with the writer of its connection.
// Its Context is cancelled when the connection is torn down by a fault.
type Exchange = dispatch.Exchange

// Handler runs application code for one Exchange. A returned error is
// answered with 500 Internal Server Error.
type Handler interface {
	Serve(ctx context.Context, ex *Exchange) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as handlers.
type HandlerFunc func(ctx context.Context, ex *Exchange) error

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}
