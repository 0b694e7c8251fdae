package dispatch

import (
	"net/http"

	"github.com/bassosimone/errclass"
	"go.uber.org/zap"

	"github.com/albertbausili/sluice/internal/h1"
)

// StatusFor maps a decode failure kind to the status the fault handler renders.
func StatusFor(kind h1.Kind) int {
	switch kind {
	case h1.KindStreamEnded, h1.KindMalformed, h1.KindUnsupportedMethod, h1.KindIO:
		return http.StatusBadRequest
	case h1.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// fault classifies err and tears the connection down. Every kind except a
// stream end carries the in-flight request so its status can be rendered.
func (p *Pipeline) fault(it *workItem, err error) {
	kind := h1.KindOf(err)
	var ex *Exchange
	if kind != h1.KindStreamEnded {
		ex = newExchange(it.conn, it.binding.Decoder.Request(), it.binding.Writer)
	}
	p.handleFault(it.conn, it.reg, ex, StatusFor(kind), kind, err)
}

// handleFault renders status on ex when it exists and its connection is still
// open, cancels ex, then closes and deregisters the connection. The teardown
// runs even if rendering panics.
func (p *Pipeline) handleFault(conn Conn, reg Registration, ex *Exchange, status int, kind h1.Kind, err error) {
	defer func() {
		if cerr := reg.Close(); cerr != nil {
			p.logger.Debug("close after fault", zap.Stringer("conn", conn), zap.Error(cerr))
		}
		reg.Cancel()
		if p.registry.Remove(conn) {
			p.metrics.bindings.Set(float64(p.registry.Len()))
		}
	}()

	p.metrics.fault(status)
	switch kind {
	case h1.KindStreamEnded:
	case h1.KindTooLarge:
		p.logger.Info("request exceeds limit",
			zap.Stringer("conn", conn), zap.Int("status", status), zap.Error(err))
	default:
		p.logger.Error("decode failed",
			zap.Stringer("conn", conn),
			zap.Int("status", status),
			zap.Stringer("kind", kind),
			zap.String("class", errclass.New(err)),
			zap.Error(err),
		)
	}

	if ex == nil {
		return
	}
	if conn.IsOpen() {
		if rerr := ex.Writer.RenderStatus(status); rerr != nil {
			p.logger.Debug("render fault status", zap.Stringer("conn", conn), zap.Error(rerr))
		}
	}
	ex.Cancel()
}
