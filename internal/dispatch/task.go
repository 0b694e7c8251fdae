package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	outcomeSkipped  = "skipped"
	outcomePartial  = "partial"
	outcomeComplete = "complete"
	outcomeFault    = "fault"
)

// decode runs on a pool worker with it.conn already held in the guard set.
func (p *Pipeline) decode(it *workItem) {
	start := time.Now()
	outcome := outcomeSkipped
	_, span := p.tracer.Start(context.Background(), "dispatch.decode",
		trace.WithAttributes(
			attribute.String("sluice.conn", it.conn.String()),
			attribute.Int("sluice.bytes", len(it.payload)),
			attribute.Int64("sluice.seq", int64(it.seq)),
		),
	)
	defer func() {
		p.guard.Release(it.conn)
		p.metrics.guarded.Set(float64(p.guard.Len()))
		p.metrics.decodeTasks.WithLabelValues(outcome).Inc()
		p.metrics.decodeDurations.Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("sluice.outcome", outcome))
		span.End()
	}()

	if !it.conn.IsOpen() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = outcomeFault
			err := fmt.Errorf("decoder panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.fault(it, err)
		}
	}()

	completed, err := p.feed(it)
	if err != nil {
		outcome = outcomeFault
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fault(it, err)
		return
	}
	if completed > 0 {
		outcome = outcomeComplete
	} else {
		outcome = outcomePartial
	}
	span.SetAttributes(attribute.Int("sluice.requests", completed))
}

// feed decodes the item's payload, re-feeding any remainder so pipelined
// requests in one read are all handed off. In upgrade mode it stops after the
// first complete request.
func (p *Pipeline) feed(it *workItem) (int, error) {
	b := it.binding
	buf := it.payload
	completed := 0
	for len(buf) > 0 {
		res, err := b.Decoder.Decode(buf)
		if err != nil {
			return completed, err
		}
		if !res.Complete {
			return completed, nil
		}
		completed++

		if p.cfg.Upgrade {
			p.metrics.requests.WithLabelValues("upgrade").Inc()
			if len(res.Remainder) > 0 {
				p.logger.Debug("dropping bytes after upgrade request",
					zap.Stringer("conn", it.conn), zap.Int("bytes", len(res.Remainder)))
			}
			return completed, p.upgrade(b.Writer)
		}

		p.handoff.Push(newExchange(it.conn, b.Decoder.Request(), b.Writer))
		p.metrics.requests.WithLabelValues("handoff").Inc()
		buf = res.Remainder
	}
	return completed, nil
}
