package sluice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/albertbausili/sluice/internal/date"
	"github.com/albertbausili/sluice/internal/dispatch"
	"github.com/albertbausili/sluice/internal/h1"
	"github.com/albertbausili/sluice/internal/transport"
)

// nextTimeout bounds each wait on the handoff queue so Serve notices ctx.
const nextTimeout = 10 * time.Millisecond

// ErrServerStopped is returned by Start after Stop.
var ErrServerStopped = errors.New("sluice: server stopped")

// Server is an HTTP/1.1 server instance.
type Server struct {
	config     Config
	logger     *zap.Logger
	metrics    *handlerMetrics
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	pipeline  *dispatch.Pipeline
	transport *transport.Server

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	runDone  chan struct{}
	stopDate func()
}

// New creates a new Server with the provided configuration.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger.Named("sluice")

	limits := h1.Limits{MaxHeaderBytes: config.MaxHeaderBytes, MaxBodyBytes: config.MaxBodyBytes}
	pipeline, err := dispatch.New(dispatch.Config{
		Workers:      config.DecodeWorkers,
		PollInterval: config.PollInterval,
		Upgrade:      config.UpgradeH2C,
		NewBinding:   transport.NewBindingFactory(limits, logger.Named("h1")),
		Logger:       logger,
		Registerer:   config.Registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	s := &Server{
		config:     config,
		logger:     logger,
		metrics:    newHandlerMetrics(config.Registerer),
		tracer:     otel.Tracer("sluice"),
		propagator: propagation.TraceContext{},
		pipeline:   pipeline,
	}
	s.transport = transport.NewServer(transport.Config{
		Addr:           config.Addr,
		Multicore:      config.Multicore,
		NumEventLoop:   config.NumEventLoop,
		ReusePort:      config.ReusePort,
		MaxConnections: config.MaxConnections,
		TCPKeepAlive:   config.TCPKeepAlive,
		ReadBufferCap:  config.ReadBufferCap,
		WriteBufferCap: config.WriteBufferCap,
		Logger:         logger,
	}, pipeline)
	return s, nil
}

// NewWithDefaults creates a new Server with default configuration.
func NewWithDefaults() (*Server, error) {
	return New(DefaultConfig())
}

// Start begins accepting connections and decoding requests. Decoded
// exchanges are available through Next or Serve.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServerStopped
	}
	if s.started {
		return errors.New("sluice: server already started")
	}

	s.stopDate = date.Start()
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		if err := s.pipeline.Run(runCtx); err != nil {
			s.logger.Error("scheduling loop exited", zap.Error(err))
		}
	}()

	if err := s.transport.Start(ctx); err != nil {
		cancel()
		<-s.runDone
		s.stopDate()
		return err
	}
	s.started = true
	return nil
}

// Stop closes the listener and all connections, then waits for in-flight
// decode tasks.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.stopped = true

	var errs []error
	if err := s.transport.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	<-s.runDone
	if err := s.pipeline.Close(); err != nil {
		errs = append(errs, err)
	}
	s.stopDate()
	return errors.Join(errs...)
}

// Next returns the next decoded exchange, waiting up to timeout.
func (s *Server) Next(timeout time.Duration) (*Exchange, bool) {
	return s.pipeline.Next(timeout)
}

// Serve runs h on Config.HandlerWorkers goroutines until ctx is done.
// Exchanges of one connection are handled one at a time, in decode order;
// different connections are handled concurrently.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("sluice: handler not set")
	}

	order := newConnOrder()
	claimed := make(chan *Exchange)
	var wg sync.WaitGroup
	for range s.config.HandlerWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ex := range claimed {
				s.drain(h, order, ex)
			}
		}()
	}

	// A single router claims connections so ownership follows handoff order.
	for ctx.Err() == nil {
		ex, ok := s.pipeline.Next(nextTimeout)
		if !ok || !order.claim(ex) {
			continue
		}
		select {
		case claimed <- ex:
		case <-ctx.Done():
			s.abandon(order, ex)
		}
	}
	close(claimed)
	wg.Wait()
	return nil
}

// drain handles ex and then every exchange queued behind it on the same
// connection.
func (s *Server) drain(h Handler, order *connOrder, ex *Exchange) {
	conn := ex.Conn
	for ok := true; ok; ex, ok = order.next(conn) {
		s.handle(h, ex)
	}
}

// abandon cancels an exchange that never reached a worker, along with
// anything queued behind it.
func (s *Server) abandon(order *connOrder, ex *Exchange) {
	conn := ex.Conn
	for ok := true; ok; ex, ok = order.next(conn) {
		s.logger.Debug("exchange abandoned at shutdown", zap.Stringer("conn", conn), zap.String("path", ex.Request.Path))
		ex.Cancel()
	}
}

// ListenAndServe starts the server, serves h until ctx is done and stops.
func (s *Server) ListenAndServe(ctx context.Context, h Handler) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	serveErr := s.Serve(ctx, h)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(serveErr, s.Stop(stopCtx))
}

func (s *Server) handle(h Handler, ex *Exchange) {
	defer ex.Cancel()

	req := ex.Request
	ctx := s.propagator.Extract(ex.Context(), headerCarrier{req})
	ctx, span := s.tracer.Start(ctx, req.Method+" "+req.Path, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.Path),
		attribute.String("http.host", req.Host),
		attribute.Int("http.request_content_length", len(req.Body)),
	)

	start := time.Now()
	s.metrics.inFlight.Inc()
	s.metrics.bodySize.Observe(float64(len(req.Body)))
	outcome := "ok"
	defer func() {
		s.metrics.inFlight.Dec()
		s.metrics.duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
		s.metrics.requests.WithLabelValues(req.Method, outcome).Inc()
	}()

	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			err := fmt.Errorf("handler panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("handler panicked", zap.Stringer("conn", ex.Conn), zap.Any("panic", r))
			_ = ex.Writer.RenderStatus(http.StatusInternalServerError)
		}
	}()

	if err := h.Serve(ctx, ex); err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("handler failed", zap.Stringer("conn", ex.Conn), zap.String("path", req.Path), zap.Error(err))
		if rerr := ex.Writer.RenderStatus(http.StatusInternalServerError); rerr != nil {
			s.logger.Debug("render 500", zap.Error(rerr))
		}
		return
	}
	span.SetStatus(codes.Ok, "")
}
