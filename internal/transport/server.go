// Package transport is the selector side of the server: a gnet event engine
// that accepts connections, feeds readiness events into the dispatch pipeline
// and forgets connections once they close.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"github.com/albertbausili/sluice/internal/dispatch"
	"github.com/albertbausili/sluice/internal/h1"
)

const stopTimeout = 2 * time.Second

// ErrNotStarted is returned by Stop before the engine has booted.
var ErrNotStarted = errors.New("transport: engine not started")

// Sink receives readiness events. *dispatch.Pipeline implements it.
type Sink interface {
	AddWork(conn dispatch.Conn, reg dispatch.Registration)
	Forget(conn dispatch.Conn)
}

// Config defines the configuration options for the transport.
type Config struct {
	Addr           string
	Multicore      bool
	NumEventLoop   int
	ReusePort      bool
	MaxConnections uint32
	TCPKeepAlive   time.Duration
	ReadBufferCap  int
	WriteBufferCap int
	Logger         *zap.Logger
}

// Server implements gnet.EventHandler.
type Server struct {
	gnet.BuiltinEventEngine

	cfg    Config
	sink   Sink
	logger *zap.Logger

	activeConns atomic.Uint32

	mu      sync.Mutex
	engine  gnet.Engine
	booted  chan struct{}
	stopped chan error
	running bool
}

// NewServer creates a transport that feeds sink.
func NewServer(cfg Config, sink Sink) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NumEventLoop <= 0 {
		cfg.NumEventLoop = runtime.NumCPU()
	}
	return &Server{
		cfg:    cfg,
		sink:   sink,
		logger: cfg.Logger.Named("transport"),
	}
}

// Start runs the gnet engine in the background and returns once it is
// listening, or with the error that stopped it from booting.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("transport: already started")
	}
	s.running = true
	s.booted = make(chan struct{})
	s.stopped = make(chan error, 1)
	booted, stopped := s.booted, s.stopped
	s.mu.Unlock()

	options := []gnet.Option{
		gnet.WithMulticore(s.cfg.Multicore),
		gnet.WithReusePort(s.cfg.ReusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithLockOSThread(false),
		gnet.WithLoadBalancing(gnet.RoundRobin),
		gnet.WithNumEventLoop(s.cfg.NumEventLoop),
		gnet.WithLogger(gnetLogger{s.logger.Sugar()}),
	}
	if s.cfg.TCPKeepAlive > 0 {
		options = append(options, gnet.WithTCPKeepAlive(s.cfg.TCPKeepAlive))
	}
	if s.cfg.ReadBufferCap > 0 {
		options = append(options, gnet.WithReadBufferCap(s.cfg.ReadBufferCap))
	}
	if s.cfg.WriteBufferCap > 0 {
		options = append(options, gnet.WithWriteBufferCap(s.cfg.WriteBufferCap))
	}

	s.logger.Info("starting transport", zap.String("addr", s.cfg.Addr), zap.Bool("multicore", s.cfg.Multicore))
	go func() {
		stopped <- gnet.Run(s, "tcp://"+s.cfg.Addr, options...)
	}()

	select {
	case <-booted:
		return nil
	case err := <-stopped:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err == nil {
			err = errors.New("transport: engine exited before boot")
		}
		return fmt.Errorf("start transport on %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the engine down and waits for gnet.Run to return.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	eng, stopped := s.engine, s.stopped
	s.running = false
	s.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		s.logger.Error("error stopping gnet engine", zap.Error(err))
		return err
	}

	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("gnet engine: %w", err)
		}
	case <-stopCtx.Done():
		return stopCtx.Err()
	}
	s.logger.Info("transport shutdown complete")
	return nil
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() uint32 {
	return s.activeConns.Load()
}

// OnBoot is called when the server is ready to accept connections.
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.mu.Lock()
	s.engine = eng
	close(s.booted)
	s.mu.Unlock()
	s.logger.Info("transport listening", zap.String("addr", s.cfg.Addr))
	return gnet.None
}

// OnOpen binds a Channel to the connection, or answers 503 when the
// connection limit is reached.
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	ch := newChannel(c)
	c.SetContext(ch)

	if limit := s.cfg.MaxConnections; limit > 0 {
		if current := s.activeConns.Load(); current >= limit {
			s.logger.Warn("connection rejected: too many connections",
				zap.String("remote", ch.Remote()), zap.Uint32("active", current), zap.Uint32("limit", limit))
			ch.Cancel()
			if err := h1.NewResponseWriter(ch, s.logger).RenderStatus(http.StatusServiceUnavailable); err != nil {
				return nil, gnet.Close
			}
			return nil, gnet.None
		}
	}

	ch.counted = true
	s.activeConns.Add(1)
	s.logger.Debug("connection opened", zap.Stringer("conn", ch), zap.String("remote", ch.Remote()))
	return nil, gnet.None
}

// OnTraffic hands the readable connection to the sink. The sink reads the
// inbound buffer synchronously.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	ch, ok := c.Context().(*Channel)
	if !ok {
		s.logger.Error("connection has no channel", zap.String("remote", c.RemoteAddr().String()))
		return gnet.Close
	}
	if ch.Cancelled() || !ch.IsOpen() {
		_, _ = c.Discard(-1)
		return gnet.None
	}
	s.sink.AddWork(ch, ch)
	return gnet.None
}

// OnClose marks the channel closed and drops its binding.
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	ch, ok := c.Context().(*Channel)
	if !ok {
		return gnet.None
	}
	ch.closed.Store(true)
	ch.Cancel()
	if !ch.counted {
		return gnet.None
	}
	s.activeConns.Add(^uint32(0))
	s.sink.Forget(ch)

	if err != nil {
		s.logger.Debug("connection closed with error", zap.Stringer("conn", ch), zap.Error(err))
	} else {
		s.logger.Debug("connection closed", zap.Stringer("conn", ch))
	}
	return gnet.None
}

// gnetLogger routes gnet's own logging into zap. Fatalf is demoted so the
// engine can never exit the process.
type gnetLogger struct {
	sugar *zap.SugaredLogger
}

func (l gnetLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l gnetLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l gnetLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l gnetLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }
func (l gnetLogger) Fatalf(format string, args ...any) { l.sugar.Errorf(format, args...) }
