package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/albertbausili/sluice/internal/frame"
	"github.com/albertbausili/sluice/internal/h1"
)

const (
	// DefaultPollInterval is how long the scheduling loop waits on an empty queue.
	DefaultPollInterval = 50 * time.Microsecond

	maxBackoff   = time.Millisecond
	closeTimeout = 5 * time.Second
	tracerName   = "github.com/albertbausili/sluice/internal/dispatch"
)

// ErrRunning is returned by Run when the scheduling loop is already running.
var ErrRunning = errors.New("dispatch: scheduling loop already running")

// Config configures a Pipeline.
type Config struct {
	// Workers bounds the decode worker pool (default: GOMAXPROCS-sized by the caller, 1 minimum).
	Workers int
	// PollInterval is the dispatch queue poll timeout (default: DefaultPollInterval).
	PollInterval time.Duration
	// Upgrade answers every completed request with an h2c upgrade handshake.
	Upgrade bool
	// NewBinding creates the binding for a connection on its first work item.
	NewBinding BindingFactory
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Registerer receives the pipeline metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

type workItem struct {
	conn    Conn
	reg     Registration
	binding *Binding
	seq     uint64
	payload []byte
}

// Pipeline is the decode-dispatch core.
type Pipeline struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	frames  *frame.Encoder

	registry *Registry
	guard    *Guard
	work     *Queue[*workItem]
	handoff  *Queue[*Exchange]
	pool     *ants.Pool

	running atomic.Bool
}

// New creates a pipeline and its worker pool. Run must be called to start
// dispatching.
func New(cfg Config) (*Pipeline, error) {
	if cfg.NewBinding == nil {
		return nil, errors.New("dispatch: NewBinding is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pipeline{
		cfg:      cfg,
		logger:   cfg.Logger.Named("dispatch"),
		metrics:  NewMetrics(cfg.Registerer),
		tracer:   otel.Tracer(tracerName),
		frames:   frame.NewEncoder(frame.DefaultStreamID),
		registry: NewRegistry(),
		guard:    NewGuard(),
		work:     NewQueue[*workItem](),
		handoff:  NewQueue[*Exchange](),
	}

	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithDisablePurge(true),
		ants.WithLogger(antsLogger{p.logger.Sugar()}),
		ants.WithPanicHandler(func(v any) {
			p.logger.Error("decode worker panicked", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create decode pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// AddWork is the entry point called by the selector when conn becomes
// readable. It binds the connection on first use, performs one non-blocking
// read and enqueues the bytes for decoding. Read failures are logged and
// dropped; they never close the connection here.
func (p *Pipeline) AddWork(conn Conn, reg Registration) {
	b, created, err := p.registry.LoadOrCreate(conn, func() (*Binding, error) {
		return p.cfg.NewBinding(conn, reg)
	})
	if err != nil {
		p.logger.Error("failed to bind connection", zap.Stringer("conn", conn), zap.Error(err))
		return
	}
	if created {
		p.metrics.bindings.Set(float64(p.registry.Len()))
	}
	if !conn.IsOpen() {
		return
	}

	payload, err := b.Reader.ReadAvailable()
	if err != nil {
		if h1.KindOf(err) != h1.KindStreamEnded {
			p.logger.Warn("read failed", zap.Stringer("conn", conn), zap.Error(err))
		}
		return
	}
	if len(payload) == 0 {
		return
	}
	p.enqueue(conn, reg, b, payload)
}

// enqueue stamps payload with the binding's next sequence number. Empty
// payloads are dropped unstamped.
func (p *Pipeline) enqueue(conn Conn, reg Registration, b *Binding, payload []byte) {
	if len(payload) == 0 {
		return
	}
	p.work.Push(&workItem{
		conn:    conn,
		reg:     reg,
		binding: b,
		seq:     b.stamped.Add(1) - 1,
		payload: payload,
	})
	p.metrics.workItems.Inc()
	p.metrics.queueDepth.Set(float64(p.work.Len()))
}

// Run drives the scheduling loop until ctx is done or the pool is closed.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	p.logger.Debug("scheduling loop started", zap.Int("workers", p.cfg.Workers))
	backoff := p.cfg.PollInterval
	misses := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("scheduling loop stopped")
			return nil
		default:
		}

		it, ok := p.work.Poll(p.cfg.PollInterval)
		if !ok {
			continue
		}
		p.metrics.queueDepth.Set(float64(p.work.Len()))

		dispatched, err := p.dispatch(it)
		if err != nil {
			if errors.Is(err, ants.ErrPoolClosed) {
				p.logger.Debug("decode pool closed, scheduling loop stopped")
				return nil
			}
			p.logger.Error("dispatch failed", zap.Stringer("conn", it.conn), zap.Error(err))
			continue
		}
		if dispatched {
			misses = 0
			backoff = p.cfg.PollInterval
			continue
		}

		// Every queued item was seen once and none could go.
		misses++
		if misses >= p.work.Len() {
			p.pause(ctx, backoff)
			backoff = min(backoff*2, maxBackoff)
			misses = 0
		}
	}
}

// dispatch submits it to the pool, or requeues it when its connection is busy
// or an earlier item for the connection is still queued. An empty item is
// dropped in its turn and counts as dispatched.
func (p *Pipeline) dispatch(it *workItem) (bool, error) {
	if it.seq != it.binding.next {
		p.requeue(it)
		return false, nil
	}
	if len(it.payload) == 0 {
		it.binding.next++
		return true, nil
	}
	if !p.guard.TryAcquire(it.conn) {
		p.requeue(it)
		return false, nil
	}

	if err := p.pool.Submit(func() { p.decode(it) }); err != nil {
		p.guard.Release(it.conn)
		if errors.Is(err, ants.ErrPoolOverload) {
			p.metrics.overloads.Inc()
			p.requeue(it)
			return false, nil
		}
		p.requeue(it)
		return false, err
	}
	it.binding.next++
	p.metrics.guarded.Set(float64(p.guard.Len()))
	return true, nil
}

func (p *Pipeline) requeue(it *workItem) {
	p.work.Push(it)
	p.metrics.requeues.Inc()
}

func (p *Pipeline) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-p.guard.Released():
	case <-timer.C:
	}
}

// Next returns the next decoded exchange, waiting up to timeout.
func (p *Pipeline) Next(timeout time.Duration) (*Exchange, bool) {
	return p.handoff.Poll(timeout)
}

// Forget drops the binding of a connection that closed outside the pipeline.
func (p *Pipeline) Forget(conn Conn) {
	if p.registry.Remove(conn) {
		p.metrics.bindings.Set(float64(p.registry.Len()))
	}
}

// Close stops the worker pool, waiting for in-flight decode tasks.
func (p *Pipeline) Close() error {
	if err := p.pool.ReleaseTimeout(closeTimeout); err != nil && !errors.Is(err, ants.ErrPoolClosed) {
		return fmt.Errorf("release decode pool: %w", err)
	}
	return nil
}

// Bindings returns the number of live decoder bindings.
func (p *Pipeline) Bindings() int {
	return p.registry.Len()
}

// Pending returns the number of queued work items.
func (p *Pipeline) Pending() int {
	return p.work.Len()
}

// Decoding returns the number of connections with a decode task in flight.
func (p *Pipeline) Decoding() int {
	return p.guard.Len()
}

type antsLogger struct {
	sugar *zap.SugaredLogger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}
