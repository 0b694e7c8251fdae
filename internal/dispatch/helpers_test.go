package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/albertbausili/sluice/internal/h1"
)

type fakeConn struct {
	id     string
	closed atomic.Bool

	decoder Decoder
	writer  *fakeWriter
	reader  *fakeReader
}

func newFakeConn(id string, dec Decoder) *fakeConn {
	return &fakeConn{id: id, decoder: dec, writer: &fakeWriter{}, reader: &fakeReader{}}
}

func (c *fakeConn) String() string { return c.id }
func (c *fakeConn) IsOpen() bool   { return !c.closed.Load() }

type fakeReg struct {
	conn    *fakeConn
	closes  atomic.Int32
	cancels atomic.Int32
}

func (r *fakeReg) Close() error {
	r.closes.Add(1)
	r.conn.closed.Store(true)
	return nil
}

func (r *fakeReg) Cancel() { r.cancels.Add(1) }

type fakeReader struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	reads  int
}

func (r *fakeReader) push(b []byte) {
	r.mu.Lock()
	r.chunks = append(r.chunks, b)
	r.mu.Unlock()
}

func (r *fakeReader) ReadAvailable() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	if len(r.chunks) == 0 {
		return nil, nil
	}
	b := r.chunks[0]
	r.chunks = r.chunks[1:]
	return b, nil
}

type fakeWriter struct {
	mu       sync.Mutex
	statuses []int
	sent     []byte
	finals   int
	sendErr  error
}

func (w *fakeWriter) RenderStatus(code int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statuses = append(w.statuses, code)
	return nil
}

func (w *fakeWriter) Send(b []byte, final bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return w.sendErr
	}
	w.sent = append(w.sent, b...)
	if final {
		w.finals++
	}
	return nil
}

func (w *fakeWriter) WriteResponse(status int, _ [][2]string, _ []byte, _ bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statuses = append(w.statuses, status)
	return nil
}

func (w *fakeWriter) Statuses() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.statuses...)
}

func (w *fakeWriter) Sent() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.sent...)
}

// recordingDecoder never completes a request. It records payloads in call
// order and the maximum number of concurrent Decode calls.
type recordingDecoder struct {
	delay time.Duration
	fail  func(call int) error
	panic func(call int) bool

	active    atomic.Int32
	maxActive atomic.Int32

	mu    sync.Mutex
	calls []string
}

func (d *recordingDecoder) Decode(b []byte) (h1.Result, error) {
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		m := d.maxActive.Load()
		if n <= m || d.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	d.mu.Lock()
	call := len(d.calls)
	d.calls = append(d.calls, string(b))
	d.mu.Unlock()

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.panic != nil && d.panic(call) {
		panic("decoder exploded")
	}
	if d.fail != nil {
		if err := d.fail(call); err != nil {
			return h1.Result{}, err
		}
	}
	return h1.Result{}, nil
}

func (d *recordingDecoder) Request() *h1.Request { return &h1.Request{} }

func (d *recordingDecoder) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func fakeBindings(conn Conn, _ Registration) (*Binding, error) {
	fc := conn.(*fakeConn)
	return NewBinding(fc.decoder, fc.writer, fc.reader), nil
}

// startPipeline runs a pipeline for the duration of the test.
func startPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.NewBinding == nil {
		cfg.NewBinding = fakeBindings
	}
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	p, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, p.Close())
	})
	return p
}

func deliver(p *Pipeline, conn *fakeConn, reg *fakeReg, b []byte) {
	conn.reader.push(b)
	p.AddWork(conn, reg)
}

func newH1Conn(id string, limits h1.Limits) (*fakeConn, *fakeReg) {
	conn := newFakeConn(id, h1.NewDecoder(limits))
	return conn, &fakeReg{conn: conn}
}

var testLimits = h1.Limits{MaxHeaderBytes: 8 << 10, MaxBodyBytes: 1 << 20}
