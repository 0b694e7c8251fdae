package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/albertbausili/sluice/internal/dispatch"
	"github.com/albertbausili/sluice/internal/h1"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startStack wires a pipeline and a transport and answers every exchange with
// its request path.
func startStack(t *testing.T, cfg Config) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg.Addr = freeAddr(t)
	cfg.NumEventLoop = 2
	cfg.Logger = logger

	p, err := dispatch.New(dispatch.Config{
		Workers:    4,
		NewBinding: NewBindingFactory(h1.Limits{MaxHeaderBytes: 4096, MaxBodyBytes: 64}, logger),
		Logger:     logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = p.Run(ctx)
	}()
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		for ctx.Err() == nil {
			ex, ok := p.Next(10 * time.Millisecond)
			if !ok {
				continue
			}
			_ = ex.Respond(http.StatusOK, [][2]string{{"content-type", "text/plain"}}, []byte(ex.Request.Path))
		}
	}()

	srv := NewServer(cfg, p)
	require.NoError(t, srv.Start(ctx))

	t.Cleanup(func() {
		assert.NoError(t, srv.Stop(context.Background()))
		cancel()
		<-runDone
		<-serveDone
		assert.NoError(t, p.Close())
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.cfg.Addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestRoundTrip(t *testing.T) {
	srv := startStack(t, Config{})
	conn := dial(t, srv)
	br := bufio.NewReader(conn)

	for _, path := range []string{"/first", "/second"} {
		_, err := io.WriteString(conn, "GET "+path+" HTTP/1.1\r\nHost: localhost\r\n\r\n")
		require.NoError(t, err)

		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, path, string(body))
		assert.NotEmpty(t, resp.Header.Get("Date"))
	}
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, time.Second, time.Millisecond)
}

func TestMalformedRequestGets400AndClose(t *testing.T) {
	srv := startStack(t, Config{})
	conn := dial(t, srv)

	_, err := io.WriteString(conn, "BREW /pot HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, time.Second, time.Millisecond)
}

func TestOversizedBodyGets413(t *testing.T) {
	srv := startStack(t, Config{})
	conn := dial(t, srv)

	_, err := io.WriteString(conn, "POST /upload HTTP/1.1\r\nHost: localhost\r\nContent-Length: 4096\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestConnectionLimitGets503(t *testing.T) {
	srv := startStack(t, Config{MaxConnections: 1})
	first := dial(t, srv)
	_, err := io.WriteString(first, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(first), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	second := dial(t, srv)
	resp, err = http.ReadResponse(bufio.NewReader(second), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.EqualValues(t, 1, srv.ActiveConnections())
}

func TestStopBeforeStart(t *testing.T) {
	srv := NewServer(Config{Addr: freeAddr(t)}, nil)
	assert.ErrorIs(t, srv.Stop(context.Background()), ErrNotStarted)
}

func TestBindingFactoryRejectsForeignConn(t *testing.T) {
	factory := NewBindingFactory(h1.Limits{}, nil)
	_, err := factory(foreignConn{}, nil)
	assert.Error(t, err)
}

type foreignConn struct{}

func (foreignConn) String() string { return "foreign" }
func (foreignConn) IsOpen() bool   { return true }
