package h1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ParseRequest(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		consumed  int
		method    string
		path      string
		keepAlive bool
	}{
		{"simple get", "GET / HTTP/1.1\r\nHost: a\r\n\r\n", 27, "GET", "/", true},
		{"query", "GET /path?query=value HTTP/1.1\r\nHost: a\r\n\r\n", 43, "GET", "/path?query=value", true},
		{"options star", "OPTIONS * HTTP/1.1\r\nHost: a\r\n\r\n", 31, "OPTIONS", "*", true},
		{"connection close", "DELETE /item/123 HTTP/1.1\r\nHost: a\r\nConnection: close\r\n\r\n", 57, "DELETE", "/item/123", false},
		{"incomplete", "GET / HTTP/1.1\r\nHost: a\r\n", 0, "", "", false},
		{"no line end", "GET", 0, "", "", false},
		{"empty", "", 0, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser()
			p.Reset([]byte(tt.input))
			req := &Request{}

			n, err := p.ParseRequest(req)
			require.NoError(t, err)
			assert.Equal(t, tt.consumed, n)
			if n == 0 {
				return
			}
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.path, req.Path)
			assert.Equal(t, tt.keepAlive, req.KeepAlive)
			assert.True(t, req.HeadersComplete)
			assert.Equal(t, 0, p.Remaining())
		})
	}
}

func TestParser_HeaderWhitespace(t *testing.T) {
	p := NewParser()
	p.Reset([]byte("GET / HTTP/1.1\r\nHost:example.com\r\nX-Custom-Header:   value with spaces  \r\n\r\n"))
	req := &Request{}

	_, err := p.ParseRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "example.com", req.Host)
	assert.Equal(t, "value with spaces", req.Header("x-custom-header"))
}

func TestParser_Framing(t *testing.T) {
	tests := []struct {
		name    string
		headers string
		length  int64
		chunked bool
		wantErr bool
	}{
		{"chunked only", "Transfer-Encoding: chunked\r\n", -1, true, false},
		{"repeated equal length", "Content-Length: 4\r\nContent-Length: 4\r\n", 4, false, false},
		{"conflicting length", "Content-Length: 4\r\nContent-Length: 40\r\n", 0, false, true},
		{"length then chunked", "Content-Length: 10\r\nTransfer-Encoding: chunked\r\n", 0, false, true},
		{"chunked then length", "Transfer-Encoding: chunked\r\nContent-Length: 10\r\n", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser()
			p.Reset([]byte("POST / HTTP/1.1\r\nHost: a\r\n" + tt.headers + "\r\n"))
			req := &Request{}

			n, err := p.ParseRequest(req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindMalformed, KindOf(err))
				assert.Zero(t, n)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.chunked, req.ChunkedEncoding)
			assert.Equal(t, tt.length, req.ContentLength)
		})
	}
}

func TestRequest_Reset(t *testing.T) {
	req := &Request{Method: "GET", Path: "/", Headers: [][2]string{{"a", "b"}}, Body: []byte("x"), KeepAlive: true}
	req.Reset()
	assert.Empty(t, req.Method)
	assert.Empty(t, req.Headers)
	assert.Nil(t, req.Body)
	assert.False(t, req.KeepAlive)
}

// FuzzDecoder feeds arbitrary input, split at an arbitrary point, and checks
// the decoder never panics and completes at most as many times as it sees
// request heads.
func FuzzDecoder(f *testing.F) {
	f.Add([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n\r\n"), 5)
	f.Add([]byte("POST /api HTTP/1.1\r\nHost: localhost\r\nContent-Length: 2\r\n\r\nok"), 30)
	f.Add([]byte("PUT /data HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n1\r\na\r\n0\r\n\r\n"), 44)
	f.Add([]byte("INVALID\r\n"), 1)
	f.Add([]byte("\r\n"), 0)
	f.Add([]byte(""), 0)

	f.Fuzz(func(t *testing.T, data []byte, split int) {
		if split < 0 || split > len(data) {
			split = len(data) / 2
		}
		d := NewDecoder(Limits{MaxHeaderBytes: 1 << 12, MaxBodyBytes: 1 << 12})

		pending := [][]byte{data[:split], data[split:]}
		completions := 0
		for len(pending) > 0 {
			chunk := pending[0]
			pending = pending[1:]
			res, err := d.Decode(chunk)
			if err != nil {
				return
			}
			if res.Complete {
				completions++
				req := d.Request()
				if !strings.HasPrefix(req.Version, "HTTP/1.") {
					t.Fatalf("completed request with version %q", req.Version)
				}
				if len(res.Remainder) > 0 {
					pending = append([][]byte{res.Remainder}, pending...)
				}
			}
		}
		if completions > strings.Count(string(data), "\r\n\r\n")+1 {
			t.Fatalf("too many completions: %d", completions)
		}
	})
}
