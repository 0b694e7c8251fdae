// Package h1 implements the HTTP/1.1 decode contract consumed by the dispatch
// pipeline: a resumable request decoder and an asynchronous response writer.
package h1

import (
	"bytes"
	"strconv"
	"strings"
)

// Request represents a parsed HTTP/1.1 request.
type Request struct {
	Method  string
	Path    string
	Version string
	// Headers keeps insertion order; names are lower-cased.
	Headers [][2]string
	Host    string
	// Body handling
	ContentLength   int64
	ChunkedEncoding bool
	KeepAlive       bool
	Body            []byte
	// Parsed state
	HeadersComplete bool
	BodyRead        int64
}

// Reset clears the request fields for reuse.
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.Version = ""
	r.Headers = r.Headers[:0]
	r.Host = ""
	r.ContentLength = 0
	r.ChunkedEncoding = false
	r.KeepAlive = false
	r.Body = nil
	r.HeadersComplete = false
	r.BodyRead = 0
}

// Header returns the first value of the named header, matched case-insensitively.
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h[0], name) {
			return h[1]
		}
	}
	return ""
}

var (
	bGET    = []byte("GET")
	bHTTP11 = []byte("HTTP/1.1")
	bRoot   = []byte("/")
	bCRLF   = []byte("\r\n")

	sGET    = "GET"
	sHTTP11 = "HTTP/1.1"
	sRoot   = "/"
)

// supportedMethods lists the request methods the decoder accepts.
var supportedMethods = map[string]struct{}{
	"GET": {}, "HEAD": {}, "POST": {}, "PUT": {}, "DELETE": {},
	"CONNECT": {}, "OPTIONS": {}, "TRACE": {}, "PATCH": {},
}

// Parser provides zero-copy HTTP/1.1 request-head parsing over a byte slice.
type Parser struct {
	buf []byte
	pos int
}

// NewParser creates a new HTTP/1.1 parser.
func NewParser() *Parser {
	return &Parser{}
}

// Reset resets the parser with new buffer data.
func (p *Parser) Reset(buf []byte) {
	p.buf = buf
	p.pos = 0
}

// ParseRequest parses the request line and headers from the buffer.
// Returns the number of bytes consumed, or 0 when more data is needed.
func (p *Parser) ParseRequest(req *Request) (int, error) {
	if p.pos >= len(p.buf) {
		return 0, nil
	}

	complete, err := p.parseRequestLine(req)
	if err != nil {
		return 0, err
	}
	if !complete {
		return 0, nil
	}

	if cap(req.Headers) >= 16 {
		req.Headers = req.Headers[:0]
	} else {
		req.Headers = make([][2]string, 0, 16)
	}
	req.ContentLength = -1
	req.KeepAlive = req.Version == sHTTP11

	complete, err = p.parseHeaders(req)
	if err != nil {
		return 0, err
	}
	if !complete {
		return 0, nil
	}

	if req.Host == "" && req.Version == sHTTP11 {
		return 0, newError(KindMalformed, "missing Host header")
	}
	if req.ChunkedEncoding {
		// Both framings at once is ambiguous between hops.
		if req.ContentLength >= 0 {
			return 0, newError(KindMalformed, "content-length with chunked transfer-encoding")
		}
		req.ContentLength = -1
	}
	return p.pos, nil
}

// parseRequestLine parses METHOD SP PATH SP VERSION CRLF, advancing p.pos.
// Returns complete=false if more data is needed.
func (p *Parser) parseRequestLine(req *Request) (bool, error) {
	lineEnd := bytes.Index(p.buf[p.pos:], bCRLF)
	if lineEnd == -1 {
		return false, nil
	}
	line := p.buf[p.pos : p.pos+lineEnd]
	p.pos += lineEnd + 2

	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return false, newError(KindMalformed, "invalid request line")
	}
	if bytes.Equal(parts[0], bGET) {
		req.Method = sGET
	} else {
		req.Method = string(parts[0])
	}
	if _, ok := supportedMethods[req.Method]; !ok {
		return false, newError(KindUnsupportedMethod, "unsupported method: %q", req.Method)
	}
	if len(parts[1]) == 0 {
		return false, newError(KindMalformed, "empty request target")
	}
	if bytes.Equal(parts[1], bRoot) {
		req.Path = sRoot
	} else {
		req.Path = string(parts[1])
	}
	if bytes.Equal(parts[2], bHTTP11) {
		req.Version = sHTTP11
	} else {
		req.Version = string(parts[2])
	}
	if req.Version != sHTTP11 && req.Version != "HTTP/1.0" {
		return false, newError(KindMalformed, "unsupported HTTP version: %s", req.Version)
	}
	return true, nil
}

// parseHeaders parses headers until CRLF CRLF, advancing p.pos.
// Returns complete=false if more data is needed.
func (p *Parser) parseHeaders(req *Request) (bool, error) {
	for {
		lineEnd := bytes.Index(p.buf[p.pos:], bCRLF)
		if lineEnd == -1 {
			return false, nil
		}
		line := p.buf[p.pos : p.pos+lineEnd]
		p.pos += lineEnd + 2
		if len(line) == 0 {
			req.HeadersComplete = true
			return true, nil
		}
		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx <= 0 {
			return false, newError(KindMalformed, "invalid header line")
		}
		rawName := bytes.TrimSpace(line[:colonIdx])
		rawValue := bytes.TrimSpace(line[colonIdx+1:])
		if err := appendHeader(req, rawName, rawValue); err != nil {
			return false, err
		}
	}
}

// appendHeader records a single header and updates the framing fields it controls.
func appendHeader(req *Request, rawName, rawValue []byte) error {
	var name string
	switch {
	case asciiEqualFold(rawName, "Host"):
		name = "host"
	case asciiEqualFold(rawName, "Content-Length"):
		name = "content-length"
	case asciiEqualFold(rawName, "Transfer-Encoding"):
		name = "transfer-encoding"
	case asciiEqualFold(rawName, "Connection"):
		name = "connection"
	default:
		name = strings.ToLower(string(rawName))
	}
	value := string(rawValue)
	req.Headers = append(req.Headers, [2]string{name, value})
	switch name {
	case "host":
		req.Host = value
	case "content-length":
		cl, ok := parseInt64Bytes(rawValue)
		if !ok {
			return newError(KindMalformed, "invalid content-length: %q", value)
		}
		if req.ContentLength >= 0 && req.ContentLength != cl {
			return newError(KindMalformed, "conflicting content-length: %d and %d", req.ContentLength, cl)
		}
		req.ContentLength = cl
	case "transfer-encoding":
		if asciiContainsFoldBytes(rawValue, "chunked") {
			req.ChunkedEncoding = true
		}
	case "connection":
		if asciiContainsFoldBytes(rawValue, "close") {
			req.KeepAlive = false
		} else if asciiContainsFoldBytes(rawValue, "keep-alive") {
			req.KeepAlive = true
		}
	}
	return nil
}

// asciiEqualFold reports whether b equals s under ASCII case-insensitive comparison
func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		if lower(b[i]) != lower(s[i]) {
			return false
		}
	}
	return true
}

// asciiContainsFoldBytes reports whether b contains sub (ASCII case-insensitive)
func asciiContainsFoldBytes(b []byte, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	m := len(sub)
	if m > len(b) {
		return false
	}
	for i := 0; i <= len(b)-m; i++ {
		match := true
		for j := 0; j < m; j++ {
			if lower(b[i+j]) != lower(sub[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c | 0x20
	}
	return c
}

// parseInt64Bytes parses a base-10 int64 from ASCII bytes, returning ok=false on error
func parseInt64Bytes(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 18 {
		return 0, false
	}
	var n int64
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// parseChunkSize parses a chunk-size line, ignoring chunk extensions after ';'.
func parseChunkSize(line []byte) (int64, error) {
	if semiIdx := bytes.IndexByte(line, ';'); semiIdx != -1 {
		line = line[:semiIdx]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 || len(line) > 15 {
		return 0, newError(KindMalformed, "invalid chunk size")
	}
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || size < 0 {
		return 0, newError(KindMalformed, "invalid chunk size: %q", line)
	}
	return size, nil
}

// Remaining returns the number of unparsed bytes in the buffer.
func (p *Parser) Remaining() int {
	return len(p.buf) - p.pos
}
