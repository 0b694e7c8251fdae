package h1

import (
	"bytes"
)

// maxChunkLineBytes bounds a chunk-size or trailer line that has not yet seen its CRLF.
const maxChunkLineBytes = 4096

// Limits bounds what a single request may occupy. Zero disables a limit.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

// Result is the outcome of one Decode call.
type Result struct {
	// Complete reports that Request() now holds a full message.
	Complete bool
	// Remainder holds bytes past the end of the completed message. The
	// decoder does not keep them; feed them back to continue.
	Remainder []byte
}

type stage uint8

const (
	stageHead stage = iota
	stageBody
	stageChunkSize
	stageChunkData
	stageTrailer
	stageDone
	stageFailed
)

// Decoder incrementally assembles HTTP/1.1 requests from arbitrary byte chunks.
// It is not safe for concurrent use; the dispatch guard provides exclusion.
type Decoder struct {
	limits    Limits
	parser    *Parser
	req       *Request
	buf       []byte
	body      []byte
	chunkLeft int64
	stage     stage
	err       error
}

// NewDecoder creates a decoder enforcing limits.
func NewDecoder(limits Limits) *Decoder {
	return &Decoder{
		limits: limits,
		parser: NewParser(),
		req:    &Request{},
	}
}

// Request returns the message being assembled, or the last completed one.
func (d *Decoder) Request() *Request {
	return d.req
}

// Decode feeds b into the decoder. An empty b never changes state.
func (d *Decoder) Decode(b []byte) (Result, error) {
	if len(b) == 0 {
		return Result{}, nil
	}
	if d.stage == stageFailed {
		return Result{}, d.err
	}
	if d.stage == stageDone {
		// Handed-off requests must never be mutated, so start a fresh one.
		d.req = &Request{}
		d.body = nil
		d.stage = stageHead
	}
	d.buf = append(d.buf, b...)

	res, err := d.run()
	if err != nil {
		d.stage = stageFailed
		d.err = err
		d.buf = nil
	}
	return res, err
}

func (d *Decoder) run() (Result, error) {
	for {
		switch d.stage {
		case stageHead:
			ready, err := d.decodeHead()
			if err != nil || !ready {
				return Result{}, err
			}
		case stageBody:
			need := d.req.ContentLength - int64(len(d.body))
			if need > 0 {
				take := int64(len(d.buf))
				if take > need {
					take = need
				}
				d.body = append(d.body, d.buf[:take]...)
				d.buf = d.buf[take:]
			}
			if int64(len(d.body)) < d.req.ContentLength {
				return Result{}, nil
			}
			return d.finish(), nil
		case stageChunkSize:
			line, ok, err := d.nextLine()
			if err != nil || !ok {
				return Result{}, err
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return Result{}, err
			}
			if size == 0 {
				d.stage = stageTrailer
				continue
			}
			if d.limits.MaxBodyBytes > 0 && int64(len(d.body))+size > d.limits.MaxBodyBytes {
				return Result{}, newError(KindTooLarge, "chunked body exceeds %d bytes", d.limits.MaxBodyBytes)
			}
			d.chunkLeft = size
			d.stage = stageChunkData
		case stageChunkData:
			if d.chunkLeft > 0 {
				take := int64(len(d.buf))
				if take > d.chunkLeft {
					take = d.chunkLeft
				}
				d.body = append(d.body, d.buf[:take]...)
				d.buf = d.buf[take:]
				d.chunkLeft -= take
				if d.chunkLeft > 0 {
					return Result{}, nil
				}
			}
			if len(d.buf) < 2 {
				return Result{}, nil
			}
			if !bytes.HasPrefix(d.buf, bCRLF) {
				return Result{}, newError(KindMalformed, "missing CRLF after chunk data")
			}
			d.buf = d.buf[2:]
			d.stage = stageChunkSize
		case stageTrailer:
			line, ok, err := d.nextLine()
			if err != nil || !ok {
				return Result{}, err
			}
			if len(line) == 0 {
				return d.finish(), nil
			}
			if bytes.IndexByte(line, ':') <= 0 {
				return Result{}, newError(KindMalformed, "invalid trailer line")
			}
		default:
			return Result{}, newError(KindMalformed, "decoder in unexpected state %d", d.stage)
		}
	}
}

// decodeHead parses the request line and headers once they are fully buffered.
func (d *Decoder) decodeHead() (bool, error) {
	d.parser.Reset(d.buf)
	d.req.Reset()
	n, err := d.parser.ParseRequest(d.req)
	if err != nil {
		return false, err
	}
	if n == 0 {
		if d.limits.MaxHeaderBytes > 0 && len(d.buf) > d.limits.MaxHeaderBytes {
			return false, newError(KindTooLarge, "request head exceeds %d bytes", d.limits.MaxHeaderBytes)
		}
		return false, nil
	}
	if d.limits.MaxHeaderBytes > 0 && n > d.limits.MaxHeaderBytes {
		return false, newError(KindTooLarge, "request head exceeds %d bytes", d.limits.MaxHeaderBytes)
	}
	d.buf = d.buf[n:]

	switch {
	case d.req.ChunkedEncoding:
		d.stage = stageChunkSize
	case d.req.ContentLength > 0:
		if d.limits.MaxBodyBytes > 0 && d.req.ContentLength > d.limits.MaxBodyBytes {
			return false, newError(KindTooLarge, "content-length %d exceeds %d bytes", d.req.ContentLength, d.limits.MaxBodyBytes)
		}
		d.body = make([]byte, 0, d.req.ContentLength)
		d.stage = stageBody
	default:
		d.req.ContentLength = 0
		d.stage = stageBody
	}
	return true, nil
}

// nextLine pops one CRLF-terminated line from the buffer.
func (d *Decoder) nextLine() ([]byte, bool, error) {
	idx := bytes.Index(d.buf, bCRLF)
	if idx == -1 {
		if len(d.buf) > maxChunkLineBytes {
			return nil, false, newError(KindMalformed, "chunk line exceeds %d bytes", maxChunkLineBytes)
		}
		return nil, false, nil
	}
	line := d.buf[:idx]
	d.buf = d.buf[idx+2:]
	return line, true, nil
}

func (d *Decoder) finish() Result {
	d.req.Body = d.body
	d.req.BodyRead = int64(len(d.body))
	if d.req.ChunkedEncoding {
		d.req.ContentLength = d.req.BodyRead
	}
	d.stage = stageDone

	var rest []byte
	if len(d.buf) > 0 {
		rest = make([]byte, len(d.buf))
		copy(rest, d.buf)
	}
	d.buf = nil
	return Result{Complete: true, Remainder: rest}
}
