package h1

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// Kind classifies decode failures so callers can pick a response without
// matching on error strings.
type Kind uint8

const (
	// KindInternal is any failure not produced by the decoder itself.
	KindInternal Kind = iota
	// KindStreamEnded means the peer went away mid-message.
	KindStreamEnded
	// KindMalformed covers grammar violations in the request line, headers or chunks.
	KindMalformed
	// KindUnsupportedMethod is a well-formed request line with an unknown method.
	KindUnsupportedMethod
	// KindIO is a read or write failure on the underlying connection.
	KindIO
	// KindTooLarge means a configured header or body limit was exceeded.
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindStreamEnded:
		return "stream-ended"
	case KindMalformed:
		return "malformed"
	case KindUnsupportedMethod:
		return "unsupported-method"
	case KindIO:
		return "io"
	case KindTooLarge:
		return "too-large"
	default:
		return "internal"
	}
}

// DecodeError is returned by the decoder and the response writer.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("h1 %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapIO tags err as an I/O failure unless it already carries a kind.
func WrapIO(err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Kind: KindIO, Err: err}
}

// KindOf reports the kind carried by err. End-of-stream and closed-connection
// errors are reported as KindStreamEnded even when they are not wrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return KindStreamEnded
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
