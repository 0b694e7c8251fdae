package sluice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertbausili/sluice/internal/h1"
)

type stubConn string

func (c stubConn) String() string { return string(c) }
func (c stubConn) IsOpen() bool   { return true }

func exchangeOn(conn stubConn, path string) *Exchange {
	return &Exchange{Conn: conn, Request: &h1.Request{Method: "GET", Path: path}}
}

func TestConnOrderQueuesBehindOwner(t *testing.T) {
	o := newConnOrder()
	first := exchangeOn("a", "/1")

	require.True(t, o.claim(first))
	assert.False(t, o.claim(exchangeOn("a", "/2")))
	assert.False(t, o.claim(exchangeOn("a", "/3")))
	assert.True(t, o.claim(exchangeOn("b", "/x")), "other connections are independent")
	assert.Equal(t, 2, o.busy())

	var paths []string
	for ex, ok := first, true; ok; ex, ok = o.next(stubConn("a")) {
		paths = append(paths, ex.Request.Path)
	}
	assert.Equal(t, []string{"/1", "/2", "/3"}, paths)
	assert.Equal(t, 1, o.busy())
}

func TestConnOrderReleasesWhenDrained(t *testing.T) {
	o := newConnOrder()
	require.True(t, o.claim(exchangeOn("a", "/1")))

	_, ok := o.next(stubConn("a"))
	assert.False(t, ok)
	assert.Zero(t, o.busy())
	assert.True(t, o.claim(exchangeOn("a", "/2")))
}
