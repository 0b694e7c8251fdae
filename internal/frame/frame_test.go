package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestEncoder_Wrap(t *testing.T) {
	enc := NewEncoder(0)

	out, err := enc.Wrap([]byte("test"))
	require.NoError(t, err)
	require.Len(t, out, HeaderLen+4)

	// 24-bit big-endian length prefix
	require.Equal(t, []byte{0, 0, 4}, out[:3])

	fr := http2.NewFramer(nil, bytes.NewReader(out))
	f, err := fr.ReadFrame()
	require.NoError(t, err)

	data, ok := f.(*http2.DataFrame)
	require.True(t, ok, "expected DATA frame, got %T", f)
	require.Equal(t, DefaultStreamID, data.StreamID)
	require.True(t, data.StreamEnded())
	require.Equal(t, "test", string(data.Data()))
}

func TestEncoder_WrapIsRepeatable(t *testing.T) {
	enc := NewEncoder(3)

	first, err := enc.Wrap([]byte("abc"))
	require.NoError(t, err)
	second, err := enc.Wrap([]byte("abc"))
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, byte(3), first[8])
}
