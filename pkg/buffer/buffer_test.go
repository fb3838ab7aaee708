package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestBufferAppendIsBounded(t *testing.T) {
	buf := NewBuffer(8)
	require.Equal(t, 8, buf.Capacity())

	require.Equal(t, 5, buf.Append([]byte("hello")))
	require.Equal(t, 3, buf.Append([]byte("world")))
	require.Equal(t, "hellowor", string(buf.Peek()))

	buf.Retrieve(5)
	require.Equal(t, "wor", string(buf.Peek()))

	// retrieved space at the front is reused
	require.Equal(t, 2, buf.Append([]byte("ld")))
	require.Equal(t, "world", buf.RetrieveAsString())
	require.Equal(t, 0, buf.ReadableBytes())
	require.Equal(t, 8, buf.WritableBytes())
}

func TestBufferDefaultCapacity(t *testing.T) {
	require.Equal(t, DefaultCapacity, NewBuffer(0).Capacity())
}

func TestBufferRetrieveTooMany(t *testing.T) {
	buf := NewBuffer(4)
	buf.Append([]byte("ab"))
	require.Panics(t, func() { buf.Retrieve(3) })
}

func TestBufferReadFDReadsAtMostCapacity(t *testing.T) {
	r, w := newPipe(t)

	payload := bytes.Repeat([]byte("x"), 3000)
	n, err := unix.Write(w, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := NewBuffer(DefaultCapacity)
	n, err = buf.ReadFD(r)
	require.NoError(t, err)
	require.Equal(t, DefaultCapacity, n)
	require.Equal(t, DefaultCapacity, buf.ReadableBytes())

	// a full buffer refuses to read more
	_, err = buf.ReadFD(r)
	require.ErrorIs(t, err, unix.ENOBUFS)
}

func TestBufferReadFDWouldBlockAndEOF(t *testing.T) {
	r, w := newPipe(t)
	buf := NewBuffer(16)

	_, err := buf.ReadFD(r)
	require.ErrorIs(t, err, unix.EAGAIN)

	require.NoError(t, unix.Close(w))
	n, err := buf.ReadFD(r)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestBufferWriteFD(t *testing.T) {
	r, w := newPipe(t)
	buf := NewBuffer(16)
	buf.Append([]byte("ping"))

	n, err := buf.WriteFD(w)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 0, buf.ReadableBytes())

	// nothing to write is not an error
	n, err = buf.WriteFD(w)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	got := make([]byte, 16)
	n, err = unix.Read(r, got)
	require.NoError(t, err)
	require.Equal(t, "ping", string(got[:n]))
}
