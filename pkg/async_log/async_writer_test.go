package async_log

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncWriterSyncFlushes(t *testing.T) {
	out := &syncBuffer{}
	w := newAsyncWriter(out, 2, 64, time.Hour)
	defer w.Close()

	_, err := w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.Equal(t, "", out.String())

	require.NoError(t, w.Sync())
	require.Equal(t, "first\nsecond\n", out.String())
}

func TestAsyncWriterFullBufferIsFlushed(t *testing.T) {
	out := &syncBuffer{}
	w := newAsyncWriter(out, 1, 8, time.Hour)
	defer w.Close()

	for i := 0; i < 10; i++ {
		_, err := w.Write([]byte("0123456\n"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "\n") >= 9
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Sync())
	require.Equal(t, strings.Repeat("0123456\n", 10), out.String())

	backup, full := w.Metrics()
	require.Equal(t, 0, full)
	require.LessOrEqual(t, backup, 1)
}

func TestAsyncWriterOversizedEntry(t *testing.T) {
	out := &syncBuffer{}
	w := newAsyncWriter(out, 1, 4, time.Hour)
	defer w.Close()

	line := strings.Repeat("x", 100)
	n, err := w.Write([]byte(line))
	require.NoError(t, err)
	require.Equal(t, 100, n)

	require.NoError(t, w.Sync())
	require.Equal(t, line, out.String())
}

func TestAsyncWriterCloseFlushesAndClosesOutput(t *testing.T) {
	out := &syncBuffer{}
	w := newAsyncWriter(out, 2, 64, time.Hour)

	_, err := w.Write([]byte("pending"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Equal(t, "pending", out.String())
	require.True(t, out.closed)

	// writes after close go straight through
	_, err = w.Write([]byte("!"))
	require.NoError(t, err)
	require.Equal(t, "pending!", out.String())
	require.NoError(t, w.Sync())
}

func TestAsyncWriterPeriodicFlush(t *testing.T) {
	out := &syncBuffer{}
	w := newAsyncWriter(out, 2, 64, 10*time.Millisecond)
	defer w.Close()

	_, err := w.Write([]byte("tick"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return out.String() == "tick"
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncWriterConcurrentWritesAcrossClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		out := &syncBuffer{}
		w := newAsyncWriter(out, 2, 256, time.Hour)

		var written atomic.Int64
		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				line := []byte("entry written around close\n")
				for {
					select {
					case <-stop:
						return
					default:
					}
					// syncBuffer never fails a write
					n, _ := w.Write(line)
					written.Add(int64(n))
				}
			}()
		}

		time.Sleep(time.Millisecond)
		require.NoError(t, w.Close())
		close(stop)
		wg.Wait()

		require.Equal(t, written.Load(), int64(len(out.String())), "round %d", round)
	}
}
