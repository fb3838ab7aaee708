package async_log

import (
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	defaultBufferSize       = 4 << 20
	defaultBackupBufferNums = 2
	defaultFlushInterval    = 3 * time.Second
)

// asyncWriter is a double buffered zapcore.WriteSyncer. Writers only append into the
// current buffer, a background goroutine swaps full buffers out and writes them into
// out, so a slow disk never blocks a loop goroutine
type asyncWriter struct {
	mu sync.Mutex

	currentBuffer *buffer
	backupBuffers []*buffer
	fullBuffers   []*buffer
	closed        bool

	// readonly variables, can share without lock
	out              io.Writer
	bufferSize       int
	backupBufferNums int
	flushInterval    time.Duration

	flushCh chan struct{}
	syncCh  chan chan struct{}
	closeCh chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

func newAsyncWriter(out io.Writer, backupBufferNums int, bufferSize int, flushInterval time.Duration) *asyncWriter {
	if backupBufferNums <= 0 {
		backupBufferNums = defaultBackupBufferNums
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	backup := make([]*buffer, 0, backupBufferNums)
	for i := 0; i < backupBufferNums; i++ {
		backup = append(backup, newLogBuffer(bufferSize))
	}

	w := &asyncWriter{
		currentBuffer:    newLogBuffer(bufferSize),
		backupBuffers:    backup,
		out:              out,
		bufferSize:       bufferSize,
		backupBufferNums: backupBufferNums,
		flushInterval:    flushInterval,
		flushCh:          make(chan struct{}, 1),
		syncCh:           make(chan chan struct{}),
		closeCh:          make(chan struct{}),
		done:             make(chan struct{}),
	}

	go w.run()
	return w
}

func (w *asyncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.out.Write(p)
	}

	if w.currentBuffer.Append(p) {
		return len(p), nil
	}

	w.fullBuffers = append(w.fullBuffers, w.currentBuffer)
	w.currentBuffer = w.takeBuffer(len(p))
	w.currentBuffer.Append(p)

	select {
	case w.flushCh <- struct{}{}:
	default:
	}
	return len(p), nil
}

// takeBuffer must be called with w.mu held
func (w *asyncWriter) takeBuffer(least int) *buffer {
	if least <= w.bufferSize && len(w.backupBuffers) != 0 {
		b := w.backupBuffers[len(w.backupBuffers)-1]
		w.backupBuffers = w.backupBuffers[:len(w.backupBuffers)-1]
		return b
	}
	if least > w.bufferSize {
		return newLogBuffer(least)
	}
	return newLogBuffer(w.bufferSize)
}

// Sync blocks until everything written before the call reached out
func (w *asyncWriter) Sync() error {
	ack := make(chan struct{})
	select {
	case w.syncCh <- ack:
	case <-w.done:
		return nil
	}

	select {
	case <-ack:
	case <-w.done:
	}
	return nil
}

// Close flushes pending buffers and stops the background goroutine, out is closed
// if it is an io.Closer. Entries written while closing still reach out
func (w *asyncWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		<-w.done

		// writes that raced with the final flush of run are still buffered
		w.mu.Lock()
		w.closed = true
		err = w.writeOut(w.takePending())
		w.mu.Unlock()

		if c, ok := w.out.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	})
	return err
}

// Metrics reports the number of idle and pending buffers
func (w *asyncWriter) Metrics() (backup int, full int) {
	w.mu.Lock()
	backup = len(w.backupBuffers)
	full = len(w.fullBuffers)
	w.mu.Unlock()
	return
}

func (w *asyncWriter) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		var ack chan struct{}
		select {
		case <-w.flushCh:
		case <-ticker.C:
		case ack = <-w.syncCh:
		case <-w.closeCh:
			_ = w.flush()
			return
		}

		_ = w.flush()
		if ack != nil {
			close(ack)
		}
	}
}

func (w *asyncWriter) flush() error {
	w.mu.Lock()
	tobeWritten := w.takePending()
	w.mu.Unlock()

	err := w.writeOut(tobeWritten)

	w.mu.Lock()
	w.recycle(tobeWritten)
	w.mu.Unlock()
	return err
}

// takePending must be called with w.mu held
func (w *asyncWriter) takePending() []*buffer {
	if !w.currentBuffer.Empty() {
		w.fullBuffers = append(w.fullBuffers, w.currentBuffer)
		w.currentBuffer = w.takeBuffer(0)
	}
	pending := w.fullBuffers
	w.fullBuffers = nil
	return pending
}

func (w *asyncWriter) writeOut(bufs []*buffer) error {
	var err error
	for _, v := range bufs {
		_, werr := w.out.Write(v.data)
		err = multierr.Append(err, werr)
		v.Reset()
	}
	return err
}

// recycle must be called with w.mu held
func (w *asyncWriter) recycle(bufs []*buffer) {
	for _, v := range bufs {
		// oversized buffers and extra ones are left to the gc
		if cap(v.data) == w.bufferSize && len(w.backupBuffers) < w.backupBufferNums {
			w.backupBuffers = append(w.backupBuffers, v)
		}
	}
}
