package mwreactor

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/markity/mw-reactor/pkg/async_log"
	eventloop "github.com/markity/mw-reactor/pkg/event_loop"
	"github.com/markity/mw-reactor/pkg/metrics"
)

// WorkerIDContextKey is the loop context key holding the id of the owning worker
const WorkerIDContextKey = "worker_id"

// WorkerIDOf reports the id of the worker driving loop, false if loop is not a worker loop
func WorkerIDOf(loop eventloop.EventLoop) (int, bool) {
	return loop.Context().GetInt(WorkerIDContextKey)
}

// Worker owns one event loop and the goroutine driving it. Sessions admitted to a
// worker live on its loop until they close
type Worker struct {
	id   int
	opts *options

	// written by the worker goroutine before start returns, readonly afterwards
	loop    eventloop.EventLoop
	release func()

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	// advisory, updated at the loop goroutine
	active atomic.Int64

	// sessions owned by this worker, only touched at the loop goroutine
	sessions map[*session]struct{}

	logger  async_log.Logger
	metrics *metrics.Metrics
	label   string
}

func newWorker(id int, opts *options) *Worker {
	return &Worker{
		id:       id,
		opts:     opts,
		done:     make(chan struct{}),
		sessions: make(map[*session]struct{}),
		logger:   opts.logger,
		metrics:  opts.metrics,
		label:    strconv.Itoa(id),
	}
}

// start spawns the worker goroutine, the loop is created there so that only that
// goroutine can drive it. Loop creation errors are returned
func (w *Worker) start() error {
	if !w.started.CompareAndSwap(false, true) {
		panic("worker already started")
	}

	c := make(chan error, 1)
	go func() {
		defer close(w.done)

		loop, err := eventloop.NewEventLoop()
		if err != nil {
			c <- err
			return
		}

		w.loop = loop
		loop.SetContext(WorkerIDContextKey, w.id)
		w.release = loop.KeepAlive()
		if w.opts.idleTimeout > 0 {
			loop.RunAfter(w.opts.idleTimeout, w.opts.idleTimeout, w.closeIdleSessions)
		}
		c <- nil

		w.logger.Logf(async_log.INFO, "worker %d started, loop %d", w.id, loop.GetID())
		if err := loop.Loop(); err != nil {
			w.logger.Logf(async_log.ERROR, "worker %d: loop exited with error: %v", w.id, err)
		}
		w.logger.Logf(async_log.INFO, "worker %d stopped", w.id)
	}()

	return <-c
}

// Stop releases the keep-alive guard and stops the loop, sessions still open are
// cancelled and closed at the loop goroutine. It can be called at any goroutine
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		// loop is nil if start was never called or failed
		if w.loop == nil {
			return
		}
		w.release()
		w.loop.Stop()
	})
}

// Done is closed when the worker goroutine returned
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) join() {
	<-w.done
}

func (w *Worker) ID() int {
	return w.id
}

// ActiveSessions is the number of sessions the worker currently owns, it is advisory
func (w *Worker) ActiveSessions() int64 {
	return w.active.Load()
}

// Admit takes ownership of h and starts echoing on it at the worker loop. Any failure
// is logged and h is closed, Admit never blocks on the loop
func (w *Worker) Admit(h *Handle) {
	if !h.Valid() {
		w.logger.Logf(async_log.WARN, "worker %d: %v", w.id, ErrHandleDetached.GenWithStackByArgs())
		w.metrics.AdmitFailures.WithLabelValues("detached").Inc()
		return
	}

	if err := checkHandleFamily(h); err != nil {
		w.reject(h, "family", err)
		return
	}

	if w.loop == nil {
		w.reject(h, "stopped", ErrServerClosed.GenWithStackByArgs())
		return
	}

	if err := w.loop.RunInLoop(func() { w.establish(h) }); err != nil {
		w.reject(h, "stopped", err)
	}
}

// establish runs at the loop goroutine
func (w *Worker) establish(h *Handle) {
	s := newSession(w, h)
	if err := s.start(); err != nil {
		w.metrics.AdmitFailures.WithLabelValues("register").Inc()
		w.logger.Logf(async_log.ERROR, "worker %d: failed to register session %s, fd %d: %v",
			w.id, h.ID(), h.FD(), err)
		s.close()
		return
	}
	w.metrics.Admitted.WithLabelValues(w.label).Inc()
}

func (w *Worker) reject(h *Handle, reason string, err error) {
	w.metrics.AdmitFailures.WithLabelValues(reason).Inc()
	w.logger.Logf(async_log.WARN, "worker %d: rejected session %s, fd %d: %v", w.id, h.ID(), h.FD(), err)
	if cerr := h.Close(); cerr != nil {
		w.logger.Logf(async_log.DEBUG, "worker %d: close fd: %v", w.id, cerr)
	}
}

// closeIdleSessions runs at the loop goroutine every idle timeout
func (w *Worker) closeIdleSessions() {
	now := time.Now()
	for s := range w.sessions {
		if now.Sub(s.lastActive) < w.opts.idleTimeout {
			continue
		}
		w.logger.Logf(async_log.INFO, "worker %d: session %s idle for %v, closing",
			w.id, s.handle.ID(), now.Sub(s.lastActive).Truncate(time.Millisecond))
		w.metrics.IdleClosed.Inc()
		s.close()
	}
}

func (w *Worker) emit(kind SessionEventKind, s *session, n int) {
	w.opts.sessionEventCallback(SessionEvent{
		Kind:      kind,
		WorkerID:  w.id,
		SessionID: s.handle.ID(),
		FD:        s.handle.FD(),
		Peer:      s.handle.Peer(),
		Bytes:     n,
	})
}

// checkHandleFamily verifies that the descriptor is a socket of the family recorded
// in the handle
func checkHandleFamily(h *Handle) error {
	sa, err := unix.Getsockname(h.FD())
	if err != nil {
		return err
	}
	if f := sockaddrFamily(sa); f != h.Family() {
		return ErrFamilyMismatch.GenWithStackByArgs(h.Family(), f)
	}
	return nil
}
