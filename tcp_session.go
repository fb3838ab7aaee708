package mwreactor

import (
	"time"

	"github.com/pingcap/errors"
	"golang.org/x/sys/unix"

	"github.com/markity/mw-reactor/pkg/async_log"
	"github.com/markity/mw-reactor/pkg/buffer"
	eventloop "github.com/markity/mw-reactor/pkg/event_loop"
)

type SessionState int

const (
	StateReading SessionState = iota
	StateWriting
	StateClosed
)

func (st SessionState) String() string {
	switch st {
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// session echoes one connection. It is created, driven and destroyed at the loop
// goroutine of its worker, the channel registry of that loop keeps it alive
type session struct {
	worker  *Worker
	handle  *Handle
	channel eventloop.Channel
	buf     buffer.Buffer
	state   SessionState

	// set while the channel is known by the poller
	registered bool

	openedAt   time.Time
	lastActive time.Time
}

func newSession(w *Worker, h *Handle) *session {
	s := &session{
		worker:  w,
		handle:  h,
		channel: eventloop.NewChannel(h.FD()),
		buf:     buffer.NewBuffer(w.opts.bufferSize),
		state:   StateReading,
	}
	s.channel.SetReadCallback(s.handleRead)
	s.channel.SetWriteCallback(s.handleWrite)
	s.channel.SetErrorCallback(s.handleError)
	s.channel.SetCancelCallback(s.handleCancel)
	return s
}

// start registers the session into the worker loop with read interest
func (s *session) start() error {
	s.applySocketOptions()

	s.channel.EnableRead()
	if err := s.worker.loop.UpdateChannelInLoopGoroutine(s.channel); err != nil {
		return errors.Trace(err)
	}
	s.registered = true

	s.openedAt = time.Now()
	s.lastActive = s.openedAt
	s.worker.sessions[s] = struct{}{}
	s.worker.active.Inc()
	s.worker.metrics.ActiveSessions.WithLabelValues(s.worker.label).Inc()

	s.worker.logger.Logf(async_log.DEBUG, "worker %d: session %s opened, peer %s, fd %d",
		s.worker.id, s.handle.ID(), s.handle.Peer(), s.handle.FD())
	s.worker.emit(SessionOpened, s, 0)
	return nil
}

func (s *session) applySocketOptions() {
	fd := s.handle.FD()
	if s.worker.opts.noDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			s.worker.logger.Logf(async_log.WARN, "session %s: set TCP_NODELAY: %v", s.handle.ID(), err)
		}
	}
	if s.worker.opts.keepAlive {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			s.worker.logger.Logf(async_log.WARN, "session %s: set SO_KEEPALIVE: %v", s.handle.ID(), err)
		}
	}
}

func (s *session) handleRead() {
	if s.state != StateReading {
		return
	}
	before := s.channel.GetEvent()

	n, err := s.buf.ReadFD(s.handle.FD())
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		// spurious wakeup, readiness is level triggered
		return
	case err != nil:
		s.worker.logger.Logf(async_log.ERROR, "worker %d: session %s read failed: %v",
			s.worker.id, s.handle.ID(), err)
		s.close()
		return
	case n == 0:
		s.worker.logger.Logf(async_log.INFO, "worker %d: session %s closed by peer %s",
			s.worker.id, s.handle.ID(), s.handle.Peer())
		s.close()
		return
	}

	s.lastActive = time.Now()
	s.worker.logger.Logf(async_log.TRACE, "worker %d: session %s read %d bytes", s.worker.id, s.handle.ID(), n)
	s.worker.emit(SessionRead, s, n)

	s.state = StateWriting
	s.channel.DisableRead()
	s.flush()
	s.updateInterest(before)
}

func (s *session) handleWrite() {
	if s.state != StateWriting {
		return
	}
	before := s.channel.GetEvent()

	s.flush()
	s.updateInterest(before)
}

// flush writes what was read, a partial write waits for writability, a complete one
// goes back to reading
func (s *session) flush() {
	n, err := s.buf.WriteFD(s.handle.FD())
	if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		s.worker.logger.Logf(async_log.ERROR, "worker %d: session %s write failed: %v",
			s.worker.id, s.handle.ID(), err)
		s.close()
		return
	}

	if n > 0 {
		s.lastActive = time.Now()
		s.worker.metrics.BytesEchoed.WithLabelValues(s.worker.label).Add(float64(n))
		s.worker.logger.Logf(async_log.TRACE, "worker %d: session %s wrote %d bytes", s.worker.id, s.handle.ID(), n)
		s.worker.emit(SessionWritten, s, n)
	}

	if s.buf.ReadableBytes() > 0 {
		s.channel.EnableWrite()
		return
	}

	s.state = StateReading
	s.channel.DisableWrite()
	s.channel.EnableRead()
}

// updateInterest tells the poller about interest changes made by a callback
func (s *session) updateInterest(before eventloop.ReactorEvent) {
	if s.state == StateClosed || s.channel.GetEvent() == before {
		return
	}

	if err := s.worker.loop.UpdateChannelInLoopGoroutine(s.channel); err != nil {
		s.worker.logger.Logf(async_log.ERROR, "worker %d: session %s update interest: %v",
			s.worker.id, s.handle.ID(), err)
		s.close()
	}
}

func (s *session) handleError(err error) {
	s.worker.logger.Logf(async_log.ERROR, "worker %d: session %s socket error: %v",
		s.worker.id, s.handle.ID(), err)
	s.close()
}

// handleCancel is called when the loop unwinds with the session still registered
func (s *session) handleCancel(err error) {
	s.worker.logger.Logf(async_log.DEBUG, "worker %d: session %s cancelled: %v",
		s.worker.id, s.handle.ID(), err)
	s.close()
}

// close tears the session down, the descriptor is closed exactly once
func (s *session) close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed

	// observers see the fd before it can be reused
	s.worker.emit(SessionClosed, s, 0)

	if s.registered {
		if err := s.worker.loop.RemoveChannelInLoopGoroutine(s.channel); err != nil {
			s.worker.logger.Logf(async_log.WARN, "worker %d: session %s remove channel: %v",
				s.worker.id, s.handle.ID(), err)
		}
		s.registered = false

		delete(s.worker.sessions, s)
		s.worker.active.Dec()
		s.worker.metrics.ActiveSessions.WithLabelValues(s.worker.label).Dec()
		s.worker.metrics.SessionDuration.Observe(time.Since(s.openedAt).Seconds())
	}

	if err := s.handle.Close(); err != nil {
		s.worker.logger.Logf(async_log.WARN, "worker %d: session %s close fd: %v",
			s.worker.id, s.handle.ID(), err)
	}
}
