package mwreactor

import (
	"net/netip"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/markity/mw-reactor/pkg/async_log"
	eventloop "github.com/markity/mw-reactor/pkg/event_loop"
	"github.com/markity/mw-reactor/pkg/metrics"
	"github.com/markity/mw-reactor/pkg/uuid"
)

type newHandleCallback func(h *Handle)

type acceptFunc func(fd int) (nfd int, sa unix.Sockaddr, err error)

func accept4(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

type tcpAcceptor struct {
	// mu protects loop, listening and closed
	mu        sync.Mutex
	loop      eventloop.EventLoop
	listening bool
	closed    bool
	// closed once the listening fd is closed
	closedCh chan struct{}

	// bound address, the port is resolved when listening on port 0
	listenAddr netip.AddrPort

	// listen socket fd channel
	socketChannel eventloop.Channel

	// reserved descriptor, released to shed connections when the process runs out of fds
	idleFD int

	newHandleCallback newHandleCallback

	// replaced in tests to inject accept errors
	accept acceptFunc

	idGen   uuid.Generator
	logger  async_log.Logger
	metrics *metrics.Metrics
}

// newTCPAcceptor creates a non-blocking listening socket bound to listenAddr
func newTCPAcceptor(listenAddr netip.AddrPort, opts *options) (*tcpAcceptor, error) {
	sa, family := addrPortToSockaddr(listenAddr)

	socketFD, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Annotatef(ErrListenFailed.GenWithStackByArgs(listenAddr), "socket: %v", err)
	}

	fail := func(op string, err error) (*tcpAcceptor, error) {
		_ = unix.Close(socketFD)
		return nil, errors.Annotatef(ErrListenFailed.GenWithStackByArgs(listenAddr), "%s: %v", op, err)
	}

	if err := unix.SetsockoptInt(socketFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(socketFD, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(socketFD, opts.backlog); err != nil {
		return fail("listen", err)
	}

	bound, err := unix.Getsockname(socketFD)
	if err != nil {
		return fail("getsockname", err)
	}
	resolved, _, _ := sockaddrToAddrPort(bound)

	idleFD, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		idleFD = -1
	}

	acc := &tcpAcceptor{
		listenAddr:        resolved,
		socketChannel:     eventloop.NewChannel(socketFD),
		closedCh:          make(chan struct{}),
		idleFD:            idleFD,
		newHandleCallback: defaultNewHandleCallback,
		accept:            accept4,
		idGen:             opts.idGen,
		logger:            opts.logger,
		metrics:           opts.metrics,
	}
	acc.socketChannel.SetReadCallback(acc.handleRead)
	acc.socketChannel.SetCancelCallback(func(err error) {
		acc.logger.Logf(async_log.DEBUG, "acceptor %s cancelled: %v", acc.listenAddr, err)
		acc.closeInLoop()
	})

	return acc, nil
}

// listen registers the listening socket into loop, it must be called at the loop goroutine
func (ac *tcpAcceptor) listen(loop eventloop.EventLoop) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.closed {
		return ErrServerClosed.GenWithStackByArgs()
	}
	if ac.listening {
		panic("already listening")
	}

	ac.socketChannel.EnableRead()
	if err := loop.UpdateChannelInLoopGoroutine(ac.socketChannel); err != nil {
		return errors.Trace(err)
	}
	ac.loop = loop
	ac.listening = true
	return nil
}

// handleRead accepts until the backlog is drained, each connection is handed to
// newHandleCallback without waiting
func (ac *tcpAcceptor) handleRead() {
	for {
		nfd, sa, err := ac.accept(ac.socketChannel.GetFD())
		if err != nil {
			switch err {
			case unix.EAGAIN:
			case unix.EINTR, unix.ECONNABORTED:
				// the next readiness retries
				ac.logger.Logf(async_log.DEBUG, "acceptor %s: accept: %v", ac.listenAddr, err)
			case unix.EMFILE, unix.ENFILE:
				ac.metrics.AcceptErrors.Inc()
				ac.logger.Logf(async_log.ERROR, "acceptor %s: accept: %v, shedding one connection",
					ac.listenAddr, err)
				ac.shedConnection()
			default:
				ac.metrics.AcceptErrors.Inc()
				ac.logger.Logf(async_log.ERROR, "acceptor %s: accept: %v", ac.listenAddr, err)
			}
			return
		}

		peer, family, ok := sockaddrToAddrPort(sa)
		if !ok {
			family = ac.family()
		}
		ac.metrics.Accepted.Inc()
		h := newHandle(nfd, family, peer, ac.idGen.NewString())
		ac.logger.Logf(async_log.DEBUG, "acceptor %s: accepted session %s from %s, fd %d", ac.listenAddr, h.ID(), peer, nfd)
		ac.newHandleCallback(h)
	}
}

func (ac *tcpAcceptor) family() int {
	_, family := addrPortToSockaddr(ac.listenAddr)
	return family
}

// shedConnection frees the reserved descriptor to accept and drop one pending
// connection, so that the level triggered readiness does not spin
func (ac *tcpAcceptor) shedConnection() {
	if ac.idleFD < 0 {
		return
	}

	_ = unix.Close(ac.idleFD)
	if nfd, _, err := ac.accept(ac.socketChannel.GetFD()); err == nil {
		_ = unix.Close(nfd)
	}
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		fd = -1
	}
	ac.idleFD = fd
}

func (ac *tcpAcceptor) setNewHandleCallback(cb newHandleCallback) {
	ac.newHandleCallback = cb
}

// Close closes the listening socket, no connection is accepted afterwards. It can be
// called at any goroutine and returns after the socket is closed
func (ac *tcpAcceptor) Close() error {
	ac.mu.Lock()
	loop := ac.loop
	listening := ac.listening
	ac.mu.Unlock()

	if !listening || loop.IsInLoopGoroutine() {
		return ac.closeInLoop()
	}

	if err := loop.RunInLoop(func() { _ = ac.closeInLoop() }); err != nil {
		// the loop has unwound, the cancel callback closed the socket
		ac.logger.Logf(async_log.DEBUG, "acceptor %s: %v", ac.listenAddr, err)
	}
	<-ac.closedCh
	return nil
}

// closeInLoop must be called at the loop goroutine once the acceptor is listening
func (ac *tcpAcceptor) closeInLoop() error {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.closed {
		return nil
	}
	ac.closed = true

	var err error
	if ac.listening {
		err = ac.loop.RemoveChannelInLoopGoroutine(ac.socketChannel)
	}
	err = multierr.Append(err, unix.Close(ac.socketChannel.GetFD()))
	if ac.idleFD >= 0 {
		err = multierr.Append(err, unix.Close(ac.idleFD))
		ac.idleFD = -1
	}
	close(ac.closedCh)

	ac.logger.Logf(async_log.INFO, "acceptor %s closed", ac.listenAddr)
	return err
}

func (ac *tcpAcceptor) Addr() netip.AddrPort {
	return ac.listenAddr
}

func defaultNewHandleCallback(h *Handle) {
	_ = h.Close()
}
