package mwreactor

import (
	"context"
	"net/netip"
	"runtime"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/markity/mw-reactor/pkg/async_log"
	eventloop "github.com/markity/mw-reactor/pkg/event_loop"
	"github.com/markity/mw-reactor/pkg/metrics"
)

// Server accepts connections on a base loop and places each of them on one of a fixed
// number of workers, round robin. Every worker echoes its sessions on its own loop
type Server struct {
	opts *options

	acceptor *tcpAcceptor
	pool     *workerPool

	// only be used to prevent double run
	running atomic.Bool

	// mu protects baseLoop and stopped
	mu       sync.Mutex
	baseLoop eventloop.EventLoop
	stopped  bool

	stopOnce sync.Once
	done     chan struct{}
}

// NewServer binds and listens on addr, then starts numWorkers workers. A numWorkers of
// 0 means twice the number of cpus. Nothing is left running when an error is returned
func NewServer(addr string, numWorkers int, opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMetrics(nil)
	}

	listenAt, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, errors.Annotate(ErrInvalidListenAddr.GenWithStackByArgs(addr), err.Error())
	}

	if numWorkers < 0 {
		return nil, ErrInvalidWorkerCount.GenWithStackByArgs(numWorkers)
	}
	if numWorkers == 0 {
		numWorkers = 2 * runtime.NumCPU()
		o.logger.Logf(async_log.WARN, "worker count is not set, using %d workers", numWorkers)
	}

	// bind first, so that a busy port fails before any goroutine exists
	acceptor, err := newTCPAcceptor(listenAt, o)
	if err != nil {
		return nil, err
	}

	pool := newWorkerPool(numWorkers, RoundRobin(), o)
	if err := pool.start(); err != nil {
		_ = acceptor.Close()
		return nil, err
	}

	server := &Server{
		opts:     o,
		acceptor: acceptor,
		pool:     pool,
		done:     make(chan struct{}),
	}
	acceptor.setNewHandleCallback(server.onNewHandle)

	o.logger.Logf(async_log.INFO, "server listening on %s with %d workers", acceptor.Addr(), numWorkers)
	return server, nil
}

// onNewHandle runs at the base loop goroutine
func (server *Server) onNewHandle(h *Handle) {
	w := server.pool.getNext()
	w.Admit(h.Detach())
}

// Run drives the base loop at the calling goroutine until the server is stopped,
// cancelling ctx stops the server. Run returns once the shutdown completed
func (server *Server) Run(ctx context.Context) error {
	if !server.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning.GenWithStackByArgs()
	}

	server.mu.Lock()
	if server.stopped {
		server.mu.Unlock()
		return ErrServerClosed.GenWithStackByArgs()
	}
	loop, err := eventloop.NewEventLoop()
	if err != nil {
		server.mu.Unlock()
		server.Stop()
		return errors.Trace(err)
	}
	server.baseLoop = loop
	server.mu.Unlock()

	if err := server.acceptor.listen(loop); err != nil {
		// release the fds of the loop
		loop.Stop()
		_ = loop.Loop()
		server.Stop()
		if ErrServerClosed.Equal(err) {
			return nil
		}
		return err
	}

	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			server.Stop()
		case <-runDone:
		}
	}()

	server.opts.logger.Logf(async_log.INFO, "server running, base loop %d", loop.GetID())
	err = loop.Loop()
	if err != nil {
		server.opts.logger.Logf(async_log.ERROR, "base loop exited with error: %v", err)
	}

	server.Stop()
	<-server.done
	return err
}

// Stop closes the listening socket, stops every worker and waits for them, then stops
// the base loop. It is idempotent. Called at one of the server loops, it returns at once
// and the shutdown continues on another goroutine, see Done
func (server *Server) Stop() {
	if server.inOwnLoop() {
		go server.stop()
		return
	}
	server.stop()
}

func (server *Server) stop() {
	server.stopOnce.Do(func() {
		server.mu.Lock()
		server.stopped = true
		loop := server.baseLoop
		server.mu.Unlock()

		if err := server.acceptor.Close(); err != nil {
			server.opts.logger.Logf(async_log.WARN, "close acceptor: %v", err)
		}

		server.pool.stop()
		server.pool.join()

		if loop != nil {
			loop.Stop()
		}

		server.opts.logger.Logf(async_log.INFO, "server on %s stopped", server.acceptor.Addr())
		close(server.done)
	})
}

func (server *Server) inOwnLoop() bool {
	server.mu.Lock()
	loop := server.baseLoop
	server.mu.Unlock()

	if loop != nil && loop.IsInLoopGoroutine() {
		return true
	}
	for _, w := range server.pool.workers {
		if w.loop != nil && w.loop.IsInLoopGoroutine() {
			return true
		}
	}
	return false
}

// Done is closed once Stop completed
func (server *Server) Done() <-chan struct{} {
	return server.done
}

// Addr is the bound address, with the port resolved
func (server *Server) Addr() netip.AddrPort {
	return server.acceptor.Addr()
}

// Workers returns the workers in placement order
func (server *Server) Workers() []*Worker {
	workers := make([]*Worker, len(server.pool.workers))
	copy(workers, server.pool.workers)
	return workers
}
