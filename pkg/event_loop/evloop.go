package eventloop

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	kvcontext "github.com/markity/mw-reactor/pkg/context"
)

var idGen atomic.Int64

type eventloop struct {
	// Poller is epoll poller
	poller Poller

	// eventfd, be used to wake up epoll_wait syscall
	wakeupEventChannel Channel

	// be used to manage timers, timerQueue contains a timerfd
	timerQueue *timerQueue

	// mu is used to protect functors and closed
	mu       sync.Mutex
	functors *queue.Queue
	// set once Loop starts unwinding, no functor can be queued after that
	closed bool

	// started is set by the first Loop call, a loop can only be driven once
	started atomic.Bool
	// running is set while Loop is executing
	running atomic.Bool
	// stopping is set by Stop, Loop returns after the current iteration
	stopping atomic.Bool

	// number of keep-alive guards held, Loop does not exit for being idle while it is positive
	keepAlive atomic.Int64

	// gid is goroutine id, be set when NewEventLoop
	gid int64

	id int

	ctx kvcontext.KVContext

	doOnLoop func(EventLoop)

	// closed after Loop returns and all fds owned by the loop are closed
	done chan struct{}
}

// create an EventLoop, it's Loop function can be only triggered
// at the goroutine which creates the eventloop
func NewEventLoop() (EventLoop, error) {
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}

	// the eventfd is used to wake up epoll_wait, for example, when a loop.RunInLoop(f)
	// is called, but now the loop goroutine is waiting on the epoll_wait() syscall, we
	// need to notify that there is a functor to call
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, multierr.Append(errors.Annotate(err, "eventfd"), p.Close())
	}

	c := NewChannel(efd)
	c.SetEvent(ReadableEvent)
	c.SetReadCallback(func() {
		var buf [8]byte
		// EAGAIN means someone else consumed it, nothing to do
		_, _ = unix.Read(efd, buf[:])
	})

	tq, err := newTimerQueue()
	if err != nil {
		return nil, multierr.Combine(err, unix.Close(efd), p.Close())
	}

	ev := &eventloop{
		poller:             p,
		wakeupEventChannel: c,
		timerQueue:         tq,
		functors:           queue.New(),
		gid:                currentGoroutine(),
		id:                 int(idGen.Inc()),
		ctx:                kvcontext.NewContext(),
		done:               make(chan struct{}),
	}

	// register the internal channels into epoll
	err = multierr.Append(p.UpdateChannel(c), p.UpdateChannel(tq.timerChannel))
	if err != nil {
		return nil, multierr.Combine(err, tq.close(), unix.Close(efd), p.Close())
	}

	return ev, nil
}

// EventLoop interface describe the functions designed for the users
type EventLoop interface {
	// Loop blocks until Stop() is called, or there is nothing left to do: no channel,
	// no timer, no pending functor and no keep-alive guard. When it returns every
	// channel still registered has been cancelled and the loop's own fds are closed
	Loop() error

	// run f in loop goroutine, if the caller is the loop goroutine f is called right now,
	// or else f is queued. returns ErrEventLoopClosed if the loop has unwound
	RunInLoop(f func()) error

	// always queue f, it will be called latter in loop goroutine
	QueueInLoop(f func()) error

	// stop eventloop and make Loop() return, it is idempotent and can be called at any goroutine
	Stop()

	// KeepAlive prevents Loop from returning while idle, call the returned function to release it
	KeepAlive() (release func())

	// RunAt, RunAfter, CancelTimer and GetChannelCount answer right away at the loop
	// goroutine. Any other goroutine queues the request and waits for the loop to run
	// it, so calling them before Loop starts blocks until it does, and forever if the
	// loop is never driven. Use RunInLoop to stay asynchronous

	// create a timer, it will be triggered at specified timepoint, and then every interval
	// if interval is not 0. returns -1 if the loop is closed
	RunAt(triggerAt time.Time, interval time.Duration, f func()) int

	// same as RunAt(time.Now().Add(delay), interval, f)
	RunAfter(delay time.Duration, interval time.Duration, f func()) int

	// cancel a timer, if it is removed successfully, returns true
	// if the timer is already executed or the id is invalid, returns false
	CancelTimer(id int) bool

	// each eventloop has its id, it may be used by users
	GetID() int

	// get current channel count in this loop, internal channels are not counted
	GetChannelCount() int

	// reports whether the caller runs on the goroutine driving Loop
	IsInLoopGoroutine() bool

	// closed when Loop returns
	Done() <-chan struct{}

	// for mw-reactor developers, this is be used to register channel into epollfd

	// when a channel is change, it is necessary to notify epollfd
	UpdateChannelInLoopGoroutine(Channel) error

	// remove a channel from eventloop, the fd will also be remove from epollfd
	RemoveChannelInLoopGoroutine(Channel) error

	// about kv context
	GetContext(key string) (interface{}, bool)
	SetContext(key string, val interface{})
	DeleteContext(key string)
	Context() kvcontext.KVContext

	// be called when start loop
	DoOnLoop(func(EventLoop))
}

func (ev *eventloop) GetContext(key string) (interface{}, bool) {
	return ev.ctx.Get(key)
}

func (ev *eventloop) SetContext(key string, val interface{}) {
	ev.ctx.Set(key, val)
}

func (ev *eventloop) DeleteContext(key string) {
	ev.ctx.Delete(key)
}

func (ev *eventloop) Context() kvcontext.KVContext {
	return ev.ctx
}

// the function can be only triggered at eventloop goroutine
func (ev *eventloop) UpdateChannelInLoopGoroutine(c Channel) error {
	return ev.poller.UpdateChannel(c)
}

// the function can be only triggered at eventloop goroutine
func (ev *eventloop) RemoveChannelInLoopGoroutine(c Channel) error {
	return ev.poller.RemoveChannel(c)
}

func (ev *eventloop) DoOnLoop(f func(EventLoop)) {
	ev.doOnLoop = f
}

func (ev *eventloop) Done() <-chan struct{} {
	return ev.done
}

func (ev *eventloop) Loop() error {
	// check gid, Loop() can be only called at the goroutine which creates it
	if !ev.onOwnerGoroutine() {
		return ErrNotInLoopGoroutine.GenWithStackByArgs(ev.id)
	}

	if !ev.started.CompareAndSwap(false, true) {
		return ErrEventLoopRunning.GenWithStackByArgs(ev.id)
	}
	ev.running.Store(true)
	defer close(ev.done)

	if ev.doOnLoop != nil {
		ev.doOnLoop(ev)
	}

	var err error
	for !ev.stopping.Load() && !ev.idle() {
		// wait epoll_wait returns, and get the active event channels
		channels, pollErr := ev.poller.Poll(-1)
		if pollErr != nil {
			err = pollErr
			break
		}

		// execute functions for each channel
		for _, c := range channels {
			c.HandleEvent()
		}

		ev.doPendingFunctors()
	}

	err = multierr.Append(err, ev.shutdown())
	ev.running.Store(false)
	return err
}

// idle reports there is nothing that could ever wake the loop up again
func (ev *eventloop) idle() bool {
	if ev.keepAlive.Load() > 0 || ev.GetChannelCount() > 0 || ev.timerQueue.Len() > 0 {
		return false
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.functors.Length() == 0
}

// shutdown runs at the loop goroutine after the last iteration
func (ev *eventloop) shutdown() error {
	ev.mu.Lock()
	ev.closed = true
	ev.mu.Unlock()

	// functors queued before closing still run, they may hand over fds
	// which are cancelled right below
	ev.doPendingFunctors()

	var err error
	for _, c := range ev.poller.Channels() {
		if ev.isInternalChannel(c) {
			continue
		}
		c.HandleCancel(ErrEventLoopClosed.GenWithStackByArgs(ev.id))
		// the cancel callback is expected to remove the channel itself
		err = multierr.Append(err, ev.poller.RemoveChannel(c))
	}

	return multierr.Combine(
		err,
		ev.timerQueue.close(),
		unix.Close(ev.wakeupEventChannel.GetFD()),
		ev.poller.Close(),
	)
}

func (ev *eventloop) doPendingFunctors() {
	// get all functors
	ev.mu.Lock()
	f := make([]func(), 0, ev.functors.Length())
	for ev.functors.Length() > 0 {
		f = append(f, ev.functors.Remove().(func()))
	}
	ev.mu.Unlock()

	// execute all functors
	for _, v := range f {
		v()
	}
}

func (ev *eventloop) isInternalChannel(c Channel) bool {
	return c == ev.wakeupEventChannel || c == ev.timerQueue.timerChannel
}

func (ev *eventloop) IsInLoopGoroutine() bool {
	return ev.running.Load() && ev.onOwnerGoroutine()
}

func (ev *eventloop) RunInLoop(f func()) error {
	// if is running and it is in eventloop goroutine, just execute it right now
	if ev.IsInLoopGoroutine() {
		f()
		return nil
	}

	return ev.QueueInLoop(f)
}

func (ev *eventloop) QueueInLoop(f func()) error {
	ev.mu.Lock()
	defer ev.mu.Unlock()

	if ev.closed {
		return ErrEventLoopClosed.GenWithStackByArgs(ev.id)
	}

	ev.functors.Add(f)
	// make sure epoll_wait returns
	ev.wakeup()
	return nil
}

// stop a eventloop
func (ev *eventloop) Stop() {
	ev.stopping.Store(true)

	ev.mu.Lock()
	if !ev.closed {
		ev.wakeup()
	}
	ev.mu.Unlock()
}

func (ev *eventloop) KeepAlive() func() {
	ev.keepAlive.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			if ev.keepAlive.Dec() == 0 {
				ev.mu.Lock()
				if !ev.closed {
					ev.wakeup()
				}
				ev.mu.Unlock()
			}
		})
	}
}

func (ev *eventloop) GetID() int {
	return ev.id
}

func (ev *eventloop) GetChannelCount() int {
	if ev.onOwnerGoroutine() {
		return ev.poller.GetChannelCount() - 2
	}

	c := make(chan int, 1)
	if err := ev.QueueInLoop(func() {
		c <- ev.poller.GetChannelCount() - 2
	}); err != nil {
		return 0
	}
	return <-c
}

// setup a timer, returns its id, it can be cancelled, see CancelTimer(id int)
func (ev *eventloop) RunAt(triggerAt time.Time, interval time.Duration, f func()) int {
	// ev.timerQueue can noly be operated in loop goroutine, we need to use QueueInLoop
	// and get its return value by golang channel
	if ev.onOwnerGoroutine() {
		return ev.timerQueue.AddTimer(triggerAt, interval, f)
	}

	c := make(chan int, 1)
	if err := ev.QueueInLoop(func() {
		c <- ev.timerQueue.AddTimer(triggerAt, interval, f)
	}); err != nil {
		return -1
	}
	return <-c
}

func (ev *eventloop) RunAfter(delay time.Duration, interval time.Duration, f func()) int {
	return ev.RunAt(time.Now().Add(delay), interval, f)
}

// cancel a timer
func (ev *eventloop) CancelTimer(id int) bool {
	if ev.onOwnerGoroutine() {
		return ev.timerQueue.CancelTimer(id)
	}

	c := make(chan bool, 1)
	if err := ev.QueueInLoop(func() {
		c <- ev.timerQueue.CancelTimer(id)
	}); err != nil {
		return false
	}
	return <-c
}

// wakeup writes something into evnetfd, so that epoll_wait can return, ev.mu must be held
func (ev *eventloop) wakeup() {
	one := [8]byte{1}
	// EAGAIN means the counter is about to overflow, the loop is woken up anyway
	_, _ = unix.Write(ev.wakeupEventChannel.GetFD(), one[:])
}
