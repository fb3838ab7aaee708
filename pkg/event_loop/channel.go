package eventloop

import (
	"golang.org/x/sys/unix"
)

type ReactorEvent int

const (
	// do not care about anything
	NoneEvent     ReactorEvent = 0
	ReadableEvent ReactorEvent = 0b1
	WritableEvent ReactorEvent = 0b10
	// ErrorEvent is only reported in revents, it can not be subscribed
	ErrorEvent ReactorEvent = 0b100
	AllEvent   ReactorEvent = ReadableEvent | WritableEvent
)

const (
	// the channel is not known by any poller
	indexNew = -1
	// the channel is registered into epollfd
	indexAdded = 1
)

type channel struct {
	//  file descripor, each channel is used only to handle one fd
	fd int

	// events that we are interested, if we want to do something when the fd
	// is readable, we need to set events to ReadableEvent and SetReadCallback
	events ReactorEvent

	// events returned by epoll_wait, filled by poller
	revents ReactorEvent

	// used by poller, if index is indexNew, the poller knows it is a new channel
	index int

	// callbacks
	readCallback   func()
	writeCallback  func()
	errorCallback  func(error)
	cancelCallback func(error)
}

// some setters and getters

func (c *channel) GetEvent() ReactorEvent {
	return c.events
}

func (c *channel) SetEvent(e ReactorEvent) {
	c.events = e & AllEvent
}

func (c *channel) SetRevent(e ReactorEvent) {
	c.revents = e
}

func (c *channel) GetIndex() int {
	return c.index
}

func (c *channel) SetIndex(i int) {
	c.index = i
}

func (c *channel) GetFD() int {
	return c.fd
}

func (c *channel) SetReadCallback(f func()) {
	c.readCallback = f
}

func (c *channel) SetWriteCallback(f func()) {
	c.writeCallback = f
}

func (c *channel) SetErrorCallback(f func(error)) {
	c.errorCallback = f
}

// the cancel callback is called when the loop owning the channel unwinds
// while the channel is still registered
func (c *channel) SetCancelCallback(f func(error)) {
	c.cancelCallback = f
}

func (c *channel) IsWriting() bool {
	return c.events&WritableEvent != 0
}

func (c *channel) IsReading() bool {
	return c.events&ReadableEvent != 0
}

// make events with WritableEvent set, if WritableEvent is already set before the call
// returns false, it is used for better performance, when we call EnableWrite() with
// false returns, we do not need to call eventloop.UpdateChannelInLoopGoroutine, this
// save the cost of the epoll_ctl system call
func (c *channel) EnableWrite() bool {
	if c.events&WritableEvent != 0 {
		return false
	}

	c.events |= WritableEvent
	return true
}

// if WritableEvent is not set before, returns false, the return value is be used to
// save the cost of the epoll_ctl, see EnableWrite comments
func (c *channel) DisableWrite() bool {
	if c.events&WritableEvent == 0 {
		return false
	}

	c.events &= ^WritableEvent
	return true
}

// enable read
func (c *channel) EnableRead() bool {
	if c.events&ReadableEvent != 0 {
		return false
	}

	c.events |= ReadableEvent
	return true
}

// disable read
func (c *channel) DisableRead() bool {
	if c.events&ReadableEvent == 0 {
		return false
	}

	c.events &= ^ReadableEvent
	return true
}

// handle all events for the channel
func (c *channel) HandleEvent() {
	revents := c.revents
	c.revents = 0

	// an earlier callback of the same poll batch removed the channel, its fd may
	// already be closed and reused
	if c.index == indexNew {
		return
	}

	if revents&ErrorEvent != 0 && c.errorCallback != nil {
		c.errorCallback(socketError(c.fd))
		return
	}

	if revents&ReadableEvent != 0 && c.readCallback != nil {
		c.readCallback()
	}

	// the read callback may have removed the channel from its loop
	if c.index == indexNew {
		return
	}

	if revents&WritableEvent != 0 && c.writeCallback != nil {
		c.writeCallback()
	}
}

func (c *channel) HandleCancel(err error) {
	if c.cancelCallback != nil {
		c.cancelCallback(err)
	}
}

// socketError fetches the pending error of a socket, fds which are not sockets
// report the getsockopt error itself
func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return unix.EPIPE
}

// create a new channel
func NewChannel(fd int) Channel {
	return &channel{
		index: indexNew,
		fd:    fd,
	}
}

// Channel is used to manage a fd events, and handle callbacks
type Channel interface {
	GetEvent() ReactorEvent
	SetEvent(ReactorEvent)
	SetRevent(ReactorEvent)

	GetIndex() int
	SetIndex(int)

	GetFD() int

	SetReadCallback(func())
	SetWriteCallback(func())
	SetErrorCallback(func(error))
	SetCancelCallback(func(error))

	HandleEvent()
	HandleCancel(error)

	IsWriting() bool
	IsReading() bool
	EnableWrite() bool
	DisableWrite() bool
	EnableRead() bool
	DisableRead() bool
}
