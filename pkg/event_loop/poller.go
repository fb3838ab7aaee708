package eventloop

import (
	"github.com/pingcap/errors"
	"golang.org/x/sys/unix"
)

const initEventListSize = 16

type poller struct {
	// epoll file descriptor
	epollFD int

	// reused by every epoll_wait call, grows when it is filled up
	events []unix.EpollEvent

	// key is fd, value is Channel
	channelMap map[int]Channel

	// reused by every Poll call
	active []Channel
}

// create a new poller, poller contains a epollfd
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Annotate(err, "epoll_create1")
	}

	return &poller{
		epollFD:    epfd,
		events:     make([]unix.EpollEvent, initEventListSize),
		channelMap: make(map[int]Channel),
	}, nil
}

type Poller interface {
	// wait on epoll_wait and returns the active Channels, timeoutMs < 0 blocks infinitely
	Poll(timeoutMs int) ([]Channel, error)

	// UpdateChannel calls epoll_ctl with EPOLL_CTL_ADD or EPOLL_CTL_MOD
	UpdateChannel(Channel) error

	// RemoveChannel removes a fd from epollfd
	RemoveChannel(Channel) error

	// GetChannelCount get current epoll wait fd nums
	GetChannelCount() int

	// Channels returns a snapshot of all registered channels
	Channels() []Channel

	// Close closes the epollfd
	Close() error
}

func (p *poller) Poll(timeoutMs int) ([]Channel, error) {
	n, err := unix.EpollWait(p.epollFD, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Annotate(err, "epoll_wait")
	}

	p.active = p.active[:0]
	for i := 0; i < n; i++ {
		ev := p.events[i]
		ch, ok := p.channelMap[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.SetRevent(toReactorEvent(ev.Events, ch.GetEvent()))
		p.active = append(p.active, ch)
	}

	// all slots were used, there may be more events next time
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}

	return p.active, nil
}

func (p *poller) UpdateChannel(c Channel) error {
	ev := unix.EpollEvent{
		Events: toEpollEvents(c.GetEvent()),
		Fd:     int32(c.GetFD()),
	}

	if c.GetIndex() == indexNew {
		if err := unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_ADD, c.GetFD(), &ev); err != nil {
			return errors.Annotatef(err, "epoll_ctl add fd %d", c.GetFD())
		}
		p.channelMap[c.GetFD()] = c
		c.SetIndex(indexAdded)
		return nil
	}

	if err := unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_MOD, c.GetFD(), &ev); err != nil {
		return errors.Annotatef(err, "epoll_ctl mod fd %d", c.GetFD())
	}
	return nil
}

func (p *poller) RemoveChannel(c Channel) error {
	if c.GetIndex() == indexNew {
		return nil
	}

	delete(p.channelMap, c.GetFD())
	c.SetIndex(indexNew)

	if err := unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_DEL, c.GetFD(), nil); err != nil {
		return errors.Annotatef(err, "epoll_ctl del fd %d", c.GetFD())
	}
	return nil
}

func (p *poller) GetChannelCount() int {
	return len(p.channelMap)
}

func (p *poller) Channels() []Channel {
	chs := make([]Channel, 0, len(p.channelMap))
	for _, c := range p.channelMap {
		chs = append(chs, c)
	}
	return chs
}

func (p *poller) Close() error {
	return unix.Close(p.epollFD)
}

func toEpollEvents(e ReactorEvent) uint32 {
	var events uint32
	if e&ReadableEvent != 0 {
		events |= unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	}
	if e&WritableEvent != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

// EPOLLHUP is reported whatever we subscribed, it is delivered to the callbacks
// we are interested in so that the following read or write sees the failure
func toReactorEvent(events uint32, interest ReactorEvent) ReactorEvent {
	var e ReactorEvent
	if events&unix.EPOLLERR != 0 {
		e |= ErrorEvent
	}
	if events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		e |= ReadableEvent
	}
	if events&unix.EPOLLOUT != 0 {
		e |= WritableEvent
	}
	if events&unix.EPOLLHUP != 0 {
		e |= interest & AllEvent
	}
	return e
}
