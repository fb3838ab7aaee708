package eventloop

import (
	"container/heap"
	"time"

	"github.com/pingcap/errors"
	"golang.org/x/sys/unix"
)

// timer entry
type timerHeapEntry struct {
	// id will be used to cancel timer
	timerId int
	// next trigger timepoint
	TimeStamp time.Time
	// callback function
	onTimer func()
	// if interval is 0, only trigger once
	interval time.Duration
}

// implement container.Heap interface
type timerHeap []timerHeapEntry

func (th *timerHeap) Len() int {
	return len(*th)
}

func (th *timerHeap) Less(i, j int) bool {
	if (*th)[i].TimeStamp.Equal((*th)[j].TimeStamp) {
		return (*th)[i].timerId < (*th)[j].timerId
	}

	return (*th)[i].TimeStamp.Before((*th)[j].TimeStamp)
}

func (th *timerHeap) Swap(i, j int) {
	(*th)[i], (*th)[j] = (*th)[j], (*th)[i]
}

func (th *timerHeap) Push(x interface{}) {
	*th = append(*th, x.(timerHeapEntry))
}

func (th *timerHeap) Pop() interface{} {
	old := *th
	n := len(old)
	x := old[n-1]
	*th = old[0 : n-1]
	return x
}

type timerQueue struct {
	// timerfd's channel
	timerChannel Channel
	// each timer has an unique index, use counter
	timerIdCounter int
	// timer array, but uses container.Heap interface to insert
	heap timerHeap
}

func newTimerQueue() (*timerQueue, error) {
	timerfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, errors.Annotate(err, "timerfd_create")
	}

	ch := NewChannel(timerfd)
	ch.SetEvent(ReadableEvent)
	tq := &timerQueue{
		timerChannel:   ch,
		timerIdCounter: 0,
		heap:           make(timerHeap, 0),
	}
	heap.Init(&tq.heap)

	// read callback consumes content in timerfd and call getExpired() to execute callbakcs
	ch.SetReadCallback(func() {
		var buf [8]byte
		_, _ = unix.Read(timerfd, buf[:])

		for _, v := range tq.getExpired() {
			v.onTimer()
		}
	})

	return tq, nil
}

// create a new timer, returns its id
func (tq *timerQueue) AddTimer(triggerAt time.Time, interval time.Duration, f func()) int {
	tq.timerIdCounter++
	id := tq.timerIdCounter
	heap.Push(&tq.heap, timerHeapEntry{
		timerId:   id,
		TimeStamp: triggerAt,
		onTimer:   f,
		interval:  interval,
	})

	tq.resetTimerfd()
	return id
}

// cancel timer by its'id
// TODO: O(N), a map from id to heap index would make it O(logN)
func (tq *timerQueue) CancelTimer(timerId int) bool {
	newHeap := make(timerHeap, 0, len(tq.heap))
	ok := false
	for i, v := range tq.heap {
		if v.timerId == timerId {
			ok = true
			continue
		}
		newHeap = append(newHeap, tq.heap[i])
	}
	if !ok {
		return false
	}

	tq.heap = newHeap
	heap.Init(&tq.heap)
	tq.resetTimerfd()
	return true
}

func (tq *timerQueue) Len() int {
	return tq.heap.Len()
}

// get expired entries, periodic entries are pushed back with the next timepoint
func (tq *timerQueue) getExpired() []timerHeapEntry {
	te := make([]timerHeapEntry, 0)
	now := time.Now()
	for tq.heap.Len() != 0 {
		minOne := tq.heap[0]
		if minOne.TimeStamp.After(now) {
			break
		}

		te = append(te, minOne)
		heap.Pop(&tq.heap)
		if minOne.interval != 0 {
			minOne.TimeStamp = now.Add(minOne.interval)
			heap.Push(&tq.heap, minOne)
		}
	}

	tq.resetTimerfd()
	return te
}

// arm the timerfd with the earliest timer, a zero it_value disarms a timerfd
// so an overdue timer is armed with the smallest positive value instead
func (tq *timerQueue) resetTimerfd() {
	var spec unix.ItimerSpec
	if tq.heap.Len() != 0 {
		d := time.Until(tq.heap[0].TimeStamp)
		if d <= 0 {
			d = time.Nanosecond
		}
		spec.Value = unix.NsecToTimespec(d.Nanoseconds())
	}

	// the timerfd is owned by us, settime only fails on invalid arguments
	_ = unix.TimerfdSettime(tq.timerChannel.GetFD(), 0, &spec, nil)
}

func (tq *timerQueue) close() error {
	tq.heap = tq.heap[:0]
	return unix.Close(tq.timerChannel.GetFD())
}
