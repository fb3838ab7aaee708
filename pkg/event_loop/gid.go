package eventloop

import (
	"github.com/petermattis/goid"
)

// a loop belongs to the goroutine that created it, timers and the poller are only
// touched from there
func currentGoroutine() int64 {
	return goid.Get()
}

func (ev *eventloop) onOwnerGoroutine() bool {
	return ev.gid == currentGoroutine()
}
