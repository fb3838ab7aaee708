package eventloop

import "github.com/pingcap/errors"

var (
	// ErrEventLoopClosed is returned when work is handed to a loop that has already unwound.
	ErrEventLoopClosed = errors.Normalize(
		"event loop %d is closed",
		errors.RFCCodeText("MW:ErrEventLoopClosed"),
	)
	// ErrNotInLoopGoroutine is returned by Loop when it runs on a goroutine other than the creator.
	ErrNotInLoopGoroutine = errors.Normalize(
		"event loop %d must be run at the goroutine created at",
		errors.RFCCodeText("MW:ErrNotInLoopGoroutine"),
	)
	// ErrEventLoopRunning is returned by a second call to Loop.
	ErrEventLoopRunning = errors.Normalize(
		"event loop %d is already running",
		errors.RFCCodeText("MW:ErrEventLoopRunning"),
	)
)
