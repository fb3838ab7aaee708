package mwreactor

import (
	"time"

	"github.com/markity/mw-reactor/pkg/async_log"
	"github.com/markity/mw-reactor/pkg/buffer"
	"github.com/markity/mw-reactor/pkg/metrics"
	"github.com/markity/mw-reactor/pkg/uuid"
)

const defaultBacklog = 1024

type options struct {
	logger  async_log.Logger
	metrics *metrics.Metrics
	idGen   uuid.Generator

	// syscall.Listen param, see man 2 listen()
	backlog    int
	bufferSize int
	// 0 means sessions never time out
	idleTimeout time.Duration
	noDelay     bool
	keepAlive   bool

	sessionEventCallback SessionEventCallbackFunc
}

func defaultOptions() *options {
	return &options{
		logger:               async_log.NewNopLogger(),
		idGen:                uuid.NewGenerator(),
		backlog:              defaultBacklog,
		bufferSize:           buffer.DefaultCapacity,
		sessionEventCallback: defaultSessionEventCallback,
	}
}

// Option configures a Server
type Option func(*options)

func WithLogger(l async_log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics makes the server report into m, by default metrics go to a private registry
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDGenerator sets the generator labelling sessions
func WithIDGenerator(g uuid.Generator) Option {
	return func(o *options) {
		if g != nil {
			o.idGen = g
		}
	}
}

func WithBacklog(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.backlog = n
		}
	}
}

// WithBufferSize sets the capacity of a session buffer, which bounds a single read
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithIdleTimeout closes sessions which neither read nor wrote for d. A session is
// closed between d and 2*d after its last activity
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithNoDelay sets TCP_NODELAY on admitted connections
func WithNoDelay(b bool) Option {
	return func(o *options) {
		o.noDelay = b
	}
}

// WithKeepAlive sets SO_KEEPALIVE on admitted connections
func WithKeepAlive(b bool) Option {
	return func(o *options) {
		o.keepAlive = b
	}
}

// WithSessionEventCallback observes session transitions, f runs on the loop goroutine
// owning the session and must not block
func WithSessionEventCallback(f SessionEventCallbackFunc) Option {
	return func(o *options) {
		if f != nil {
			o.sessionEventCallback = f
		}
	}
}
