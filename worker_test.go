package mwreactor

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/markity/mw-reactor/pkg/metrics"
)

func testOptions(t *testing.T, opts ...Option) *options {
	o := defaultOptions()
	testLogger(t)(o)
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMetrics(nil)
	}
	return o
}

func startWorker(t *testing.T, o *options) *Worker {
	w := newWorker(1, o)
	require.NoError(t, w.start())
	t.Cleanup(func() {
		w.Stop()
		w.join()
	})
	return w
}

func TestWorkerAdmitEchoes(t *testing.T) {
	w := startWorker(t, testOptions(t))

	id, ok := WorkerIDOf(w.loop)
	require.True(t, ok)
	require.Equal(t, 1, id)

	fd, client := connectedFD(t, "tcp4", "127.0.0.1:0")
	h, err := NewHandle(fd, "admitted")
	require.NoError(t, err)

	w.Admit(h.Detach())
	require.False(t, h.Valid())

	echo(t, client, []byte("hello worker"))
	require.Equal(t, int64(1), w.ActiveSessions())
	require.Equal(t, float64(1), testutil.ToFloat64(w.metrics.Admitted.WithLabelValues("1")))
}

func TestWorkerAdmitRejectsInvalidHandles(t *testing.T) {
	o := testOptions(t)
	w := startWorker(t, o)

	w.Admit(nil)
	fd, client := connectedFD(t, "tcp4", "127.0.0.1:0")
	h := newHandle(fd, unix.AF_INET, netip.AddrPort{}, "twice")
	moved := h.Detach()
	w.Admit(h)
	require.Equal(t, float64(2), testutil.ToFloat64(o.metrics.AdmitFailures.WithLabelValues("detached")))

	// the moved handle records the wrong family, it is closed instead of admitted
	moved.family = unix.AF_INET6
	w.Admit(moved)
	require.False(t, moved.Valid())
	require.Equal(t, float64(1), testutil.ToFloat64(o.metrics.AdmitFailures.WithLabelValues("family")))
	waitClosedByServer(t, client)

	// a descriptor which is not a socket
	var pipe [2]int
	require.NoError(t, unix.Pipe2(pipe[:], unix.O_CLOEXEC))
	defer unix.Close(pipe[1])
	w.Admit(newHandle(pipe[0], unix.AF_INET, netip.AddrPort{}, "pipe"))
	require.Equal(t, float64(2), testutil.ToFloat64(o.metrics.AdmitFailures.WithLabelValues("family")))

	require.Equal(t, int64(0), w.ActiveSessions())
}

func TestWorkerAdmitAfterStop(t *testing.T) {
	o := testOptions(t)
	w := startWorker(t, o)
	w.Stop()
	w.join()

	fd, client := connectedFD(t, "tcp4", "127.0.0.1:0")
	h, err := NewHandle(fd, "late")
	require.NoError(t, err)
	w.Admit(h)

	require.False(t, h.Valid())
	require.Equal(t, float64(1), testutil.ToFloat64(o.metrics.AdmitFailures.WithLabelValues("stopped")))
	waitClosedByServer(t, client)
}

func TestWorkerStopCancelsSessions(t *testing.T) {
	w := startWorker(t, testOptions(t))

	var clients []net.Conn
	for i := 0; i < 3; i++ {
		fd, client := connectedFD(t, "tcp4", "127.0.0.1:0")
		h, err := NewHandle(fd, "s")
		require.NoError(t, err)
		w.Admit(h.Detach())
		echo(t, client, []byte("up"))
		clients = append(clients, client)
	}
	require.Equal(t, int64(3), w.ActiveSessions())

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "worker did not stop")
	}
	require.Equal(t, int64(0), w.ActiveSessions())
	for _, c := range clients {
		waitClosedByServer(t, c)
	}
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	w := startWorker(t, testOptions(t))
	w.Stop()
	w.Stop()
	w.join()

	// never started
	idle := newWorker(2, testOptions(t))
	require.NotPanics(t, idle.Stop)
}

func TestWorkerStartTwicePanics(t *testing.T) {
	w := startWorker(t, testOptions(t))
	require.Panics(t, func() { _ = w.start() })
}

func TestWorkerPoolStartAndStop(t *testing.T) {
	pool := newWorkerPool(3, RoundRobin(), testOptions(t))
	require.Equal(t, 3, pool.size())
	require.NoError(t, pool.start())

	require.Equal(t, 1, pool.getNext().ID())
	require.Equal(t, 2, pool.getNext().ID())

	pool.stop()
	pool.join()
	for _, w := range pool.workers {
		select {
		case <-w.Done():
		default:
			require.FailNow(t, "worker is still running")
		}
	}
}
