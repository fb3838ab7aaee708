package mwreactor

import (
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/markity/mw-reactor/pkg/metrics"
)

// failingAccept fails the first n calls with errno, then accepts for real
func failingAccept(n int64, errno unix.Errno, calls *atomic.Int64) acceptFunc {
	return func(fd int) (int, unix.Sockaddr, error) {
		if calls.Inc() <= n {
			return -1, nil, errno
		}
		return accept4(fd)
	}
}

func TestAcceptErrorsAreSurvived(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s, err := NewServer("127.0.0.1:0", 2, testLogger(t), WithMetrics(m))
	require.NoError(t, err)

	var calls atomic.Int64
	s.acceptor.accept = failingAccept(3, unix.EPROTO, &calls)
	runServer(t, s)

	echo(t, dial(t, s.Addr().String()), []byte("still accepting"))
	require.Equal(t, float64(3), testutil.ToFloat64(m.AcceptErrors))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Accepted))
	require.Greater(t, calls.Load(), int64(3))
}

func TestAcceptOutOfDescriptorsShedsConnection(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s, err := NewServer("127.0.0.1:0", 1, testLogger(t), WithMetrics(m))
	require.NoError(t, err)

	var calls atomic.Int64
	s.acceptor.accept = failingAccept(1, unix.EMFILE, &calls)
	runServer(t, s)

	// the first pending connection is accepted with the reserved fd and dropped
	shed := dial(t, s.Addr().String())
	waitClosedByServer(t, shed)

	echo(t, dial(t, s.Addr().String()), []byte("after shedding"))
	require.Equal(t, float64(1), testutil.ToFloat64(m.AcceptErrors))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Accepted))
}

func TestAcceptorResolvesPortAndCloses(t *testing.T) {
	o := testOptions(t)
	acc, err := newTCPAcceptor(netip.MustParseAddrPort("127.0.0.1:0"), o)
	require.NoError(t, err)
	require.NotZero(t, acc.Addr().Port())

	fd := acc.socketChannel.GetFD()
	require.NoError(t, acc.Close())
	require.NoError(t, acc.Close())

	_, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	require.Error(t, err)
}
