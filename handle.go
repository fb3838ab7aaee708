package mwreactor

import (
	"net/netip"

	"github.com/pingcap/errors"
	"golang.org/x/sys/unix"
)

// Handle owns an accepted socket. Ownership moves with Detach, only the latest
// handle of a chain holds the descriptor
type Handle struct {
	fd     int
	family int
	peer   netip.AddrPort
	id     string
}

func newHandle(fd int, family int, peer netip.AddrPort, id string) *Handle {
	return &Handle{
		fd:     fd,
		family: family,
		peer:   peer,
		id:     id,
	}
}

// NewHandle takes ownership of a connected TCP socket, the address family and peer
// are read from the socket itself
func NewHandle(fd int, id string) (*Handle, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, errors.Annotate(err, "getsockname")
	}
	_, family, ok := sockaddrToAddrPort(sa)
	if !ok {
		return nil, ErrFamilyMismatch.GenWithStackByArgs(unix.AF_INET, sockaddrFamily(sa))
	}

	var peer netip.AddrPort
	if psa, err := unix.Getpeername(fd); err == nil {
		peer, _, _ = sockaddrToAddrPort(psa)
	}
	return newHandle(fd, family, peer, id), nil
}

func (h *Handle) FD() int {
	if h == nil {
		return -1
	}
	return h.fd
}

// Family is unix.AF_INET or unix.AF_INET6
func (h *Handle) Family() int {
	return h.family
}

func (h *Handle) Peer() netip.AddrPort {
	return h.peer
}

func (h *Handle) ID() string {
	return h.id
}

// Valid reports whether h still owns a descriptor
func (h *Handle) Valid() bool {
	return h != nil && h.fd >= 0
}

// Detach moves the descriptor into a new handle, h is left invalid
func (h *Handle) Detach() *Handle {
	if h == nil {
		return &Handle{fd: -1}
	}

	nh := *h
	h.fd = -1
	return &nh
}

// Close closes the descriptor if h still owns it, it is a no-op afterwards
func (h *Handle) Close() error {
	if !h.Valid() {
		return nil
	}

	fd := h.fd
	h.fd = -1
	return unix.Close(fd)
}

func sockaddrFamily(sa unix.Sockaddr) int {
	switch sa.(type) {
	case *unix.SockaddrInet4:
		return unix.AF_INET
	case *unix.SockaddrInet6:
		return unix.AF_INET6
	case *unix.SockaddrUnix:
		return unix.AF_UNIX
	}
	return unix.AF_UNSPEC
}

func sockaddrToAddrPort(sa unix.Sockaddr) (netip.AddrPort, int, bool) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)), unix.AF_INET, true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)), unix.AF_INET6, true
	}
	return netip.AddrPort{}, sockaddrFamily(sa), false
}

func addrPortToSockaddr(ap netip.AddrPort) (unix.Sockaddr, int) {
	if ap.Addr().Is4() {
		return &unix.SockaddrInet4{Addr: ap.Addr().As4(), Port: int(ap.Port())}, unix.AF_INET
	}
	return &unix.SockaddrInet6{Addr: ap.Addr().As16(), Port: int(ap.Port())}, unix.AF_INET6
}
