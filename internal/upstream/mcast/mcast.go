// Package mcast implements the multicast upstream source driver:
// component D.1. A Source owns one joined UDP socket and feeds received
// datagrams straight into pool buffers for zero-copy ingress.
package mcast

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
)

// Kind distinguishes RTP-over-multicast (payload gets depayloaded) from
// raw UDPxy-style passthrough (datagrams forwarded unmodified).
type Kind int

const (
	KindMRTP Kind = iota
	KindMUDP
)

// DefaultRecvBuf is the SO_RCVBUF applied to every joined socket, per
// spec.md §4.D.1.
const DefaultRecvBuf = 512 * 1024

// Source is one joined multicast group.
type Source struct {
	Kind Kind
	FD   int

	group  net.IP
	source net.IP // SSM source, nil for ASM
	port   int
	iface  string

	lastJoin time.Time
}

// timeNow is a seam so tests can avoid depending on wall-clock output.
var timeNow = time.Now

// Join creates, binds, and joins a multicast group. iface is the
// upstream-interface selector (may be empty for the default route). If
// source is non-nil, source-specific (IGMPv3 SSM) join is used via
// IP_ADD_SOURCE_MEMBERSHIP; otherwise a plain IP_ADD_MEMBERSHIP (ASM)
// join is used.
func Join(kind Kind, group, source net.IP, port int, iface string) (*Source, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("mcast: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mcast: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, DefaultRecvBuf); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mcast: SO_RCVBUF: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mcast: bind: %w", err)
	}

	ifAddr, err := interfaceAddr(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := joinGroup(fd, group, source, ifAddr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mcast: set nonblock: %w", err)
	}

	return &Source{Kind: kind, FD: fd, group: group, source: source, port: port, iface: iface, lastJoin: timeNow()}, nil
}

// interfaceAddr resolves the upstream-interface selector to its first
// IPv4 address, or the unspecified address (INADDR_ANY, let the kernel
// pick the route) when iface is empty.
func interfaceAddr(iface string) ([4]byte, error) {
	var zero [4]byte
	if iface == "" {
		return zero, nil
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return zero, fmt.Errorf("mcast: interface %q: %w", iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return zero, fmt.Errorf("mcast: addrs for %q: %w", iface, err)
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipn.IP.To4(); v4 != nil {
			var out [4]byte
			copy(out[:], v4)
			return out, nil
		}
	}
	return zero, fmt.Errorf("mcast: interface %q has no IPv4 address", iface)
}

func joinGroup(fd int, group, source net.IP, ifAddr [4]byte) error {
	group4 := group.To4()
	if group4 == nil {
		return fmt.Errorf("mcast: only IPv4 groups are supported, got %s", group)
	}

	if source != nil {
		src4 := source.To4()
		if src4 == nil {
			return fmt.Errorf("mcast: SSM source must be IPv4, got %s", source)
		}
		mreq := &unix.IPMreqSource{}
		copy(mreq.Multiaddr[:], group4)
		mreq.Interface = ifAddr
		copy(mreq.Sourceaddr[:], src4)
		return unix.SetsockoptIPMreqSource(fd, unix.IPPROTO_IP, unix.IP_ADD_SOURCE_MEMBERSHIP, mreq)
	}

	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group4)
	mreq.Interface = ifAddr
	return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
}

func leaveGroup(fd int, group, source net.IP, ifAddr [4]byte) error {
	group4 := group.To4()
	if group4 == nil {
		return nil
	}
	if source != nil {
		mreq := &unix.IPMreqSource{}
		copy(mreq.Multiaddr[:], group4)
		mreq.Interface = ifAddr
		copy(mreq.Sourceaddr[:], source.To4())
		return unix.SetsockoptIPMreqSource(fd, unix.IPPROTO_IP, unix.IP_DROP_SOURCE_MEMBERSHIP, mreq)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group4)
	mreq.Interface = ifAddr
	return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq)
}

// Rejoin performs a LEAVE+JOIN cycle to force a fresh IGMP report, used
// by the worker's periodic rejoin maintenance tick.
func (s *Source) Rejoin() error {
	ifAddr, err := interfaceAddr(s.iface)
	if err != nil {
		return err
	}
	_ = leaveGroup(s.FD, s.group, s.source, ifAddr)
	if err := joinGroup(s.FD, s.group, s.source, ifAddr); err != nil {
		return err
	}
	s.lastJoin = timeNow()
	return nil
}

// LastJoin reports when the socket last (re)joined its group.
func (s *Source) LastJoin() time.Time { return s.lastJoin }

// Close leaves the group (best effort) and closes the socket.
func (s *Source) Close() error {
	if ifAddr, err := interfaceAddr(s.iface); err == nil {
		_ = leaveGroup(s.FD, s.group, s.source, ifAddr)
	}
	return unix.Close(s.FD)
}

// Recv performs one zero-copy ingress read directly into a pool buffer.
// When the pool is exhausted, it drains exactly one datagram into a
// scratch buffer and drops it, per spec.md §4.D.1. Once the socket has no
// datagram left (EAGAIN) it returns a nil buffer and a nil error.
func (s *Source) Recv(pool *bufpool.Pool, scratch []byte) (buf *bufpool.Buffer, dropped bool, err error) {
	b := pool.Alloc(0)
	if b == nil {
		_, _, rerr := unix.Recvfrom(s.FD, scratch, 0)
		if rerr == unix.EAGAIN {
			return nil, false, nil
		}
		if rerr != nil {
			return nil, false, rerr
		}
		return nil, true, nil
	}
	n, _, rerr := unix.Recvfrom(s.FD, b.Cap(), 0)
	if rerr != nil {
		b.Release()
		if rerr == unix.EAGAIN {
			return nil, false, nil
		}
		return nil, false, rerr
	}
	b.SetLen(n)
	return b, false, nil
}
