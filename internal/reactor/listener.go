package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// TCPListener wraps a listening socket fd and hands freshly accepted
// client fds to OnAccept until the kernel backlog returns EAGAIN,
// matching spec.md §4.G's "accept in a loop until EAGAIN" requirement.
type TCPListener struct {
	FD       int
	OnAccept func(fd int, sa unix.Sockaddr)
}

// NewTCPListenerReusePort binds and listens on addr:port with
// SO_REUSEADDR and SO_REUSEPORT set, so N worker processes can each bind
// the same address and let the kernel load-balance accepted connections.
func NewTCPListenerReusePort(addr [4]byte, port int, backlog int) (*TCPListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &TCPListener{FD: fd}, nil
}

// OnEvent satisfies Handler; readiness on a listener always means Accept.
func (l *TCPListener) OnEvent(events uint32) { _ = l.Accept() }

// Accept drains the accept backlog until EAGAIN, invoking OnAccept for
// every fd obtained.
func (l *TCPListener) Accept() error {
	for {
		fd, sa, err := unix.Accept(l.FD)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			return err
		}
		if l.OnAccept != nil {
			l.OnAccept(fd, sa)
		}
	}
}

// Close closes the listening socket.
func (l *TCPListener) Close() error { return unix.Close(l.FD) }
