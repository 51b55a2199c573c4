// Package reactor implements the worker event loop: component G of the
// gateway. Each worker owns exactly one Reactor, which multiplexes its
// listener sockets, accepted client connections, upstream UDP sockets,
// RTSP control sockets, and a self-pipe that wakes epoll_wait on demand,
// all through a single epoll set. The reactor is strictly single-threaded
// and cooperative: suspension happens only inside epoll_wait.
package reactor

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// Handler is implemented by anything registered on the reactor's fd map.
// OnEvent receives the epoll event mask observed for its fd.
type Handler interface {
	OnEvent(events uint32)
}

// Listener is a Handler that additionally knows how to accept connections;
// the reactor treats listener fds specially so it can loop Accept until
// EAGAIN on every readiness notification.
type Listener interface {
	Handler
	Accept() error
}

const maintenanceTick = 100 * time.Millisecond

// Reactor is a worker's epoll-driven event loop.
type Reactor struct {
	epfd int

	handlers  map[int]Handler
	listeners map[int]struct{}

	notifyR, notifyW int // self-pipe: in-process wakeups of epoll_wait

	maintenance func(now time.Time)
	nextWake    func(now time.Time) time.Duration

	Logger *slog.Logger

	stopping bool
}

// New creates an epoll set and the self-pipe used to wake the loop. Bytes
// read from the pipe are drained and carry no message; reload and
// shutdown reach the worker as signals, not through this pipe.
func New(logger *slog.Logger) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	r := &Reactor{
		epfd:      epfd,
		handlers:  map[int]Handler{},
		listeners: map[int]struct{}{},
		notifyR:   fds[0],
		notifyW:   fds[1],
		Logger:    logger,
	}
	if err := r.add(r.notifyR, unix.EPOLLIN); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// NotifyFD returns the write end of the self-pipe; a goroutine in the
// worker process (such as the snapshot job) writes one byte to wake the
// loop out of epoll_wait ahead of its computed deadline. The supervisor
// process holds no handle on this pipe.
func (r *Reactor) NotifyFD() int { return r.notifyW }

// SetMaintenance installs the periodic maintenance callback run once per
// loop iteration (SSE heartbeats, multicast rejoin, scheduled refreshes,
// slow-consumer eviction, shared-memory stats updates).
func (r *Reactor) SetMaintenance(fn func(now time.Time)) { r.maintenance = fn }

// SetNextWake installs a callback computing the soonest deadline among
// pending timers, so epoll_wait's timeout never oversleeps a heartbeat or
// scheduled retry.
func (r *Reactor) SetNextWake(fn func(now time.Time) time.Duration) { r.nextWake = fn }

// Register adds fd to the epoll set with the given interest mask and
// associates it with h for dispatch.
func (r *Reactor) Register(fd int, events uint32, h Handler) error {
	if err := r.add(fd, events); err != nil {
		return err
	}
	r.handlers[fd] = h
	return nil
}

// RegisterListener is like Register but additionally marks fd as a
// listener so readiness triggers an Accept loop instead of OnEvent.
func (r *Reactor) RegisterListener(fd int, l Listener) error {
	if err := r.Register(fd, unix.EPOLLIN, l); err != nil {
		return err
	}
	r.listeners[fd] = struct{}{}
	return nil
}

// ModifyInterest changes fd's epoll interest mask, used to arm/disarm
// EPOLLOUT as the send queue fills and drains.
func (r *Reactor) ModifyInterest(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Deregister removes fd from the epoll set and the fd map. Per spec.md
// §4.G this must always happen before the fd is closed.
func (r *Reactor) Deregister(fd int) {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(r.handlers, fd)
	delete(r.listeners, fd)
}

func (r *Reactor) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Stop requests the loop exit after the current iteration.
func (r *Reactor) Stop() { r.stopping = true }

// Close releases the epoll fd and self-pipe.
func (r *Reactor) Close() error {
	_ = unix.Close(r.notifyR)
	_ = unix.Close(r.notifyW)
	return unix.Close(r.epfd)
}

// Run executes the main loop until Stop is called. maintenanceTick bounds
// the maximum epoll_wait timeout even if SetNextWake is unset, so the
// maintenance tick always runs at least that often.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 256)
	for !r.stopping {
		now := time.Now()
		timeout := maintenanceTick
		if r.nextWake != nil {
			if d := r.nextWake(now); d < timeout {
				timeout = d
			}
		}
		if timeout < 0 {
			timeout = 0
		}

		n, err := unix.EpollWait(r.epfd, events, int(timeout/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			mask := events[i].Events

			if fd == r.notifyR {
				r.drainNotify()
				continue
			}
			if _, isListener := r.listeners[fd]; isListener {
				if l, ok := r.handlers[fd].(Listener); ok {
					if err := l.Accept(); err != nil && r.Logger != nil {
						r.Logger.Warn("reactor: accept loop error", "err", err)
					}
				}
				continue
			}
			if h, ok := r.handlers[fd]; ok {
				h.OnEvent(mask)
			}
		}

		if r.maintenance != nil {
			r.maintenance(time.Now())
		}
	}
	return nil
}

func (r *Reactor) drainNotify() {
	var buf [64]byte
	for {
		_, err := unix.Read(r.notifyR, buf[:])
		if err != nil {
			return
		}
	}
}
