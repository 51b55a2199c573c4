package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
	"github.com/r2hgw/rtp2httpd/internal/config"
	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/httpgw"
	"github.com/r2hgw/rtp2httpd/internal/reactor"
	"github.com/r2hgw/rtp2httpd/internal/sendqueue"
	"github.com/r2hgw/rtp2httpd/internal/statusmem"
	"github.com/r2hgw/rtp2httpd/internal/upstream/mcast"
)

const (
	listenBacklog    = 128
	shutdownTimeout  = 5 * time.Second
	scratchRecvSize  = 64 * 1024
	statsFlushPeriod = time.Second
)

// worker owns everything a single epoll-driven gateway process needs:
// the listeners it accepted from, the buffer pool and send-queue config
// shared by every connection, and the resolved routing table.
type worker struct {
	cfg    *config.Config
	id     int
	logger *slog.Logger

	pool   *bufpool.Pool
	region *statusmem.Region
	rx     *reactor.Reactor

	listeners []*reactor.TCPListener
	conns     map[int]*conn.Conn

	// upstreamClose maps a streaming client's fd to a cleanup func that
	// deregisters and closes the upstream side the reactor also watches on
	// its behalf (a joined multicast socket or an RTSP control socket), so
	// closeConn can tear both down together.
	upstreamClose map[int]func()

	// mcastSources tracks every live multicast join, keyed by the client
	// fd the join was made on behalf of, so maintenance can periodically
	// force a fresh IGMP report per spec.md's mcast-rejoin-interval.
	mcastSources map[int]*mcast.Source

	router httpgw.RouterConfig

	epgCache   *epgCacheHandle
	snapshotCh chan snapshotResult

	scratch []byte

	lastStatsFlush time.Time
	connCount      int64
}

func newWorker(cfg *config.Config, id int, logger *slog.Logger, pool *bufpool.Pool, region *statusmem.Region, rx *reactor.Reactor) *worker {
	services := make(map[string]string, len(cfg.Services))
	for _, svc := range cfg.Services {
		name := httpgw.AssignServiceName(services, svc.Name)
		services[name] = svc.URL
	}

	w := &worker{
		cfg:           cfg,
		id:            id,
		logger:        logger,
		pool:          pool,
		region:        region,
		rx:            rx,
		conns:         make(map[int]*conn.Conn),
		upstreamClose: make(map[int]func()),
		mcastSources:  make(map[int]*mcast.Source),
		scratch:       make([]byte, scratchRecvSize),
		router: httpgw.RouterConfig{
			R2HToken:     cfg.Global.R2HToken,
			Hostname:     cfg.Global.Hostname,
			StatusPath:   cfg.Global.StatusPagePath,
			PlayerPath:   cfg.Global.PlayerPagePath,
			UDPxyEnabled: !cfg.Global.NoUDPxy,
			Services:     services,
		},
		snapshotCh: make(chan snapshotResult, 8),
	}
	epgCache, err := newEPGCacheHandle(cfg, logger)
	if err != nil {
		logger.Warn("worker: epg cache disabled", "err", err)
	}
	w.epgCache = epgCache
	return w
}

// Close releases resources newWorker acquired outside the reactor's own
// fd bookkeeping.
func (w *worker) Close() {
	w.epgCache.Close()
}

func (w *worker) listen(bind config.BindAddr) error {
	addr, err := resolveBindAddr(bind)
	if err != nil {
		return err
	}
	port, err := resolveBindPort(bind.Service)
	if err != nil {
		return err
	}

	l, err := reactor.NewTCPListenerReusePort(addr, port, listenBacklog)
	if err != nil {
		return err
	}
	l.OnAccept = w.onAccept
	if err := w.rx.RegisterListener(l.FD, l); err != nil {
		return err
	}
	w.listeners = append(w.listeners, l)
	w.logger.Info("worker: listening", "node", bind.Node, "service", bind.Service)
	return nil
}

func resolveBindAddr(bind config.BindAddr) ([4]byte, error) {
	if bind.Node == "" || bind.Node == "*" {
		return [4]byte{0, 0, 0, 0}, nil
	}
	ip := net.ParseIP(bind.Node)
	if ip == nil {
		return [4]byte{}, fmt.Errorf("bind: invalid address %q", bind.Node)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return [4]byte{}, fmt.Errorf("bind: only IPv4 listen addresses are supported, got %q", bind.Node)
	}
	var out [4]byte
	copy(out[:], ip4)
	return out, nil
}

func resolveBindPort(service string) (int, error) {
	port, err := net.LookupPort("tcp", service)
	if err != nil {
		return 0, fmt.Errorf("bind: resolve service %q: %w", service, err)
	}
	return port, nil
}

func (w *worker) onAccept(fd int, sa unix.Sockaddr) {
	clientAddr := sockaddrString(sa)
	if max := int64(w.cfg.Global.MaxClients); max > 0 && w.connCount >= max {
		w.logger.Warn("worker: max clients reached, refusing connection", "client", clientAddr, "max", max)
		writeRawStatus(fd, 503, "rtp2httpd: too many clients")
		_ = unix.Close(fd)
		return
	}
	c, err := conn.New(fd, clientAddr, w.pool, sendqueue.DefaultConfig(), w.logger)
	if err != nil {
		w.logger.Warn("worker: configure accepted socket failed", "err", err)
		_ = unix.Close(fd)
		return
	}
	h := &clientHandler{w: w, c: c}
	if err := w.rx.Register(fd, unix.EPOLLIN, h); err != nil {
		w.logger.Warn("worker: register accepted socket failed", "err", err)
		c.Close()
		return
	}
	w.conns[fd] = c
	w.connCount++
}

// writeRawStatus best-effort writes a plain HTTP response head+body to a
// freshly accepted fd that never got a conn.Conn, since the caller is
// about to close it anyway; a short write or EAGAIN is not worth
// retrying for a connection being refused.
func writeRawStatus(fd int, status int, body string) {
	head := httpgw.WriteResponseHead(httpgw.ResponseHead{
		Status:        status,
		ContentType:   "text/plain; charset=utf-8",
		ContentLength: int64(len(body)),
	})
	_, _ = unix.Write(fd, append(head, body...))
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", v.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", v.Port))
	default:
		return "unknown"
	}
}

// closeConn tears down one client connection: its upstream stream fd (if
// any), its registration with the reactor, and its socket.
func (w *worker) closeConn(c *conn.Conn) {
	if c.State() == conn.StateClosed {
		return
	}
	if closeUpstream, ok := w.upstreamClose[c.FD]; ok {
		closeUpstream()
		delete(w.upstreamClose, c.FD)
	}
	delete(w.mcastSources, c.FD)
	if c.StatusSlot >= 0 {
		w.region.DeregisterClient(c.StatusSlot)
		c.StatusSlot = -1
	}
	w.rx.Deregister(c.FD)
	delete(w.conns, c.FD)
	if w.connCount > 0 {
		w.connCount--
	}
	c.Close()
}

// armWrite re-arms EPOLLOUT on fd after new bytes were queued for it.
func (w *worker) armWrite(fd int) {
	_ = w.rx.ModifyInterest(fd, unix.EPOLLIN|unix.EPOLLOUT)
}

// maintenance runs once per reactor iteration: it flushes this worker's
// counters into the shared status region and delivers any finished
// snapshot job to its waiting connection.
func (w *worker) maintenance(now time.Time) {
	w.drainSnapshots()
	w.rejoinDueSources(now)
	w.evictSlowConsumers(now)

	if now.Sub(w.lastStatsFlush) < statsFlushPeriod {
		return
	}
	w.lastStatsFlush = now

	poolStats := w.pool.Stats()
	_ = w.region.WriteWorkerStats(w.id, statusmem.WorkerStats{
		PID:             int64(pid()),
		ConnCount:       w.connCount,
		PoolTotal:       int64(poolStats.TotalBuffers),
		PoolFree:        int64(poolStats.FreeBuffers),
		PoolExpansions:  int64(poolStats.Expansions),
		PoolExhaustions: int64(poolStats.Exhaustions),
	})
}

// evictSlowConsumers closes any connection whose send queue has stayed
// pinned at its byte limit longer than the slow-consumer window.
func (w *worker) evictSlowConsumers(now time.Time) {
	for fd, c := range w.conns {
		if c.State() != conn.StateStreaming {
			continue
		}
		if c.CheckSlowConsumer(now) {
			w.logger.Warn("worker: closing slow consumer", "client", c.ClientAddr, "fd", fd, "highwater", c.Highwater)
			w.closeConn(c)
		}
	}
}

// rejoinDueSources forces a LEAVE+JOIN cycle on every multicast source
// whose last join is older than the configured rejoin interval; a
// disabled interval (<= 0) is a no-op.
func (w *worker) rejoinDueSources(now time.Time) {
	interval := w.cfg.Global.MulticastRejoinInterval
	if interval <= 0 {
		return
	}
	for fd, src := range w.mcastSources {
		if now.Sub(src.LastJoin()) < interval {
			continue
		}
		if err := src.Rejoin(); err != nil {
			w.logger.Warn("worker: multicast rejoin failed", "fd", fd, "err", err)
		}
	}
}

func pid() int { return os.Getpid() }
