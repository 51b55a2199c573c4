package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/stream"
	"github.com/r2hgw/rtp2httpd/internal/upstream/mcast"
)

// mcastHandler adapts a joined multicast Source to reactor.Handler,
// pumping received datagrams through the stream.Context into the
// client's send queue on every readiness notification.
type mcastHandler struct {
	w   *worker
	c   *conn.Conn
	ctx *stream.Context
}

func (h *mcastHandler) OnEvent(events uint32) {
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		h.w.stopMulticast(h.c, fmt.Errorf("mcast: upstream socket error"))
		return
	}
	if err := h.ctx.OnUpstreamReadable(h.w.pool, h.w.scratch); err != nil {
		h.w.stopMulticast(h.c, err)
		return
	}
	h.w.armWrite(h.c.FD)
}

// startMulticast joins group:port (and its SSM source, if any), wires the
// resulting stream.Context and join socket into the reactor under c's
// bookkeeping, and writes the streaming response head.
func (w *worker) startMulticast(c *conn.Conn, kind mcast.Kind, group, source net.IP, port int) error {
	ctx, err := stream.NewMulticast(kind, group, source, port, w.cfg.Global.Interfaces.Multicast, c, true, w.logger)
	if err != nil {
		return err
	}
	h := &mcastHandler{w: w, c: c, ctx: ctx}
	if err := w.rx.Register(ctx.Source.FD, unix.EPOLLIN, h); err != nil {
		ctx.Close()
		return err
	}
	upFD := ctx.Source.FD
	w.mcastSources[c.FD] = ctx.Source
	w.upstreamClose[c.FD] = func() { w.rx.Deregister(upFD) }
	if err := w.beginStreamingHead(c, ctx.IsMP2T()); err != nil {
		w.stopMulticast(c, err)
		return err
	}
	w.armWrite(c.FD)
	return nil
}

// stopMulticast tears down a live multicast stream and the client
// connection carrying it: used both on upstream failure and on client
// disconnect discovered while the stream is active.
func (w *worker) stopMulticast(c *conn.Conn, err error) {
	if err != nil {
		w.logger.Warn("mcast: stream stopped", "client", c.ClientAddr, "err", err)
	}
	w.closeConn(c)
}

// serveUDPxy handles the udpxy-compatible /rtp/<target> and
// /udp/<target> prefixes: isRTP selects RTP depayloading versus raw
// passthrough of the joined datagrams.
func (w *worker) serveUDPxy(c *conn.Conn, target string, isRTP bool) {
	group, source, port, err := parseMulticastTarget(target, "")
	if err != nil {
		w.writeSimple(c, 400, err.Error())
		return
	}
	kind := mcast.KindMUDP
	if isRTP {
		kind = mcast.KindMRTP
	}
	if err := w.startMulticast(c, kind, group, source, port); err != nil {
		w.writeSimple(c, 503, fmt.Sprintf("mcast: join failed: %v", err))
	}
}

// serveServiceMulticast handles a resolved [services] entry whose URL
// scheme is rtp:// or udp://.
func (w *worker) serveServiceMulticast(c *conn.Conn, authority string, isRTP bool) {
	group, source, port, err := parseMulticastTarget(authority, "")
	if err != nil {
		w.writeSimple(c, 400, err.Error())
		return
	}
	kind := mcast.KindMUDP
	if isRTP {
		kind = mcast.KindMRTP
	}
	if err := w.startMulticast(c, kind, group, source, port); err != nil {
		w.writeSimple(c, 503, fmt.Sprintf("mcast: join failed: %v", err))
	}
}
