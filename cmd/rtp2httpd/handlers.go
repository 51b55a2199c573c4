package main

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/httpgw"
)

// clientHandler adapts one accepted connection to reactor.Handler,
// translating epoll readiness into the connection's read/write steps and
// dispatching complete requests to the worker's router.
type clientHandler struct {
	w *worker
	c *conn.Conn
}

func (h *clientHandler) OnEvent(events uint32) {
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		h.w.closeConn(h.c)
		return
	}
	if events&unix.EPOLLIN != 0 {
		if !h.handleReadable() {
			return
		}
	}
	if events&unix.EPOLLOUT != 0 {
		h.handleWritable()
	}
}

// handleReadable returns false if the connection was closed. Once a
// connection is streaming, its client fd stays EPOLLIN-armed only to
// notice disconnects (EOF/EPOLLRDHUP); stray bytes are never re-parsed
// into a second request.
func (h *clientHandler) handleReadable() bool {
	if h.c.State() == conn.StateStreaming {
		var discard [4096]byte
		n, err := unix.Read(h.c.FD, discard[:])
		if err != nil && !errors.Is(err, unix.EAGAIN) {
			h.w.closeConn(h.c)
			return false
		}
		if n == 0 {
			h.w.closeConn(h.c)
			return false
		}
		return true
	}

	req, err := h.c.OnReadable()
	if err != nil {
		h.w.closeConn(h.c)
		return false
	}
	if req == nil {
		return true
	}
	h.w.handleRequest(h.c, req)
	return h.c.State() != conn.StateClosed
}

func (h *clientHandler) handleWritable() {
	drained, err := h.c.OnWritable()
	if err != nil {
		h.w.closeConn(h.c)
		return
	}
	if drained {
		if h.c.State() == conn.StateClosing {
			h.w.closeConn(h.c)
			return
		}
		_ = h.w.rx.ModifyInterest(h.c.FD, unix.EPOLLIN)
	}
}

// handleRequest resolves a completed request against the router and
// dispatches to the matching handler. Streaming routes leave the
// connection in StateStreaming with no response head written yet until
// the upstream driver is ready; everything else writes a complete
// response and either keeps the connection in StateReading (the parser
// resets per request, no persistent keep-alive) or marks it closing.
func (w *worker) handleRequest(c *conn.Conn, req *httpgw.Request) {
	route := httpgw.Resolve(w.router, req)
	switch route.Kind {
	case httpgw.RouteUnauthorized:
		w.writeSimple(c, 401, "unauthorized")
	case httpgw.RouteNotFound:
		w.writeSimple(c, 404, "not found")
	case httpgw.RouteStatusPage, httpgw.RoutePlayerPage:
		w.writeRedirectToStatusAPI(c, route)
	case httpgw.RoutePlaylist:
		w.servePlaylist(c, req)
	case httpgw.RouteEPG:
		w.serveEPG(c, req)
	case httpgw.RouteSnapshot:
		w.serveSnapshot(c, req, route)
	case httpgw.RouteUDPxyRTP:
		w.serveUDPxy(c, route.Target, true)
	case httpgw.RouteUDPxyUDP:
		w.serveUDPxy(c, route.Target, false)
	case httpgw.RouteUDPxyRTSP:
		w.serveUDPxyRTSP(c, req, route.Target)
	case httpgw.RouteService:
		w.serveService(c, req, route)
	default:
		w.writeSimple(c, 404, "not found")
	}
	c.Parser().Reset()
}

func (w *worker) writeSimple(c *conn.Conn, status int, body string) {
	head := httpgw.WriteResponseHead(httpgw.ResponseHead{
		Status:        status,
		ContentType:   "text/plain; charset=utf-8",
		ContentLength: int64(len(body)),
	})
	if err := c.QueueOutputAndFlush(append(head, body...)); err != nil {
		w.closeConn(c)
		return
	}
	w.armWrite(c.FD)
}

func (w *worker) writeBody(c *conn.Conn, status int, contentType string, etag string, body []byte) {
	head := httpgw.WriteResponseHead(httpgw.ResponseHead{
		Status:        status,
		ContentType:   contentType,
		ContentLength: int64(len(body)),
		ETag:          etag,
	})
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, body...)
	if err := c.QueueOutputAndFlush(out); err != nil {
		w.closeConn(c)
		return
	}
	w.armWrite(c.FD)
}

func (w *worker) writeRedirectToStatusAPI(c *conn.Conn, route httpgw.Route) {
	path := "/status"
	if route.Kind == httpgw.RoutePlayerPage {
		path = "/player"
	}
	location := fmt.Sprintf("http://%s:8053%s", hostOnly(w.cfg.Global.Hostname), path)
	head := httpgw.WriteResponseHead(httpgw.ResponseHead{
		Status:        302,
		ContentLength: 0,
		Extra:         map[string]string{"Location": location},
	})
	if err := c.QueueOutputAndFlush(head); err != nil {
		w.closeConn(c)
		return
	}
	w.armWrite(c.FD)
}

func hostOnly(h string) string {
	if h == "" {
		return "127.0.0.1"
	}
	return h
}

// beginStreamingHead registers the connection in the shared status
// registry and queues the HTTP response head that precedes the raw media
// bytes.
func (w *worker) beginStreamingHead(c *conn.Conn, isMP2T bool) error {
	if c.StatusSlot < 0 {
		if slot, err := w.region.RegisterClient(w.id, 0, c.ClientAddr); err != nil {
			w.logger.Warn("worker: status registry full", "client", c.ClientAddr, "err", err)
		} else {
			c.StatusSlot = slot
		}
	}
	head := httpgw.WriteResponseHead(httpgw.ResponseHead{
		Status:        200,
		ContentType:   httpgw.MediaContentType(isMP2T),
		ContentLength: -1,
	})
	return c.QueueOutput(head)
}
