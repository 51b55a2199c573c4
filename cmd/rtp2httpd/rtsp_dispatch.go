package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/httpgw"
	"github.com/r2hgw/rtp2httpd/internal/stream"
	"github.com/r2hgw/rtp2httpd/internal/upstream/rtsp"
)

const defaultRTSPPort = 554

// rtspPhase tracks which half of the control socket's life the handler
// is in: everything up to PLAY is framed as RTSP responses, everything
// after PLAY is raw TCP-interleaved media with no response framing.
type rtspPhase int

const (
	rtspConnecting rtspPhase = iota
	rtspHandshaking
	rtspStreaming
)

// rtspHandler drives one rtsp.Session's caller-sequenced state machine:
// dial, DESCRIBE, SETUP, PLAY, then hand received interleaved frames to
// the session's own demuxer for as long as the client stays connected.
type rtspHandler struct {
	w    *worker
	c    *conn.Conn
	sess *rtsp.Session

	streamCtx *stream.Context
	phase     rtspPhase
}

func (h *rtspHandler) OnEvent(events uint32) {
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		h.fail(fmt.Errorf("rtsp: control socket error"))
		return
	}
	if h.phase == rtspConnecting {
		if events&unix.EPOLLOUT != 0 {
			h.finishConnect()
		}
		return
	}
	if events&unix.EPOLLIN != 0 {
		if h.phase == rtspStreaming {
			h.readMedia()
		} else {
			h.readControl()
		}
	}
	if h.phase != rtspConnecting && events&unix.EPOLLOUT != 0 {
		h.pumpWrite()
	}
}

func (h *rtspHandler) finishConnect() {
	errno, gerr := unix.GetsockoptInt(h.sess.ControlFD, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil || errno != 0 {
		h.fail(fmt.Errorf("rtsp: connect failed: errno %d (%v)", errno, gerr))
		return
	}
	h.phase = rtspHandshaking
	h.sess.BuildDescribe()
	h.pumpWrite()
}

func (h *rtspHandler) pumpWrite() {
	wantWrite, err := h.sess.OnWritable()
	if err != nil {
		h.fail(err)
		return
	}
	if wantWrite {
		h.w.armWrite(h.sess.ControlFD)
		return
	}
	_ = h.w.rx.ModifyInterest(h.sess.ControlFD, unix.EPOLLIN)
}

func (h *rtspHandler) readControl() {
	oldFD := h.sess.ControlFD
	media, err := h.sess.OnReadable()
	if err != nil {
		h.fail(err)
		return
	}
	switch h.sess.State() {
	case rtsp.StateDescribed:
		h.sess.BuildSetup(0, 0)
		h.pumpWrite()
	case rtsp.StateSetup:
		h.sess.BuildPlay()
		h.pumpWrite()
	case rtsp.StatePlaying:
		h.beginStreaming()
		if len(media) > 0 {
			h.sess.OnInterleavedData(media)
		}
	case rtsp.StateError:
		h.fail(fmt.Errorf("rtsp: session entered error state"))
	case rtsp.StateConnecting:
		// handleRedirect already closed the old control socket and set
		// s.URL to the Location target; the reactor registration for the
		// closed fd is still in its map until we remove it here.
		h.w.rx.Deregister(oldFD)
		h.redial()
	}
}

// redial re-dials the session's control socket against a redirect
// Location and resumes the handshake from CONNECTED on the new socket,
// governed by the session's own redirect budget.
func (h *rtspHandler) redial() {
	u, err := url.Parse(h.sess.URL)
	if err != nil {
		h.fail(fmt.Errorf("rtsp: invalid redirect location %q: %w", h.sess.URL, err))
		return
	}
	fd, sa, err := dialRTSPControl(u.Host)
	if err != nil {
		h.fail(fmt.Errorf("rtsp: redirect dial: %w", err))
		return
	}
	h.sess.ControlFD = fd
	h.phase = rtspConnecting
	if err := h.w.rx.Register(fd, unix.EPOLLOUT, h); err != nil {
		_ = unix.Close(fd)
		h.sess.ControlFD = -1
		h.fail(err)
		return
	}
	connErr := unix.Connect(fd, sa)
	if connErr != nil && !errors.Is(connErr, unix.EINPROGRESS) {
		h.w.rx.Deregister(fd)
		_ = unix.Close(fd)
		h.sess.ControlFD = -1
		h.fail(connErr)
		return
	}
}

func (h *rtspHandler) readMedia() {
	buf := make([]byte, 64*1024)
	n, err := unix.Read(h.sess.ControlFD, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		h.fail(err)
		return
	}
	if n == 0 {
		h.fail(fmt.Errorf("rtsp: control socket closed by peer"))
		return
	}
	h.sess.OnInterleavedData(buf[:n])
	h.w.armWrite(h.c.FD)
}

// beginStreaming wires the session's demuxed media callback to the
// stream.Context and writes the response head; idempotent.
func (h *rtspHandler) beginStreaming() {
	if h.phase == rtspStreaming {
		return
	}
	h.phase = rtspStreaming
	isMP2T := h.sess.MediaFormat() != rtsp.FormatRTP
	h.streamCtx = stream.NewRTSP(h.c, isMP2T, h.w.logger)
	pool := h.w.pool
	streamCtx := h.streamCtx
	h.sess.OnMediaPacket = func(data []byte, isRTP bool) {
		streamCtx.OnMediaPacket(pool, data)
	}
	if err := h.w.beginStreamingHead(h.c, isMP2T); err != nil {
		h.fail(err)
		return
	}
	h.w.armWrite(h.c.FD)
}

func (h *rtspHandler) fail(err error) {
	h.w.logger.Warn("rtsp: stream stopped", "client", h.c.ClientAddr, "err", err)
	if closeUpstream, ok := h.w.upstreamClose[h.c.FD]; ok {
		closeUpstream()
		delete(h.w.upstreamClose, h.c.FD)
	} else {
		h.sess.ForceCleanup()
	}
	if h.phase == rtspConnecting || h.c.State() != conn.StateStreaming {
		h.w.writeSimple(h.c, 503, fmt.Sprintf("rtsp: %v", err))
		return
	}
	h.w.closeConn(h.c)
}

// startRTSP dials rtspURL's host non-blockingly, registers the control
// socket with the reactor, and returns once the connect is in flight;
// the handshake continues from OnEvent as connect/DESCRIBE/SETUP/PLAY
// responses arrive.
func (w *worker) startRTSP(c *conn.Conn, rtspURL, host, playseek string) error {
	fd, sa, err := dialRTSPControl(host)
	if err != nil {
		return err
	}

	sess := rtsp.NewSession(rtspURL, host, "")
	sess.Playseek = playseek
	sess.ControlFD = fd
	h := &rtspHandler{w: w, c: c, sess: sess, phase: rtspConnecting}

	if err := w.rx.Register(fd, unix.EPOLLOUT, h); err != nil {
		_ = unix.Close(fd)
		return err
	}
	// sess.ControlFD is read at call time, not captured, since a redirect
	// replaces it with a freshly dialed fd partway through the session.
	w.upstreamClose[c.FD] = func() {
		if sess.ControlFD >= 0 {
			w.rx.Deregister(sess.ControlFD)
		}
		sess.ForceCleanup()
	}

	connErr := unix.Connect(fd, sa)
	if connErr != nil && !errors.Is(connErr, unix.EINPROGRESS) {
		w.rx.Deregister(fd)
		_ = unix.Close(fd)
		delete(w.upstreamClose, c.FD)
		return connErr
	}
	return nil
}

func dialRTSPControl(host string) (int, unix.Sockaddr, error) {
	hostname, portStr, err := net.SplitHostPort(host)
	port := defaultRTSPPort
	if err != nil {
		hostname = host
	} else if p, perr := strconv.Atoi(portStr); perr == nil {
		port = p
	}

	ipAddr, err := net.ResolveIPAddr("ip4", hostname)
	if err != nil {
		return -1, nil, fmt.Errorf("rtsp: resolve %q: %w", hostname, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("rtsp: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("rtsp: set nonblock: %w", err)
	}

	var addr [4]byte
	copy(addr[:], ipAddr.IP.To4())
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	return fd, sa, nil
}

// serveUDPxyRTSP handles the udpxy-compatible /rtsp/<rest> prefix,
// rebuilding the full rtsp:// URL from the remainder of the path and
// converting any playseek query parameter to UTC per the client's
// User-Agent-embedded timezone offset.
func (w *worker) serveUDPxyRTSP(c *conn.Conn, req *httpgw.Request, target string) {
	path, playseek := splitPlayseekQuery(target)
	host := path
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		host = path[:idx]
	}

	if playseek != "" {
		converted, err := rtsp.ConvertPlayseek(playseek, req.UserAgent)
		if err != nil {
			w.writeSimple(c, 400, fmt.Sprintf("rtsp: %v", err))
			return
		}
		playseek = converted
	}

	if err := w.startRTSP(c, "rtsp://"+path, host, playseek); err != nil {
		w.writeSimple(c, 503, fmt.Sprintf("rtsp: dial failed: %v", err))
	}
}

// serveServiceRTSP handles a resolved [services] entry whose URL scheme
// is rtsp://.
func (w *worker) serveServiceRTSP(c *conn.Conn, req *httpgw.Request, rawURL, authority string) {
	path, playseek := splitPlayseekQuery(rawURL)
	if playseek != "" {
		converted, err := rtsp.ConvertPlayseek(playseek, req.UserAgent)
		if err != nil {
			w.writeSimple(c, 400, fmt.Sprintf("rtsp: %v", err))
			return
		}
		playseek = converted
	}
	if err := w.startRTSP(c, path, authority, playseek); err != nil {
		w.writeSimple(c, 503, fmt.Sprintf("rtsp: dial failed: %v", err))
	}
}

// splitPlayseekQuery extracts a `playseek=` query parameter from a raw
// URL or path, returning the URL with that parameter removed.
func splitPlayseekQuery(raw string) (stripped, playseek string) {
	q := strings.IndexByte(raw, '?')
	if q < 0 {
		return raw, ""
	}
	base, query := raw[:q], raw[q+1:]
	var kept []string
	for _, part := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(part, "playseek="); ok {
			playseek = v
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return base, playseek
	}
	return base + "?" + strings.Join(kept, "&"), playseek
}
