// Package stream implements component J: the glue connecting an upstream
// source driver (multicast or RTSP-fed unicast) to the RTP extraction
// pipeline and onward to a client connection's zero-copy egress queue.
package stream

import (
	"log/slog"
	"net"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/rtppipe"
	"github.com/r2hgw/rtp2httpd/internal/upstream/mcast"
)

// Kind distinguishes which upstream driver a Context wraps.
type Kind int

const (
	KindMulticast Kind = iota
	KindRTSP
)

// Context is one client's live stream: the owning connection, the
// upstream source, and the RTP sequence tracker for that source. A
// worker creates exactly one Context per streaming request and destroys
// it when the client disconnects or the upstream fails.
type Context struct {
	Kind Kind

	Conn   *conn.Conn
	Source *mcast.Source // set when Kind == KindMulticast

	seqTracker rtppipe.SeqTracker
	isMP2T     bool

	Logger *slog.Logger

	dropped uint64
	forwarded uint64
}

// NewMulticast joins the multicast group described and binds it to conn,
// the multicast half of component D feeding component J.
func NewMulticast(kind mcast.Kind, group, source net.IP, port int, iface string, c *conn.Conn, isMP2T bool, logger *slog.Logger) (*Context, error) {
	src, err := mcast.Join(kind, group, source, port, iface)
	if err != nil {
		return nil, err
	}
	ctx := &Context{Kind: KindMulticast, Conn: c, Source: src, isMP2T: isMP2T, Logger: logger}
	c.Stream = ctx
	c.MarkStreaming()
	return ctx, nil
}

// NewRTSP binds a Context to an RTSP-fed connection; the caller owns the
// rtsp.Session and wires its OnMediaPacket callback to ctx.OnMediaPacket
// once both exist, since the session and the Context cannot reference
// each other during construction.
func NewRTSP(c *conn.Conn, isMP2T bool, logger *slog.Logger) *Context {
	ctx := &Context{Kind: KindRTSP, Conn: c, isMP2T: isMP2T, Logger: logger}
	c.Stream = ctx
	c.MarkStreaming()
	return ctx
}

// OnUpstreamReadable is called by the worker event loop when the
// multicast socket becomes readable; it receives one or more datagrams,
// extracts RTP payload, applies sequence tracking, and enqueues accepted
// payload onto the connection's send queue.
func (ctx *Context) OnUpstreamReadable(pool *bufpool.Pool, scratch []byte) error {
	for {
		buf, dropped, err := ctx.Source.Recv(pool, scratch)
		if err != nil {
			return err
		}
		if dropped {
			ctx.dropped++
			continue
		}
		if buf == nil {
			return nil // EAGAIN: drained for now
		}
		ctx.handlePacket(buf)
	}
}

// handlePacket runs one received datagram through RTP extraction and
// sequence tracking, enqueuing it for egress when accepted.
func (ctx *Context) handlePacket(buf *bufpool.Buffer) {
	outcome, seq := rtppipe.Extract(buf)

	switch outcome {
	case rtppipe.OutcomeDropFEC, rtppipe.OutcomeDropMalformed:
		ctx.dropped++
		buf.Release()
		return
	case rtppipe.OutcomePayload:
		switch ctx.seqTracker.Push(seq) {
		case rtppipe.VerdictDuplicate, rtppipe.VerdictLate:
			ctx.dropped++
			buf.Release()
			return
		}
	case rtppipe.OutcomePassthrough:
		// Raw MPEG-TS over UDP with no RTP header: forward as-is.
	}

	if ctx.Conn.Queue.OverLimit() {
		ctx.Conn.Queue.DropHead(buf.Len())
		ctx.dropped++
		buf.Release()
		return
	}

	ctx.forwarded++
	ctx.Conn.QueueZeroCopy(buf)
	buf.Release()
}

// OnMediaPacket is the callback an RTSP session's interleaved or UDP
// media path invokes per extracted TS/RTP frame; it is wired as
// rtsp.Session.OnMediaPacket for KindRTSP contexts by the caller that
// owns both the session and this Context.
func (ctx *Context) OnMediaPacket(pool *bufpool.Pool, data []byte) {
	buf := pool.Alloc(len(data))
	if buf == nil {
		ctx.dropped++
		return
	}
	n := copy(buf.Cap(), data)
	buf.SetLen(n)
	ctx.handlePacket(buf)
}

// IsMP2T reports whether this context's upstream is MPEG-TS, used to pick
// the egress Content-Type.
func (ctx *Context) IsMP2T() bool { return ctx.isMP2T }

// Stats reports forwarded/dropped counters for the status registry.
func (ctx *Context) Stats() (forwarded, dropped uint64) {
	return ctx.forwarded, ctx.dropped
}

// Close releases the upstream source. Safe to call once.
func (ctx *Context) Close() {
	if ctx.Source != nil {
		_ = ctx.Source.Close()
		ctx.Source = nil
	}
}
