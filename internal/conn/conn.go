// Package conn implements the per-connection object: component F of the
// gateway. A Conn owns one client TCP socket, its HTTP parser state, its
// egress queue, and (once streaming begins) a reference to its stream
// context. Connections are owned exclusively by the worker that accepted
// them; nothing here is safe for concurrent use from more than one
// goroutine, matching the single-threaded-per-worker reactor model.
package conn

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
	"github.com/r2hgw/rtp2httpd/internal/httpgw"
	"github.com/r2hgw/rtp2httpd/internal/sendqueue"
)

// errInputOverflow is returned by AppendInput when the 8 KiB request-input
// cap is exceeded while still parsing the request line or headers.
var errInputOverflow = errors.New("conn: input buffer exceeds cap")

// State is the connection's lifecycle state.
type State int

const (
	StateReading State = iota
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const maxInputBuf = 8 * 1024

// slowConsumerWindow is how long a connection's send queue must stay
// pinned at its byte limit before it is flagged a slow consumer and
// closed, per spec.md's backpressure contract.
const slowConsumerWindow = 5 * time.Second

// StreamCloser is implemented by the stream context a connection owns
// once routing creates one; Close releases upstream resources.
type StreamCloser interface {
	Close()
}

// Conn is one accepted client connection, owned by a single worker.
type Conn struct {
	FD         int
	ClientAddr string

	state  State
	parser *httpgw.Parser
	input  []byte

	Queue *sendqueue.Queue
	pool  *bufpool.Pool

	Stream StreamCloser

	StatusSlot int // index into the shared status registry, -1 until registered

	// Slow-consumer bookkeeping: Highwater is the largest queue byte total
	// ever observed on this connection, BackpressureEvents counts how many
	// times it was flagged and closed for sustained backpressure (always
	// 0 or 1, since a flagged connection is closed), and overLimitSince is
	// zero unless the queue is currently pinned at its byte limit.
	Highwater          int64
	BackpressureEvents int64
	overLimitSince     time.Time

	Logger *slog.Logger

	createdAt time.Time
}

// New creates a connection object around an already-accepted, not-yet
// configured socket fd.
func New(fd int, clientAddr string, pool *bufpool.Pool, qcfg sendqueue.Config, logger *slog.Logger) (*Conn, error) {
	if err := configureSocket(fd, qcfg.ZeroCopy); err != nil {
		return nil, err
	}
	return &Conn{
		FD:         fd,
		ClientAddr: clientAddr,
		state:      StateReading,
		parser:     httpgw.NewParser(),
		Queue:      sendqueue.New(qcfg),
		pool:       pool,
		StatusSlot: -1,
		Logger:     logger,
		createdAt:  time.Now(),
	}, nil
}

func configureSocket(fd int, zeroCopy bool) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return err
	}
	if zeroCopy {
		// Best-effort: older kernels lack SO_ZEROCOPY, in which case the
		// send queue silently falls back to the copying sendmsg path.
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ZEROCOPY, 1)
	}
	return nil
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State { return c.state }

// MarkClosing transitions the connection to draining-then-close.
func (c *Conn) MarkClosing() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosing
}

// MarkStreaming transitions the connection into the long-lived streaming
// state once routing has created a stream context for it.
func (c *Conn) MarkStreaming() {
	if c.state == StateReading {
		c.state = StateStreaming
	}
}

// CheckSlowConsumer updates highwater/backpressure bookkeeping from the
// connection's current queue depth and reports whether the queue has
// been pinned at its byte limit for longer than slowConsumerWindow, in
// which case the caller must close the connection.
func (c *Conn) CheckSlowConsumer(now time.Time) bool {
	depth := c.Queue.ByteTotal()
	if depth > c.Highwater {
		c.Highwater = depth
	}
	if !c.Queue.OverLimit() {
		c.overLimitSince = time.Time{}
		return false
	}
	if c.overLimitSince.IsZero() {
		c.overLimitSince = now
		return false
	}
	if now.Sub(c.overLimitSince) < slowConsumerWindow {
		return false
	}
	c.BackpressureEvents++
	return true
}

// Parser exposes the connection's HTTP parser to the read handler.
func (c *Conn) Parser() *httpgw.Parser { return c.parser }

// AppendInput grows the connection's input buffer by b, enforcing the
// 8 KiB cap while still in the REQ_LINE/HEADERS phase.
func (c *Conn) AppendInput(b []byte) error {
	if len(c.input)+len(b) > maxInputBuf {
		return errInputOverflow
	}
	c.input = append(c.input, b...)
	return nil
}

// ConsumeInput drops the first n bytes of the input buffer, called after
// the parser reports how much it consumed.
func (c *Conn) ConsumeInput(n int) {
	c.input = append(c.input[:0], c.input[n:]...)
}

// Close releases the connection's socket, stream context, and queued
// buffers. Safe to call once; idempotent after the first call.
func (c *Conn) Close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	if c.Stream != nil {
		c.Stream.Close()
		c.Stream = nil
	}
	c.Queue.Drop()
	_ = unix.Close(c.FD)
}
