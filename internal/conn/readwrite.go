package conn

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/httpgw"
	"github.com/r2hgw/rtp2httpd/internal/sendqueue"
)

// OnReadable drains as much as is available from the socket into the
// connection's input buffer and feeds the HTTP parser. It returns a
// non-nil *httpgw.Request once a full request has been parsed; the caller
// (the worker event loop) is responsible for routing it and resetting the
// parser for the next request on the connection.
func (c *Conn) OnReadable() (*httpgw.Request, error) {
	var scratch [4096]byte
	for {
		n, err := unix.Read(c.FD, scratch[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return c.tryParse()
			}
			return nil, err
		}
		if n == 0 {
			return nil, errPeerClosed
		}
		if err := c.AppendInput(scratch[:n]); err != nil {
			return nil, err
		}
		if req, perr := c.tryParse(); perr != nil || req != nil {
			return req, perr
		}
		if n < len(scratch) {
			// Short read: socket buffer is drained for now.
			return nil, nil
		}
	}
}

func (c *Conn) tryParse() (*httpgw.Request, error) {
	consumed, result, err := c.parser.Feed(c.input)
	c.ConsumeInput(consumed)
	if err != nil {
		return nil, err
	}
	switch result {
	case httpgw.Complete:
		return c.parser.Request(), nil
	case httpgw.NeedMore:
		return nil, nil
	default:
		return nil, errParseFailed
	}
}

var (
	errPeerClosed  = errors.New("conn: peer closed connection")
	errParseFailed = errors.New("conn: request parse failed")
)

// OnWritable drains the send queue until it empties, would block, or
// errors. When the queue drains and the connection is CLOSING, the caller
// should close it.
func (c *Conn) OnWritable() (drained bool, err error) {
	for {
		_, status, derr := c.Queue.Drain(c.FD)
		switch status {
		case sendqueue.StatusWouldBlock:
			return false, nil
		case sendqueue.StatusDrained:
			return true, nil
		case sendqueue.StatusError:
			return false, derr
		case sendqueue.StatusOK:
			continue
		}
	}
}
