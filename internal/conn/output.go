package conn

import (
	"errors"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
)

// errPoolExhausted is returned by QueueOutput when the buffer pool has no
// free buffer to serve a control write; the caller should mark the
// connection CLOSING rather than retry indefinitely.
var errPoolExhausted = errors.New("conn: buffer pool exhausted")

// QueueOutput copies b into a freshly allocated control buffer and
// enqueues it, the output primitive static handlers (status page, 404,
// playlist) use. Payloads larger than the pool's per-buffer capacity are
// split across as many buffers as needed.
func (c *Conn) QueueOutput(b []byte) error {
	for len(b) > 0 {
		buf := c.pool.Alloc(0)
		if buf == nil {
			return errPoolExhausted
		}
		n := copy(buf.Cap(), b)
		buf.SetLen(n)
		c.Queue.EnqueueMemory(buf)
		buf.Release() // queue now holds its own reference
		b = b[n:]
	}
	return nil
}

// QueueOutputAndFlush enqueues b and immediately transitions the
// connection to CLOSING, so the write handler closes it once the queue
// has drained; used for one-shot responses that don't keep the
// connection open.
func (c *Conn) QueueOutputAndFlush(b []byte) error {
	if err := c.QueueOutput(b); err != nil {
		return err
	}
	c.MarkClosing()
	return nil
}

// QueueZeroCopy enqueues a producer-owned pool buffer without copying,
// the hot path streaming handlers use to hand RTP-extracted payload
// straight to the send queue.
func (c *Conn) QueueZeroCopy(buf *bufpool.Buffer) {
	c.Queue.EnqueueMemory(buf)
}

// QueueFile enqueues an fd-backed entry; ownership of fd transfers to the
// queue, used for snapshot/VOD-style file responses served via sendfile.
func (c *Conn) QueueFile(fd int, offset, length int64) {
	c.Queue.EnqueueFile(fd, offset, length)
}
