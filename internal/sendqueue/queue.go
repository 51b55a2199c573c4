// Package sendqueue implements the zero-copy egress path: a per-connection
// FIFO of buffers, batch flushing, MSG_ZEROCOPY completion tracking, and
// sendfile support. This is component B of the gateway.
package sendqueue

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
)

// Status is the result of one Drain call.
type Status int

const (
	// StatusOK means the queue made forward progress and may have more to
	// send (caller should call Drain again if should flush).
	StatusOK Status = iota
	// StatusDrained means the queue is now empty.
	StatusDrained
	// StatusWouldBlock means EAGAIN/ENOBUFS: arm EPOLLOUT and retry later.
	StatusWouldBlock
	// StatusError means a fatal I/O error; the connection must close.
	StatusError
)

// Config tunes batching and caps, mirroring spec.md §4.B defaults.
type Config struct {
	BatchThreshold int  // bytes; flush once byte total crosses this
	MaxIovecs      int  // cap on gathered iovecs per sendmsg
	ByteLimit      int64 // per-connection backpressure limit
	ZeroCopy       bool // enable MSG_ZEROCOPY
}

// DefaultConfig matches spec.md's stated defaults (64 KiB batch, 16 iovecs).
func DefaultConfig() Config {
	return Config{
		BatchThreshold: 64 * 1024,
		MaxIovecs:      16,
		ByteLimit:      4 * 1024 * 1024,
		ZeroCopy:       false,
	}
}

// pendingRange is a contiguous span of buffers sent under one zero-copy id.
type pendingRange struct {
	id   uint32
	bufs []*bufpool.Buffer
}

// Queue is a per-connection FIFO. It is single-threaded: only the owning
// worker's event-loop goroutine touches it, matching the gateway's
// cooperative concurrency model.
type Queue struct {
	cfg Config

	items     []*bufpool.Buffer
	byteTotal int64

	pending  []pendingRange
	nextZCID uint32

	// Stats mirrored into the status shared-memory region.
	Flushes        uint64
	WouldBlocks    uint64
	ZeroCopyCopied uint64
	DroppedBytes   uint64
	DroppedPackets uint64
}

// New creates a send queue with the given configuration.
func New(cfg Config) *Queue {
	return &Queue{cfg: cfg}
}

// ByteTotal returns the current queued byte count, which spec.md §8
// requires always equal bytes-enqueued minus bytes-sent.
func (q *Queue) ByteTotal() int64 {
	return q.byteTotal
}

// Empty reports whether the queue has nothing left to send.
func (q *Queue) Empty() bool {
	return len(q.items) == 0
}

// OverLimit reports whether the queue has saturated its configured byte
// limit; producers must drop new work when this is true.
func (q *Queue) OverLimit() bool {
	return q.cfg.ByteLimit > 0 && q.byteTotal >= q.cfg.ByteLimit
}

// EnqueueMemory appends a pool buffer to the tail of the queue, taking an
// additional reference so the producer's own reference remains valid.
func (q *Queue) EnqueueMemory(buf *bufpool.Buffer) {
	buf.Ref()
	q.items = append(q.items, buf)
	q.byteTotal += int64(buf.Len())
}

// EnqueueFile appends an fd-backed entry; ownership of fd transfers to the
// queue (and ultimately to the Buffer's Release once fully sent).
func (q *Queue) EnqueueFile(fd int, offset, length int64) {
	fb := bufpool.NewFile(fd, offset, length)
	q.items = append(q.items, fb)
	q.byteTotal += length
}

// ShouldFlush reports whether the queue has accumulated enough bytes, or
// has a FILE entry at its head, to warrant an immediate drain attempt.
func (q *Queue) ShouldFlush() bool {
	if len(q.items) == 0 {
		return false
	}
	if q.items[0].Kind == bufpool.KindFile {
		return true
	}
	return q.byteTotal >= int64(q.cfg.BatchThreshold)
}

// DropHead is called by a producer when OverLimit() is true: it records
// the drop without touching the queue (the new packet was never
// enqueued), per spec.md §4.B backpressure semantics.
func (q *Queue) DropHead(bytesDropped int) {
	q.DroppedBytes += uint64(bytesDropped)
	q.DroppedPackets++
}

// Drain attempts to send as much of the queue as possible without
// blocking. It gathers contiguous MEMORY buffers into up to MaxIovecs
// iovecs for a single sendmsg call, or issues one sendfile call when the
// head is a FILE entry; FILE and MEMORY entries are never mixed in one
// syscall, so a MEMORY gather stops at the first FILE entry.
func (q *Queue) Drain(fd int) (sent int, status Status, err error) {
	if len(q.items) == 0 {
		return 0, StatusDrained, nil
	}

	head := q.items[0]
	if head.Kind == bufpool.KindFile {
		return q.drainFile(fd, head)
	}
	return q.drainMemory(fd)
}

func (q *Queue) drainFile(fd int, fb *bufpool.Buffer) (int, Status, error) {
	off := fb.FileOffset + (fb.FileBytes - fb.Remaining())
	n, err := unix.Sendfile(fd, fb.FileFD, &off, int(fb.Remaining()))
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			q.WouldBlocks++
			return 0, StatusWouldBlock, nil
		}
		return 0, StatusError, err
	}
	fb.AdvanceFile(int64(n))
	q.byteTotal -= int64(n)
	if fb.Remaining() <= 0 {
		q.popHead()
		fb.Release()
		if len(q.items) == 0 {
			return n, StatusDrained, nil
		}
	}
	return n, StatusOK, nil
}

func (q *Queue) drainMemory(fd int) (int, Status, error) {
	iovBufs := make([]*bufpool.Buffer, 0, q.cfg.MaxIovecs)
	iovs := make([][]byte, 0, q.cfg.MaxIovecs)
	for _, item := range q.items {
		if item.Kind != bufpool.KindMemory {
			break
		}
		if len(iovBufs) >= q.cfg.MaxIovecs {
			break
		}
		iovBufs = append(iovBufs, item)
		iovs = append(iovs, item.Bytes())
	}
	if len(iovBufs) == 0 {
		return 0, StatusDrained, nil
	}

	flags := unix.MSG_DONTWAIT | unix.MSG_NOSIGNAL
	var zcID uint32
	useZC := q.cfg.ZeroCopy
	if useZC {
		flags |= unix.MSG_ZEROCOPY
	}

	n, err := sendmsgIovecs(fd, iovs, flags)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS) {
			q.WouldBlocks++
			return 0, StatusWouldBlock, nil
		}
		return 0, StatusError, err
	}

	if useZC && n > 0 {
		zcID = q.nextZCID
		q.nextZCID++
	}

	q.advanceAfterSend(iovBufs, n, useZC, zcID)
	q.Flushes++

	status := StatusOK
	if len(q.items) == 0 {
		status = StatusDrained
	}
	return n, status, nil
}

// advanceAfterSend walks the sent byte count across the gathered buffers,
// popping fully-sent ones and splitting a partially-sent buffer in place
// by advancing its offset (the iovec gather naturally reads the updated
// offset on the next Drain call).
func (q *Queue) advanceAfterSend(bufs []*bufpool.Buffer, n int, zeroCopy bool, zcID uint32) {
	remaining := n
	var consumed []*bufpool.Buffer
	for _, b := range bufs {
		if remaining <= 0 {
			break
		}
		l := b.Len()
		if remaining >= l {
			remaining -= l
			q.byteTotal -= int64(l)
			q.popHead()
			consumed = append(consumed, b)
			continue
		}
		// Partial send: advance in place, keep at queue head.
		b.Advance(remaining, l-remaining)
		q.byteTotal -= int64(remaining)
		if zeroCopy {
			// A partially sent buffer resets its assigned id; the next
			// send acquires a fresh one for the remainder.
			b.ClearZeroCopyID()
		}
		remaining = 0
	}

	if !zeroCopy || len(consumed) == 0 {
		for _, b := range consumed {
			b.Release()
		}
		return
	}

	for _, b := range consumed {
		b.SetZeroCopyID(zcID)
	}
	q.pending = append(q.pending, pendingRange{id: zcID, bufs: consumed})
}

// Drop releases every buffer still queued, used when a connection closes
// with unsent data still pending.
func (q *Queue) Drop() {
	for _, b := range q.items {
		if b != nil {
			b.Release()
		}
	}
	q.items = nil
	q.byteTotal = 0
	for _, p := range q.pending {
		for _, b := range p.bufs {
			b.Release()
		}
	}
	q.pending = nil
}

func (q *Queue) popHead() {
	q.items[0] = nil
	q.items = q.items[1:]
}
