package bufpool

import "golang.org/x/sys/unix"

// NewFile wraps an already-open, owned fd as a FILE buffer for the send
// queue's sendfile path. The fd is closed on final Release.
func NewFile(fd int, offset, size int64) *Buffer {
	return &Buffer{
		Kind:       KindFile,
		FileFD:     fd,
		FileOffset: offset,
		FileBytes:  size,
		refcount:   1,
	}
}

// Remaining returns the bytes not yet sent via sendfile.
func (b *Buffer) Remaining() int64 {
	return b.FileBytes - b.fileSent
}

// AdvanceFile records bytes sent via a partial sendfile call.
func (b *Buffer) AdvanceFile(n int64) {
	b.fileSent += n
}

func releaseFile(b *Buffer) {
	if b.FileFD >= 0 {
		_ = unix.Close(b.FileFD)
		b.FileFD = -1
	}
}
