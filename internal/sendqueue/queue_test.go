package sendqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
)

func testPool(t *testing.T) *bufpool.Pool {
	t.Helper()
	p, err := bufpool.New(bufpool.Config{BufferSize: 2048, SegmentBufs: 8, InitialSegs: 1, ExpandSegs: 1, MaxBuffers: 64, LowWatermark: 2, HighWatermark: 16})
	require.NoError(t, err)
	return p
}

func memBuf(t *testing.T, p *bufpool.Pool, data string) *bufpool.Buffer {
	t.Helper()
	b := p.Alloc(len(data))
	require.NotNil(t, b)
	n := copy(b.Cap(), data)
	b.SetLen(n)
	return b
}

func TestQueue_ShouldFlushOnByteThreshold(t *testing.T) {
	q := New(Config{BatchThreshold: 10, MaxIovecs: 16})
	p := testPool(t)

	q.EnqueueMemory(memBuf(t, p, "1234"))
	assert.False(t, q.ShouldFlush())

	q.EnqueueMemory(memBuf(t, p, "567890123"))
	assert.True(t, q.ShouldFlush())
}

func TestQueue_ShouldFlushOnFileHead(t *testing.T) {
	q := New(DefaultConfig())
	q.EnqueueFile(-1, 0, 100)
	assert.True(t, q.ShouldFlush())
}

func TestQueue_ByteTotalAccounting(t *testing.T) {
	q := New(DefaultConfig())
	p := testPool(t)

	q.EnqueueMemory(memBuf(t, p, "hello"))
	q.EnqueueMemory(memBuf(t, p, "world!"))
	assert.Equal(t, int64(11), q.ByteTotal())
}

func TestQueue_OverLimit(t *testing.T) {
	q := New(Config{BatchThreshold: 1024, MaxIovecs: 16, ByteLimit: 10})
	p := testPool(t)

	q.EnqueueMemory(memBuf(t, p, "0123456789"))
	assert.True(t, q.OverLimit())
}

func TestQueue_DropHeadRecordsStatsWithoutMutatingQueue(t *testing.T) {
	q := New(DefaultConfig())
	before := q.ByteTotal()
	q.DropHead(188)
	assert.Equal(t, before, q.ByteTotal())
	assert.Equal(t, uint64(188), q.DroppedBytes)
	assert.Equal(t, uint64(1), q.DroppedPackets)
}

func TestQueue_FIFOOrderOnEnqueue(t *testing.T) {
	q := New(Config{BatchThreshold: 1, MaxIovecs: 16})
	p := testPool(t)
	q.EnqueueMemory(memBuf(t, p, "first"))
	q.EnqueueMemory(memBuf(t, p, "second"))
	require.Len(t, q.items, 2)
	assert.Equal(t, "first", string(q.items[0].Bytes()))
	assert.Equal(t, "second", string(q.items[1].Bytes()))
}

func TestIdInRange_NoWrap(t *testing.T) {
	assert.True(t, idInRange(5, 1, 10))
	assert.False(t, idInRange(11, 1, 10))
}

func TestIdInRange_Wrapped(t *testing.T) {
	assert.True(t, idInRange(0, 4294967290, 2))
	assert.True(t, idInRange(4294967295, 4294967290, 2))
	assert.False(t, idInRange(3, 4294967290, 2))
}

// TestQueue_DrainMemoryOverSocketpair exercises the real sendmsg gather
// path end to end using a local socketpair, without any network access.
func TestQueue_DrainMemoryOverSocketpair(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	q := New(Config{BatchThreshold: 1, MaxIovecs: 16})
	p := testPool(t)
	q.EnqueueMemory(memBuf(t, p, "hello "))
	q.EnqueueMemory(memBuf(t, p, "world"))

	sent, status, err := q.Drain(fds[0])
	require.NoError(t, err)
	assert.Equal(t, 11, sent)
	assert.Equal(t, StatusDrained, status)
	assert.True(t, q.Empty())

	got := make([]byte, 11)
	n, rerr := unix.Read(fds[1], got)
	require.NoError(t, rerr)
	assert.Equal(t, "hello world", string(got[:n]))
}
