package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/sendqueue"
)

func testConn(t *testing.T) (*conn.Conn, *bufpool.Pool) {
	t.Helper()
	return testConnWithQueue(t, sendqueue.DefaultConfig())
}

func testConnWithQueue(t *testing.T, qcfg sendqueue.Config) (*conn.Conn, *bufpool.Pool) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })

	pool, err := bufpool.New(bufpool.Config{BufferSize: 512, SegmentBufs: 16, InitialSegs: 1, MaxBuffers: 64})
	require.NoError(t, err)

	c, err := conn.New(fds[0], "", pool, qcfg, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, pool
}

func rtpPacket(seq uint16, payload []byte) []byte {
	pkt := make([]byte, 12+len(payload))
	pkt[0] = 0x80 // version 2, no padding/extension/csrc
	pkt[1] = 33   // MP2T payload type
	pkt[2] = byte(seq >> 8)
	pkt[3] = byte(seq)
	copy(pkt[12:], payload)
	return pkt
}

func TestHandlePacket_AcceptsAndForwardsValidRTP(t *testing.T) {
	c, pool := testConn(t)
	ctx := &Context{Conn: c}

	buf := pool.Alloc(0)
	require.NotNil(t, buf)
	n := copy(buf.Cap(), rtpPacket(1, []byte("payload")))
	buf.SetLen(n)

	ctx.handlePacket(buf)

	forwarded, dropped := ctx.Stats()
	assert.Equal(t, uint64(1), forwarded)
	assert.Equal(t, uint64(0), dropped)
	assert.False(t, c.Queue.Empty())
}

func TestHandlePacket_DropsDuplicateSequence(t *testing.T) {
	c, pool := testConn(t)
	ctx := &Context{Conn: c}

	for _, seq := range []uint16{5, 5} {
		buf := pool.Alloc(0)
		require.NotNil(t, buf)
		n := copy(buf.Cap(), rtpPacket(seq, []byte("x")))
		buf.SetLen(n)
		ctx.handlePacket(buf)
	}

	forwarded, dropped := ctx.Stats()
	assert.Equal(t, uint64(1), forwarded)
	assert.Equal(t, uint64(1), dropped)
}

func TestHandlePacket_ForwardsPassthroughNonRTP(t *testing.T) {
	c, pool := testConn(t)
	ctx := &Context{Conn: c}

	buf := pool.Alloc(0)
	require.NotNil(t, buf)
	n := copy(buf.Cap(), []byte("not an rtp packet at all"))
	buf.SetLen(n)

	ctx.handlePacket(buf)

	forwarded, _ := ctx.Stats()
	assert.Equal(t, uint64(1), forwarded)
}

func TestHandlePacket_DropsWhenQueueOverLimit(t *testing.T) {
	qcfg := sendqueue.DefaultConfig()
	qcfg.ByteLimit = 100
	c, pool := testConnWithQueue(t, qcfg)
	c.Queue.EnqueueMemory(mustAlloc(t, pool))
	ctx := &Context{Conn: c}

	buf := pool.Alloc(0)
	require.NotNil(t, buf)
	n := copy(buf.Cap(), rtpPacket(9, []byte("x")))
	buf.SetLen(n)

	ctx.handlePacket(buf)

	_, dropped := ctx.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func mustAlloc(t *testing.T, pool *bufpool.Pool) *bufpool.Buffer {
	t.Helper()
	buf := pool.Alloc(0)
	require.NotNil(t, buf)
	buf.SetLen(len(buf.Cap()))
	return buf
}

func TestIsMP2T(t *testing.T) {
	ctx := &Context{isMP2T: true}
	assert.True(t, ctx.IsMP2T())
}
