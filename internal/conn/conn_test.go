package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
	"github.com/r2hgw/rtp2httpd/internal/sendqueue"
)

func testPool(t *testing.T) *bufpool.Pool {
	t.Helper()
	p, err := bufpool.New(bufpool.Config{BufferSize: 256, SegmentBufs: 8, InitialSegs: 1, MaxBuffers: 64})
	require.NoError(t, err)
	return p
}

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestNew_ConfiguresSocketNonBlocking(t *testing.T) {
	fd, peer := socketpair(t)
	c, err := New(fd, "127.0.0.1:9999", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, StateReading, c.State())
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
	_ = peer
}

func TestAppendInput_RejectsOverCap(t *testing.T) {
	fd, _ := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	big := make([]byte, maxInputBuf+1)
	assert.ErrorIs(t, c.AppendInput(big), errInputOverflow)
}

func TestConsumeInput_DropsPrefix(t *testing.T) {
	fd, _ := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.AppendInput([]byte("abcdef")))
	c.ConsumeInput(3)
	assert.Equal(t, []byte("def"), c.input)
}

func TestOnReadable_ParsesCompleteRequest(t *testing.T) {
	fd, peer := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	raw := "GET /CCTV1 HTTP/1.1\r\nHost: gw.local\r\n\r\n"
	n, err := unix.Write(peer, []byte(raw))
	require.NoError(t, err)
	require.Equal(t, len(raw), n)

	req, err := c.OnReadable()
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "/CCTV1", req.URL)
	assert.Equal(t, "gw.local", req.Host)
}

func TestOnReadable_PeerCloseReportsError(t *testing.T) {
	fd, peer := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, unix.Close(peer))

	_, err = c.OnReadable()
	assert.ErrorIs(t, err, errPeerClosed)
}

func TestQueueOutputAndFlush_SendsThenMarksClosing(t *testing.T) {
	fd, peer := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.QueueOutputAndFlush([]byte("hello")))
	assert.Equal(t, StateClosing, c.State())

	drained, err := c.OnWritable()
	require.NoError(t, err)
	assert.True(t, drained)

	got := make([]byte, 5)
	n, err := unix.Read(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got[:n]))
}

func TestQueueFile_EnqueuesFileEntry(t *testing.T) {
	fd, _ := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	c.QueueFile(-1, 0, 0)
	assert.False(t, c.Queue.Empty())
}

func TestMarkStreamingOnlyFromReading(t *testing.T) {
	fd, _ := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	c.MarkClosing()
	c.MarkStreaming()
	assert.Equal(t, StateClosing, c.State())
}

func TestClose_Idempotent(t *testing.T) {
	fd, _ := socketpair(t)
	c, err := New(fd, "", testPool(t), sendqueue.DefaultConfig(), nil)
	require.NoError(t, err)

	c.Close()
	assert.Equal(t, StateClosed, c.State())
	assert.NotPanics(t, c.Close)
}
