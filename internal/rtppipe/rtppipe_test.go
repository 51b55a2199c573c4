package rtppipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
)

func rtpPacket(t *testing.T, version byte, csrcCount byte, ext, pad bool, pt byte, seq uint16, payload []byte, extWords uint16, padLen byte) []byte {
	t.Helper()
	b := []byte{version << 6, pt & 0x7F}
	if ext {
		b[0] |= 0x10
	}
	if pad {
		b[0] |= 0x20
	}
	b[0] |= csrcCount & 0x0F
	b = append(b, byte(seq>>8), byte(seq))
	b = append(b, 0, 0, 0, 0) // timestamp
	b = append(b, 0, 0, 0, 0) // ssrc
	for i := byte(0); i < csrcCount; i++ {
		b = append(b, 0, 0, 0, 0)
	}
	if ext {
		b = append(b, 0xBE, 0xDE, byte(extWords>>8), byte(extWords))
		for i := uint16(0); i < extWords; i++ {
			b = append(b, 0, 0, 0, 0)
		}
	}
	b = append(b, payload...)
	if pad {
		for i := byte(0); i < padLen-1; i++ {
			b = append(b, 0)
		}
		b = append(b, padLen)
	}
	return b
}

func allocWith(t *testing.T, data []byte) *bufpool.Buffer {
	t.Helper()
	p, err := bufpool.New(bufpool.Config{BufferSize: 2048, SegmentBufs: 4, InitialSegs: 1, ExpandSegs: 1, MaxBuffers: 16, LowWatermark: 1, HighWatermark: 4})
	require.NoError(t, err)
	buf := p.Alloc(len(data))
	require.NotNil(t, buf)
	n := copy(buf.Cap(), data)
	buf.SetLen(n)
	return buf
}

func TestExtract_NonRTPPassthrough(t *testing.T) {
	buf := allocWith(t, []byte{0x00, 0x01, 0x02})
	outcome, _ := Extract(buf)
	assert.Equal(t, OutcomePassthrough, outcome)
}

func TestExtract_TooShortPassthrough(t *testing.T) {
	buf := allocWith(t, make([]byte, 8))
	outcome, _ := Extract(buf)
	assert.Equal(t, OutcomePassthrough, outcome)
}

func TestExtract_SimplePayload(t *testing.T) {
	payload := []byte("mpegts-bytes")
	pkt := rtpPacket(t, 2, 0, false, false, 33, 1000, payload, 0, 0)
	buf := allocWith(t, pkt)
	outcome, seq := Extract(buf)
	require.Equal(t, OutcomePayload, outcome)
	assert.Equal(t, uint16(1000), seq)
	assert.Equal(t, payload, buf.Bytes())
}

func TestExtract_FECDropped(t *testing.T) {
	pkt := rtpPacket(t, 2, 0, false, false, 97, 1, []byte("x"), 0, 0)
	buf := allocWith(t, pkt)
	outcome, _ := Extract(buf)
	assert.Equal(t, OutcomeDropFEC, outcome)
}

func TestExtract_ExtensionZeroLengthOffset16(t *testing.T) {
	payload := []byte("payload")
	pkt := rtpPacket(t, 2, 0, true, false, 33, 5, payload, 0, 0)
	buf := allocWith(t, pkt)
	outcome, _ := Extract(buf)
	require.Equal(t, OutcomePayload, outcome)
	assert.Equal(t, payload, buf.Bytes())
}

func TestExtract_CSRCAndExtension(t *testing.T) {
	payload := []byte("abcd")
	pkt := rtpPacket(t, 2, 2, true, false, 33, 5, payload, 2, 0)
	buf := allocWith(t, pkt)
	outcome, _ := Extract(buf)
	require.Equal(t, OutcomePayload, outcome)
	assert.Equal(t, payload, buf.Bytes())
}

func TestExtract_PaddingTrimmed(t *testing.T) {
	payload := []byte("hello world")
	pkt := rtpPacket(t, 2, 0, false, true, 33, 5, payload, 0, 4)
	buf := allocWith(t, pkt)
	outcome, _ := Extract(buf)
	require.Equal(t, OutcomePayload, outcome)
	assert.Equal(t, payload, buf.Bytes())
}

func TestExtract_MalformedExtensionTruncated(t *testing.T) {
	pkt := rtpPacket(t, 2, 0, false, false, 33, 5, nil, 0, 0)
	pkt[0] |= 0x10 // claim extension but don't include one
	buf := allocWith(t, pkt)
	outcome, _ := Extract(buf)
	assert.Equal(t, OutcomeDropMalformed, outcome)
}

func TestSeqTracker_FirstPacketAccepted(t *testing.T) {
	var s SeqTracker
	assert.Equal(t, VerdictAccept, s.Push(100))
}

func TestSeqTracker_InOrderAccepted(t *testing.T) {
	var s SeqTracker
	s.Push(100)
	assert.Equal(t, VerdictAccept, s.Push(101))
}

func TestSeqTracker_Duplicate(t *testing.T) {
	var s SeqTracker
	s.Push(100)
	assert.Equal(t, VerdictDuplicate, s.Push(100))
}

func TestSeqTracker_Late(t *testing.T) {
	var s SeqTracker
	s.Push(100)
	s.Push(105)
	assert.Equal(t, VerdictLate, s.Push(102))
}

func TestSeqTracker_Gap(t *testing.T) {
	var s SeqTracker
	s.Push(100)
	assert.Equal(t, VerdictGap, s.Push(110))
	assert.Equal(t, uint64(1), s.Stats().Gaps)
}

func TestSeqTracker_WraparoundTreatedAsOldDrop(t *testing.T) {
	var s SeqTracker
	s.Push(0)
	// diff = 0 - 32768 = -32768 in int16 arithmetic: must be treated as late/drop.
	v := s.Push(32768)
	assert.Equal(t, VerdictLate, v)
}
