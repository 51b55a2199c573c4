package rtsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDescribe_AppendsPlayseek(t *testing.T) {
	s := NewSession("rtsp://host/channel", "host", "/channel")
	s.Playseek = "20231231160000-20231231163000"
	req := s.BuildDescribe()
	assert.Contains(t, string(req), "DESCRIBE rtsp://host/channel?playseek=20231231160000-20231231163000 RTSP/1.0")
	assert.Contains(t, string(req), "CSeq: 1")
	assert.Equal(t, StateSendingDescribe, s.State())
}

func TestBuildSetup_OffersInterleavedFirst(t *testing.T) {
	s := NewSession("rtsp://host/channel", "host", "/channel")
	req := string(s.BuildSetup(0, 0))
	assert.Contains(t, req, "MP2T/RTP/TCP;unicast;interleaved=0-1")
	assert.Equal(t, StateSendingSetup, s.State())
}

func TestBuildPlay_IncludesSession(t *testing.T) {
	s := NewSession("rtsp://host/channel", "host", "/channel")
	s.sessionID = "ABC123"
	req := string(s.BuildPlay())
	assert.Contains(t, req, "Session: ABC123")
}

func TestParseResponse_DescribeOK(t *testing.T) {
	raw := []byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\nContent-Type: application/sdp\r\n\r\nresidual-body")
	resp, residual, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "residual-body", string(residual))
}

func TestParseResponse_SessionStripsTimeout(t *testing.T) {
	raw := []byte("RTSP/1.0 200 OK\r\nSession: 12345678;timeout=60\r\n\r\n")
	resp, _, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "12345678", resp.Session)
}

func TestParseResponse_IncompleteReturnsError(t *testing.T) {
	_, _, err := ParseResponse([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\n"))
	assert.Error(t, err)
}

func TestParseTransport_InterleavedMP2T(t *testing.T) {
	transport, format, rtp, rtcp := ParseTransport("MP2T/RTP/TCP;unicast;interleaved=0-1")
	assert.Equal(t, TransportTCPInterleaved, transport)
	assert.Equal(t, FormatRTP, format)
	assert.Equal(t, byte(0), rtp)
	assert.Equal(t, byte(1), rtcp)
}

func TestParseTransport_UDPClientPort(t *testing.T) {
	transport, _, _, _ := ParseTransport("RTP/AVP;unicast;client_port=4000-4001")
	assert.Equal(t, TransportUDP, transport)
}

func TestExtractInterleavedFrames_SingleFrame(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	buf := append([]byte{'$', 0, 0, 4}, payload...)
	frames, tail := ExtractInterleavedFrames(buf)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(0), frames[0].Channel)
	assert.Equal(t, payload, frames[0].Payload)
	assert.Empty(t, tail)
}

func TestExtractInterleavedFrames_PartialFrameKeptAsTail(t *testing.T) {
	buf := []byte{'$', 0, 0, 10, 1, 2, 3}
	frames, tail := ExtractInterleavedFrames(buf)
	assert.Empty(t, frames)
	assert.Equal(t, buf, tail)
}

func TestExtractInterleavedFrames_ResyncsOnGarbage(t *testing.T) {
	payload := []byte{9, 9}
	buf := append([]byte{0xFF, 0xFF}, append([]byte{'$', 1, 0, 2}, payload...)...)
	frames, _ := ExtractInterleavedFrames(buf)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestConvertPlayseek_FourteenDigitWithOffset(t *testing.T) {
	got, err := ConvertPlayseek("20240101000000-20240101003000", "app TZ+08:00")
	require.NoError(t, err)
	assert.Equal(t, "20231231160000-20231231163000", got)
}

func TestConvertPlayseek_TenDigitAlreadyUTC(t *testing.T) {
	got, err := ConvertPlayseek("1704067200", "app")
	require.NoError(t, err)
	assert.Equal(t, "20240101000000", got)
}

func TestConvertPlayseek_OpenEndedRange(t *testing.T) {
	got, err := ConvertPlayseek("1704067200-", "app")
	require.NoError(t, err)
	assert.Equal(t, "20240101000000-", got)
}

func TestHandleRedirect_DecrementsBudgetAndReconnects(t *testing.T) {
	s := NewSession("rtsp://host/a", "host", "/a")
	s.state = StateSendingDescribe
	err := s.handleRedirect(Response{StatusCode: 302, Location: "rtsp://other/a"})
	require.NoError(t, err)
	assert.Equal(t, "rtsp://other/a", s.URL)
	assert.Equal(t, StateConnecting, s.State())
	assert.Equal(t, maxRedirects-1, s.redirectsLeft)
}

func TestHandleRedirect_BudgetExhaustedIsError(t *testing.T) {
	s := NewSession("rtsp://host/a", "host", "/a")
	s.redirectsLeft = 0
	err := s.handleRedirect(Response{StatusCode: 302, Location: "rtsp://other/a"})
	assert.Error(t, err)
	assert.Equal(t, StateError, s.State())
}

func TestInitiateGracefulTeardown_OnlyFromSetupOrPlaying(t *testing.T) {
	s := NewSession("rtsp://host/a", "host", "/a")
	s.state = StateConnected
	assert.Nil(t, s.InitiateGracefulTeardown())

	s.state = StatePlaying
	s.ControlFD = 7
	req := s.InitiateGracefulTeardown()
	assert.Contains(t, string(req), "TEARDOWN")
}
