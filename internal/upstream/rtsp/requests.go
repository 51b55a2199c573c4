package rtsp

import (
	"fmt"
	"strings"
)

const userAgent = "rtp2httpd/1.0"

// BuildDescribe builds the DESCRIBE request and transitions to
// SENDING_DESCRIBE. playseek, if set, is appended as a query parameter on
// the request URL per spec.md §4.D.2.
func (s *Session) BuildDescribe() []byte {
	url := s.URL
	if s.Playseek != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = url + sep + "playseek=" + s.Playseek
	}
	req := fmt.Sprintf(
		"DESCRIBE %s RTSP/1.0\r\nCSeq: %d\r\nUser-Agent: %s\r\nAccept: application/sdp\r\n\r\n",
		url, s.nextCSeq(), userAgent,
	)
	s.pending = []byte(req)
	s.sentOffset = 0
	s.state = StateSendingDescribe
	return s.pending
}

// BuildSetup builds the SETUP request offering interleaved transports
// first, then UDP variants when local RTP/RTCP sockets were opened.
// rtpPort/rtcpPort are 0 when no UDP pair was set up.
func (s *Session) BuildSetup(rtpPort, rtcpPort int) []byte {
	var offers []string
	offers = append(offers,
		"MP2T/RTP/TCP;unicast;interleaved=0-1",
		"MP2T/TCP;unicast;interleaved=0-1",
		"RTP/AVP/TCP;unicast;interleaved=0-1",
	)
	if rtpPort > 0 && rtcpPort > 0 {
		offers = append(offers, fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", rtpPort, rtcpPort))
	}
	transportLine := strings.Join(offers, ",")

	req := fmt.Sprintf(
		"SETUP %s RTSP/1.0\r\nCSeq: %d\r\nUser-Agent: %s\r\nTransport: %s\r\n\r\n",
		s.URL, s.nextCSeq(), userAgent, transportLine,
	)
	s.pending = []byte(req)
	s.sentOffset = 0
	s.state = StateSendingSetup
	return s.pending
}

// BuildPlay builds the PLAY request using the Session id returned by
// SETUP.
func (s *Session) BuildPlay() []byte {
	req := fmt.Sprintf(
		"PLAY %s RTSP/1.0\r\nCSeq: %d\r\nUser-Agent: %s\r\nSession: %s\r\n\r\n",
		s.URL, s.nextCSeq(), userAgent, s.sessionID,
	)
	s.pending = []byte(req)
	s.sentOffset = 0
	s.state = StateSendingPlay
	return s.pending
}

// BuildTeardown builds the TEARDOWN request for graceful session end.
func (s *Session) BuildTeardown() []byte {
	req := fmt.Sprintf(
		"TEARDOWN %s RTSP/1.0\r\nCSeq: %d\r\nUser-Agent: %s\r\nSession: %s\r\n\r\n",
		s.URL, s.nextCSeq(), userAgent, s.sessionID,
	)
	s.pending = []byte(req)
	s.sentOffset = 0
	s.state = StateSendingTeardown
	return s.pending
}
