package rtsp

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// OnWritable drains the pending outbound request. A full write switches
// to EPOLLIN-only and sets awaiting_response, as spec.md §4.D.2's send
// path describes; a partial write leaves EPOLLOUT armed.
func (s *Session) OnWritable() (wantWrite bool, err error) {
	if len(s.pending) == 0 || s.sentOffset >= len(s.pending) {
		return false, nil
	}
	n, werr := unix.Write(s.ControlFD, s.pending[s.sentOffset:])
	if werr != nil {
		if errors.Is(werr, unix.EAGAIN) {
			return true, nil
		}
		return false, werr
	}
	s.sentOffset += n
	if s.sentOffset < len(s.pending) {
		return true, nil
	}
	s.awaiting = true
	return false, nil
}

// OnReadable reads available control-socket bytes, accumulating into
// respBuf until a full response is parsed, then advances the state
// machine per the phase transitions in spec.md §4.D.2. residualMedia
// carries any interleaved media bytes that arrived attached to the PLAY
// response, which the caller must feed to OnInterleavedData.
func (s *Session) OnReadable() (residualMedia []byte, err error) {
	scratch := make([]byte, 4096)
	for {
		n, rerr := unix.Read(s.ControlFD, scratch)
		if rerr != nil {
			if errors.Is(rerr, unix.EAGAIN) {
				break
			}
			s.state = StateError
			return nil, rerr
		}
		if n == 0 {
			s.state = StateError
			return nil, fmt.Errorf("rtsp: control socket closed by peer")
		}
		s.respBuf = append(s.respBuf, scratch[:n]...)
		if findHeaderEnd(s.respBuf) < 0 {
			continue
		}
		resp, residual, perr := ParseResponse(s.respBuf)
		s.respBuf = nil
		s.awaiting = false
		if perr != nil {
			s.state = StateError
			return nil, perr
		}
		media, herr := s.handleResponse(resp, residual)
		if herr != nil {
			return nil, herr
		}
		return media, nil
	}
	return nil, nil
}

// handleResponse applies one parsed response against the current state.
func (s *Session) handleResponse(resp Response, residual []byte) ([]byte, error) {
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, s.handleRedirect(resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.state = StateError
		return nil, fmt.Errorf("rtsp: non-2xx response %d %s", resp.StatusCode, resp.Reason)
	}

	switch s.state {
	case StateSendingDescribe:
		s.state = StateDescribed
		return nil, nil

	case StateSendingSetup:
		if resp.Session != "" {
			s.sessionID = resp.Session
		}
		transport, format, rtpCh, rtcpCh := ParseTransport(resp.Transport)
		s.transport = transport
		s.format = format
		s.rtpChannel = rtpCh
		s.rtcpChannel = rtcpCh
		if transport == TransportTCPInterleaved {
			s.closeUDPMedia()
		}
		s.state = StateSetup
		return nil, nil

	case StateSendingPlay:
		s.state = StatePlaying
		return residual, nil

	case StateSendingTeardown:
		s.state = StateTeardownComplete
		s.ForceCleanup()
		return nil, nil

	default:
		return nil, fmt.Errorf("rtsp: unexpected response in state %s", s.state)
	}
}

func (s *Session) handleRedirect(resp Response) error {
	if s.redirectsLeft <= 0 {
		s.state = StateError
		return fmt.Errorf("rtsp: redirect budget exhausted")
	}
	if resp.Location == "" {
		s.state = StateError
		return fmt.Errorf("rtsp: redirect response missing Location")
	}
	s.redirectsLeft--
	s.URL = resp.Location
	s.closeControl()
	s.state = StateConnecting
	return nil
}

// OnInterleavedData feeds newly received TCP bytes through the
// interleaved-frame extractor, dispatching MP2T frames and RTP frames
// separately and preserving any trailing partial frame.
func (s *Session) OnInterleavedData(data []byte) {
	s.mediaBuf = append(s.mediaBuf, data...)
	frames, tail := ExtractInterleavedFrames(s.mediaBuf)
	s.mediaBuf = append([]byte(nil), tail...)
	for _, f := range frames {
		if f.Channel != s.rtpChannel {
			continue
		}
		if s.OnMediaPacket != nil {
			s.OnMediaPacket(f.Payload, s.format == FormatRTP)
		}
	}
}

// InitiateGracefulTeardown is called when the client disconnects while
// the session is in SETUP or PLAYING. If the control socket is healthy
// it sends TEARDOWN directly; otherwise it moves to RECONNECTING for
// exactly one reconnect attempt before force-cleaning.
func (s *Session) InitiateGracefulTeardown() []byte {
	if s.state != StateSetup && s.state != StatePlaying {
		return nil
	}
	if s.ControlFD >= 0 {
		return s.BuildTeardown()
	}
	s.state = StateReconnecting
	return nil
}

// ForceCleanup closes and deregisters every socket the session owns and
// resets session fields, per spec.md §4.D.2's failure semantics.
func (s *Session) ForceCleanup() {
	s.closeControl()
	s.closeUDPMedia()
	s.sessionID = ""
	s.pending = nil
	s.sentOffset = 0
	s.respBuf = nil
	s.mediaBuf = nil
	s.awaiting = false
}

func (s *Session) closeControl() {
	if s.ControlFD >= 0 {
		_ = unix.Close(s.ControlFD)
		s.ControlFD = -1
	}
}

func (s *Session) closeUDPMedia() {
	if s.RTPFD >= 0 {
		_ = unix.Close(s.RTPFD)
		s.RTPFD = -1
	}
	if s.RTCPFD >= 0 {
		_ = unix.Close(s.RTCPFD)
		s.RTCPFD = -1
	}
}
