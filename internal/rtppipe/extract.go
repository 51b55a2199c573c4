// Package rtppipe implements the RTP depayload and sequence-tracking
// pipeline: component C of the gateway. It never copies; it rewrites a
// bufpool.Buffer's header in place and leaves the same buffer ready to
// enqueue on the egress send queue.
package rtppipe

import (
	"encoding/binary"

	"github.com/r2hgw/rtp2httpd/internal/bufpool"
)

// FECPayloadTypes are the RTP payload types treated as forward-error-
// correction data and dropped, per spec.md §4.C. Configurable.
var FECPayloadTypes = map[byte]bool{97: true, 127: true}

// Outcome describes what Extract did with a buffer.
type Outcome int

const (
	// OutcomePassthrough means the datagram was not RTP (or extraction is
	// disabled for this stream kind); the whole buffer is the payload.
	OutcomePassthrough Outcome = iota
	// OutcomePayload means the buffer was clipped to its RTP payload and
	// should be enqueued.
	OutcomePayload
	// OutcomeDropFEC means the packet carried a FEC payload type.
	OutcomeDropFEC
	// OutcomeDropMalformed means the packet failed an RTP structural check.
	OutcomeDropMalformed
	// OutcomeDropDuplicate means the sequence number repeats the last one.
	OutcomeDropDuplicate
	// OutcomeDropLate means the sequence number arrived after a later one.
	OutcomeDropLate
)

// Extract inspects buf's current payload for RTP structure and, if valid,
// clips buf in place to the RTP payload. It never allocates or copies.
// seq is only meaningful when the outcome is OutcomePayload.
func Extract(buf *bufpool.Buffer) (outcome Outcome, seq uint16) {
	data := buf.Bytes()
	if len(data) < 12 || data[0]>>6 != 2 {
		return OutcomePassthrough, 0
	}

	seq = binary.BigEndian.Uint16(data[2:4])

	payloadType := data[1] & 0x7F
	if FECPayloadTypes[payloadType] {
		return OutcomeDropFEC, seq
	}

	csrcCount := int(data[0] & 0x0F)
	payloadStart := 12 + 4*csrcCount
	extension := data[0]&0x10 != 0

	if extension {
		if payloadStart+4 > len(data) {
			return OutcomeDropMalformed, seq
		}
		extLen := int(binary.BigEndian.Uint16(data[payloadStart+2 : payloadStart+4]))
		payloadStart += 4 + 4*extLen
	}

	if payloadStart > len(data) {
		return OutcomeDropMalformed, seq
	}

	payloadLength := len(data) - payloadStart
	if data[0]&0x20 != 0 { // padding bit
		if payloadLength == 0 {
			return OutcomeDropMalformed, seq
		}
		padLen := int(data[len(data)-1])
		payloadLength -= padLen
	}
	if payloadLength < 0 || payloadStart+payloadLength > len(data) {
		return OutcomeDropMalformed, seq
	}

	buf.Advance(payloadStart, payloadLength)
	return OutcomePayload, seq
}
