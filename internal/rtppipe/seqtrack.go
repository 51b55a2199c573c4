package rtppipe

// SeqTracker implements the per-stream-context sequence tracking described
// in spec.md §4.C: signed 16-bit diff against the last accepted sequence
// number, zero loss-distance smoothing, no RFC 3550 probation window.
// Adapted from winkmichael-wink-rtsp-bench's rtp.SeqTracker, simplified to
// the gateway's simpler "drop or log, don't reconstruct" contract.
type SeqTracker struct {
	lastSeq  uint16
	notFirst bool

	duplicates uint64
	lateDrops  uint64
	gaps       uint64
}

// Verdict is the outcome of feeding one sequence number to the tracker.
type Verdict int

const (
	// VerdictAccept means the packet should be forwarded.
	VerdictAccept Verdict = iota
	// VerdictDuplicate means diff == 0.
	VerdictDuplicate
	// VerdictLate means diff < 0 (arrived after a later packet).
	VerdictLate
	// VerdictGap means diff > 1; the packet is still accepted but a gap
	// should be logged exactly once for this jump.
	VerdictGap
)

// Push records seq and returns whether it should be accepted, is a
// duplicate, arrived late, or opened a gap.
func (s *SeqTracker) Push(seq uint16) Verdict {
	if !s.notFirst {
		s.lastSeq = seq
		s.notFirst = true
		return VerdictAccept
	}

	diff := int16(seq - s.lastSeq)
	switch {
	case diff == 0:
		s.duplicates++
		return VerdictDuplicate
	case diff < 0:
		s.lateDrops++
		return VerdictLate
	case diff > 1:
		s.gaps++
		s.lastSeq = seq
		return VerdictGap
	default:
		s.lastSeq = seq
		return VerdictAccept
	}
}

// Stats exposes counters for status reporting.
type Stats struct {
	Duplicates uint64
	LateDrops  uint64
	Gaps       uint64
}

// Stats returns a snapshot of tracker counters.
func (s *SeqTracker) Stats() Stats {
	return Stats{Duplicates: s.duplicates, LateDrops: s.lateDrops, Gaps: s.gaps}
}
