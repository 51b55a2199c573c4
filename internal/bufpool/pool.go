package bufpool

// Config controls pool sizing. Mirrors the spec's buffer-pool-max-size CLI
// knob and the proactive/reactive expansion thresholds.
type Config struct {
	BufferSize    int // per-buffer payload capacity, default 2 KiB
	SegmentBufs   int // buffers per segment
	InitialSegs   int // segments allocated up front
	ExpandSegs    int // segments added per expansion step
	MaxBuffers    int // hard cap, 0 = unbounded
	LowWatermark  int // free-count floor that triggers proactive expansion
	HighWatermark int // free-count ceiling that allows shrink
}

// DefaultConfig matches the spec's stated defaults: 2 KiB buffers, a
// pool max of 16384.
func DefaultConfig() Config {
	return Config{
		BufferSize:    2048,
		SegmentBufs:   256,
		InitialSegs:   1,
		ExpandSegs:    1,
		MaxBuffers:    16384,
		LowWatermark:  32,
		HighWatermark: 512,
	}
}

// segment is a contiguous allocation of N equally sized buffers plus N
// buffer headers. Pools grow and shrink one segment at a time.
type segment struct {
	buffers  []Buffer
	backing  []byte
	freeCnt  int
}

// Stats reports pool-wide counters for the status shared-memory mirror.
type Stats struct {
	TotalBuffers int
	FreeBuffers  int
	Expansions   uint64
	Exhaustions  uint64
	Shrinks      uint64
}

// Pool is a single-threaded-per-worker free list of Buffers threaded
// through Segments. It is not safe for concurrent use across goroutines;
// each worker owns exactly one Pool and calls into it only from its own
// event loop goroutine, matching spec.md's "per-worker, not shared; no
// locking" resource model.
type Pool struct {
	cfg      Config
	segments []*segment
	free     []*Buffer // LIFO free list, cache friendly

	expansions  uint64
	exhaustions uint64
	shrinks     uint64
}

// New creates a pool with its initial segments pre-allocated. Failure to
// allocate the initial segment is a fatal startup error per spec.md §7
// ("the process never panics on bad input... it panics only on
// unrecoverable initialization failures... cannot create pool").
func New(cfg Config) (*Pool, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.SegmentBufs <= 0 {
		cfg.SegmentBufs = DefaultConfig().SegmentBufs
	}
	if cfg.InitialSegs <= 0 {
		cfg.InitialSegs = 1
	}
	if cfg.ExpandSegs <= 0 {
		cfg.ExpandSegs = 1
	}
	p := &Pool{cfg: cfg}
	for i := 0; i < cfg.InitialSegs; i++ {
		if err := p.addSegment(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) addSegment() error {
	n := p.cfg.SegmentBufs
	bufSize := p.cfg.BufferSize
	// Go's allocator already hands out 8/16-byte aligned slices for
	// allocations this size; we round the per-buffer stride up to a full
	// cache line so two adjacent buffers in the segment never share one,
	// which is what lets recv() and MSG_ZEROCOPY send() touch a buffer
	// without false-sharing its neighbor.
	if bufSize%cacheLine != 0 {
		bufSize += cacheLine - (bufSize % cacheLine)
	}
	backing := make([]byte, n*bufSize)
	seg := &segment{buffers: make([]Buffer, n), backing: backing, freeCnt: n}
	for i := 0; i < n; i++ {
		b := &seg.buffers[i]
		b.Kind = KindMemory
		b.data = backing[i*bufSize : (i+1)*bufSize]
		b.segment = seg
		b.slotIndex = i
		b.pool = p
		p.free = append(p.free, b)
	}
	p.segments = append(p.segments, seg)
	return nil
}

func (p *Pool) totalBuffers() int {
	return len(p.segments) * p.cfg.SegmentBufs
}

// Alloc pops the free list, expanding the pool if it is empty or has
// dipped below the low watermark. Returns nil, non-fatally, when the pool
// is exhausted and at cap: callers must drop the incoming unit of work.
func (p *Pool) Alloc(requestedSize int) *Buffer {
	if requestedSize > p.cfg.BufferSize {
		return nil
	}
	if len(p.free) == 0 {
		if !p.tryExpand() {
			p.exhaustions++
			return nil
		}
	}
	last := len(p.free) - 1
	b := p.free[last]
	p.free[last] = nil
	p.free = p.free[:last]
	b.segment.freeCnt--
	b.refcount = 1
	b.off = 0
	b.length = 0
	b.zcID = 0
	p.maybeProactiveExpand()
	return b
}

func (p *Pool) tryExpand() bool {
	if p.cfg.MaxBuffers > 0 && p.totalBuffers()+p.cfg.SegmentBufs > p.cfg.MaxBuffers {
		return false
	}
	if err := p.addSegment(); err != nil {
		return false
	}
	p.expansions++
	return true
}

// maybeProactiveExpand is called after every successful Alloc; if the free
// count crossed the low watermark and the pool is still under cap, it
// expands preemptively so the next burst of allocs does not stall on an
// expansion. Failure here is non-fatal.
func (p *Pool) maybeProactiveExpand() {
	if len(p.free) >= p.cfg.LowWatermark {
		return
	}
	if p.cfg.MaxBuffers > 0 && p.totalBuffers() >= p.cfg.MaxBuffers {
		return
	}
	_ = p.tryExpand()
}

// put returns a buffer to its segment's free list. Called only once a
// buffer's refcount has reached zero.
func (p *Pool) put(b *Buffer) {
	b.segment.freeCnt++
	p.free = append(p.free, b)
}

// TryShrink frees whole segments that are entirely idle, oldest first,
// once free count exceeds the high watermark and at least one segment
// beyond the initial allocation exists. Called on connection teardown.
func (p *Pool) TryShrink() {
	if len(p.free) <= p.cfg.HighWatermark {
		return
	}
	for len(p.segments) > p.cfg.InitialSegs {
		oldest := p.segments[0]
		if oldest.freeCnt != p.cfg.SegmentBufs {
			break
		}
		p.removeSegmentFreeList(oldest)
		p.segments = p.segments[1:]
		p.shrinks++
	}
}

func (p *Pool) removeSegmentFreeList(seg *segment) {
	kept := p.free[:0]
	for _, b := range p.free {
		if b.segment != seg {
			kept = append(kept, b)
		}
	}
	p.free = kept
}

// Stats returns a point-in-time snapshot for status reporting.
func (p *Pool) Stats() Stats {
	return Stats{
		TotalBuffers: p.totalBuffers(),
		FreeBuffers:  len(p.free),
		Expansions:   p.expansions,
		Exhaustions:  p.exhaustions,
		Shrinks:      p.shrinks,
	}
}
