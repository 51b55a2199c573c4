// Package statusmem implements the core contract of component I: a
// fixed-size region, shared across worker processes via mmap(MAP_SHARED),
// holding per-worker counters, a bounded registry of live streaming
// clients, buffer-pool stats mirrors, and a bounded log ring. Only the
// owning worker writes its own slot; any worker may read any slot without
// locking, accepting torn reads on the rare word that straddles a write in
// progress, matching spec.md §4.I's "best-effort, no locking required for
// monotonic counters" contract.
package statusmem

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// MaxWorkers bounds the per-worker stats array.
	MaxWorkers = 64
	// MaxClients bounds the live-client registry.
	MaxClients = 4096
	// LogRingSize bounds the number of retained log entries.
	LogRingSize = 1024
	logLineLen  = 256
)

// WorkerStats is one worker's slot: pid, send-path counters, and
// flush/timeout counters, mirrored from sendqueue.Queue and bufpool.Pool.
type WorkerStats struct {
	PID            int64
	ConnCount      int64
	SendOK         int64
	SendEAGAIN     int64
	SendENOBUFS    int64
	ZeroCopyCopied int64
	BatchFlushes   int64
	TimeoutFlushes int64
	PoolTotal      int64
	PoolFree       int64
	PoolExpansions int64
	PoolExhaustions int64
}

// ClientSlot is one entry in the bounded live-client registry.
type ClientSlot struct {
	InUse      int32
	WorkerID   int32
	ServiceIdx int32
	ClientAddr [46]byte // enough for a textual IPv6 address
	StartedAt  int64    // unix seconds
}

// Region is the process-local view of the shared memory segment. The
// supervisor builds it once via CreateShared and every worker maps the
// same memfd via OpenShared after inheriting it across re-exec.
type Region struct {
	data []byte

	logHead  *int64
	logLevel *int64
	logLines [][]byte
}

func regionSize() int {
	return headerSize + MaxWorkers*workerStatsSize + MaxClients*clientSlotSize + LogRingSize*logLineLen
}

const (
	// headerSize holds logHead and logLevel, each an 8-byte-aligned int64
	// at the start of the mmap (page-aligned, so offsets 0 and 8 are
	// naturally aligned for atomic access across processes).
	headerSize      = 16
	workerStatsSize = 96 // padded, cache-line friendly
	clientSlotSize  = 64
)

// Create allocates an anonymous MAP_SHARED region, usable only within
// the current process (and any children it later fork()s, which this
// gateway never does). Tests and single-process tools use this; the
// supervisor uses CreateShared so the region survives a worker re-exec.
func Create() (*Region, error) {
	size := regionSize()
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("statusmem: mmap: %w", err)
	}
	return newRegion(data), nil
}

// CreateShared backs the region with a memfd instead of an anonymous
// mapping, since a re-exec'd worker does not inherit its parent's
// anonymous mappings the way a fork()ed child would, only its open file
// descriptors. The supervisor calls this once, then passes the returned
// *os.File to every worker via exec.Cmd.ExtraFiles; each worker calls
// OpenShared on the inherited fd (always 3, the first ExtraFiles slot,
// when the region file descriptor is the worker's only inherited extra).
func CreateShared() (*Region, *os.File, error) {
	size := regionSize()
	fd, err := unix.MemfdCreate("rtp2httpd-status", 0)
	if err != nil {
		return nil, nil, fmt.Errorf("statusmem: memfd_create: %w", err)
	}
	f := os.NewFile(uintptr(fd), "rtp2httpd-status")
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("statusmem: truncate memfd: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("statusmem: mmap memfd: %w", err)
	}
	return newRegion(data), f, nil
}

// OpenShared maps the region backed by fd, which a worker inherited from
// the supervisor across re-exec.
func OpenShared(fd int) (*Region, error) {
	size := regionSize()
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("statusmem: mmap inherited fd: %w", err)
	}
	return newRegion(data), nil
}

func newRegion(data []byte) *Region {
	r := &Region{data: data}
	// WorkerStats/ClientSlot fields live as plain little-endian int64s
	// inside the shared byte slice rather than as Go struct pointers into
	// it: casting the whole slice to a typed struct pointer would defeat
	// the race detector and vet's atomic-alignment checks across process
	// boundaries, and fields read one at a time this way tolerate the
	// "torn reads are acceptable" contract: a reader may observe a
	// partially updated snapshot, never a corrupted pointer. The ring
	// head and log level are the exception: they need real cross-process
	// atomicity to avoid two workers claiming the same ring slot, so they
	// are the sole fields addressed directly into the mapping via
	// unsafe.Pointer at their fixed, 8-byte-aligned header offsets.
	r.logHead = (*int64)(unsafe.Pointer(&data[0]))
	r.logLevel = (*int64)(unsafe.Pointer(&data[8]))
	r.logLines = make([][]byte, LogRingSize)
	logBase := headerSize + MaxWorkers*workerStatsSize + MaxClients*clientSlotSize
	for i := range r.logLines {
		off := logBase + i*logLineLen
		r.logLines[i] = data[off : off+logLineLen]
	}
	return r
}

// WriteWorkerStats serializes st into worker id's slot of the shared
// region. Only the owning worker calls this, per the write-path contract.
func (r *Region) WriteWorkerStats(id int, st WorkerStats) error {
	if id < 0 || id >= MaxWorkers {
		return fmt.Errorf("statusmem: worker id %d out of range", id)
	}
	off := headerSize + id*workerStatsSize
	buf := r.data[off : off+workerStatsSize]
	fields := []int64{
		st.PID, st.ConnCount, st.SendOK, st.SendEAGAIN, st.SendENOBUFS,
		st.ZeroCopyCopied, st.BatchFlushes, st.TimeoutFlushes,
		st.PoolTotal, st.PoolFree, st.PoolExpansions, st.PoolExhaustions,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(v))
	}
	return nil
}

// ReadWorkerStats reads back whatever the owning worker last wrote; the
// caller may be a different worker or the status HTTP surface.
func (r *Region) ReadWorkerStats(id int) (WorkerStats, error) {
	if id < 0 || id >= MaxWorkers {
		return WorkerStats{}, fmt.Errorf("statusmem: worker id %d out of range", id)
	}
	off := headerSize + id*workerStatsSize
	buf := r.data[off : off+workerStatsSize]
	vals := make([]int64, 12)
	for i := range vals {
		vals[i] = int64(binary.LittleEndian.Uint64(buf[i*8 : i*8+8]))
	}
	return WorkerStats{
		PID: vals[0], ConnCount: vals[1], SendOK: vals[2], SendEAGAIN: vals[3],
		SendENOBUFS: vals[4], ZeroCopyCopied: vals[5], BatchFlushes: vals[6],
		TimeoutFlushes: vals[7], PoolTotal: vals[8], PoolFree: vals[9],
		PoolExpansions: vals[10], PoolExhaustions: vals[11],
	}, nil
}

func clientBase() int { return headerSize + MaxWorkers*workerStatsSize }

// RegisterClient finds a free slot in the bounded client registry and
// fills it, returning the slot index for later deregistration.
func (r *Region) RegisterClient(workerID, serviceIdx int, clientAddr string) (int, error) {
	base := clientBase()
	for i := 0; i < MaxClients; i++ {
		off := base + i*clientSlotSize
		inUse := binary.LittleEndian.Uint32(r.data[off : off+4])
		if inUse == 0 {
			binary.LittleEndian.PutUint32(r.data[off:off+4], 1)
			binary.LittleEndian.PutUint32(r.data[off+4:off+8], uint32(workerID))
			binary.LittleEndian.PutUint32(r.data[off+8:off+12], uint32(serviceIdx))
			addrBytes := []byte(clientAddr)
			n := copy(r.data[off+12:off+12+46], addrBytes)
			for j := off + 12 + n; j < off+12+46; j++ {
				r.data[j] = 0
			}
			return i, nil
		}
	}
	return -1, fmt.Errorf("statusmem: client registry full")
}

// DeregisterClient clears slot i, making it available for reuse.
func (r *Region) DeregisterClient(i int) {
	if i < 0 || i >= MaxClients {
		return
	}
	off := clientBase() + i*clientSlotSize
	binary.LittleEndian.PutUint32(r.data[off:off+4], 0)
}

// AppendLog writes line into the next ring slot and advances the head
// atomically, so concurrent readers always see a monotonically advancing
// head even if the slot content they read is momentarily stale.
func (r *Region) AppendLog(line string) {
	idx := atomic.AddInt64(r.logHead, 1) % LogRingSize
	dst := r.logLines[idx]
	n := copy(dst, line)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// LogLevel returns the current shared log level (a slog.Level cast to
// int64), settable at runtime via SetLogLevel (e.g. from a SIGHUP reload).
func (r *Region) LogLevel() int64 { return atomic.LoadInt64(r.logLevel) }

// SetLogLevel updates the shared log level.
func (r *Region) SetLogLevel(level int64) { atomic.StoreInt64(r.logLevel, level) }

// Close unmaps the shared region.
func (r *Region) Close() error {
	return unix.Munmap(r.data)
}
