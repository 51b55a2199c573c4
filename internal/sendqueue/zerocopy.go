//go:build linux

package sendqueue

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sendmsgIovecs gathers up to len(iovs) buffers into a single sendmsg(2)
// call. golang.org/x/sys/unix.Sendmsg only takes one []byte plus an
// out-of-band buffer, so the multi-iovec gather goes through the raw
// syscall with a hand-built msghdr, mirroring what net.Buffers does
// internally for writev.
func sendmsgIovecs(fd int, iovs [][]byte, flags int) (int, error) {
	if len(iovs) == 0 {
		return 0, nil
	}

	raw := make([]unix.Iovec, len(iovs))
	for i, b := range iovs {
		if len(b) == 0 {
			continue
		}
		raw[i].Base = &b[0]
		raw[i].SetLen(len(b))
	}

	var msg unix.Msghdr
	msg.Iov = &raw[0]
	msg.SetIovlen(len(raw))

	n, _, errno := unix.Syscall(unix.SYS_SENDMSG, uintptr(fd), uintptr(unsafe.Pointer(&msg)), uintptr(flags))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// zeroCopyExtendedErr mirrors struct sock_extended_err from
// linux/errqueue.h: 16 bytes, ee_info/ee_data carry the inclusive id range
// of the completed send(s).
type zeroCopyExtendedErr struct {
	errno  uint32
	origin uint8
	etype  uint8
	code   uint8
	pad    uint8
	info   uint32
	data   uint32
}

func parseExtendedErr(b []byte) (zeroCopyExtendedErr, bool) {
	if len(b) < 16 {
		return zeroCopyExtendedErr{}, false
	}
	return zeroCopyExtendedErr{
		errno:  binary.LittleEndian.Uint32(b[0:4]),
		origin: b[4],
		etype:  b[5],
		code:   b[6],
		pad:    b[7],
		info:   binary.LittleEndian.Uint32(b[8:12]),
		data:   binary.LittleEndian.Uint32(b[12:16]),
	}, true
}

// ReapCompletions drains fd's error queue for MSG_ZEROCOPY completion
// notifications and releases the corresponding buffers' extra reference.
// It returns the number of completion ids processed. Call this on the
// connection's fd whenever epoll reports EPOLLERR.
func (q *Queue) ReapCompletions(fd int) (processed int, err error) {
	oob := make([]byte, 256)
	for {
		_, oobn, _, _, rerr := unix.Recvmsg(fd, nil, oob, unix.MSG_ERRQUEUE|unix.MSG_DONTWAIT)
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
				return processed, nil
			}
			return processed, rerr
		}
		if oobn == 0 {
			return processed, nil
		}

		cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
		if perr != nil {
			return processed, perr
		}
		for _, cmsg := range cmsgs {
			isRecvErr := (cmsg.Header.Level == unix.SOL_IP && cmsg.Header.Type == unix.IP_RECVERR) ||
				(cmsg.Header.Level == unix.SOL_IPV6 && cmsg.Header.Type == unix.IPV6_RECVERR)
			if !isRecvErr {
				continue
			}
			ee, ok := parseExtendedErr(cmsg.Data)
			if !ok || ee.origin != unix.SO_EE_ORIGIN_ZEROCOPY {
				continue
			}
			if ee.code == unix.SO_EE_CODE_ZEROCOPY_COPIED {
				q.ZeroCopyCopied++
			}
			q.completeRange(ee.info, ee.data)
			processed++
		}
	}
}

// completeRange releases every pending buffer whose assigned id falls
// within [lo, hi] inclusive, accounting for id wraparound at uint32 max.
func (q *Queue) completeRange(lo, hi uint32) {
	kept := q.pending[:0]
	for _, pr := range q.pending {
		if idInRange(pr.id, lo, hi) {
			for _, b := range pr.bufs {
				b.ClearZeroCopyID()
				b.Release()
			}
			continue
		}
		kept = append(kept, pr)
	}
	q.pending = kept
}

func idInRange(id, lo, hi uint32) bool {
	if lo <= hi {
		return id >= lo && id <= hi
	}
	// wrapped
	return id >= lo || id <= hi
}
