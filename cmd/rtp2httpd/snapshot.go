package main

import (
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/httpgw"
)

// snapshotResult carries one finished single-frame capture job back to
// the worker's event loop; fd identifies the requesting client
// connection so drainSnapshots can match it to a still-open Conn.
type snapshotResult struct {
	fd   int
	data []byte
	err  error
}

// serveSnapshot spawns an ffmpeg single-frame capture against the named
// service's upstream URL and replies once the (asynchronous) job
// finishes; the client connection is left open and un-driven in the
// interim; drainSnapshots completes it from the worker's maintenance
// tick.
func (w *worker) serveSnapshot(c *conn.Conn, req *httpgw.Request, route httpgw.Route) {
	if !w.cfg.Global.VideoSnapshot {
		w.writeSimple(c, 404, "snapshot mode disabled")
		return
	}
	if w.cfg.Global.FFmpegPath == "" {
		w.writeSimple(c, 503, "snapshot: no ffmpeg-path configured")
		return
	}

	path := req.URL
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	name := strings.TrimPrefix(strings.TrimSuffix(path, "/snapshot"), "/")
	url, ok := w.router.Services[name]
	if !ok {
		w.writeSimple(c, 404, fmt.Sprintf("snapshot: unknown service %q", name))
		return
	}

	fd := c.FD
	go w.runSnapshotJob(fd, url)
}

// runSnapshotJob runs in its own goroutine (ffmpeg's own blocking wait
// has no place on the reactor thread) and reports back over snapshotCh,
// waking the reactor early via its notify pipe.
func (w *worker) runSnapshotJob(fd int, url string) {
	args := append([]string{"-loglevel", "error", "-y", "-i", url},
		append(splitArgs(w.cfg.Global.FFmpegArgs), "-frames:v", "1", "-f", "image2", "-c:v", "mjpeg", "pipe:1")...)
	out, err := exec.Command(w.cfg.Global.FFmpegPath, args...).Output()

	select {
	case w.snapshotCh <- snapshotResult{fd: fd, data: out, err: err}:
	default:
		w.logger.Warn("snapshot: result dropped, channel full", "fd", fd)
		return
	}
	_, _ = unix.Write(w.rx.NotifyFD(), []byte{0})
}

// drainSnapshots delivers every snapshot job that finished since the
// last maintenance tick to its still-open client connection.
func (w *worker) drainSnapshots() {
	for {
		select {
		case res := <-w.snapshotCh:
			c, ok := w.conns[res.fd]
			if !ok {
				continue // client disconnected before the capture finished
			}
			if res.err != nil {
				w.writeSimple(c, 503, fmt.Sprintf("snapshot: capture failed: %v", res.err))
				continue
			}
			w.writeBody(c, 200, "image/jpeg", "", res.data)
		default:
			return
		}
	}
}
