package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/conn"
)

// ffmpegHandler pumps an ffmpeg subprocess's stdout pipe straight into a
// client's send queue, used for http:// [services] entries that name a
// source ffmpeg itself must pull and remux rather than a multicast or
// RTSP upstream this gateway speaks natively.
type ffmpegHandler struct {
	w      *worker
	c      *conn.Conn
	cmd    *exec.Cmd
	stdout *os.File
}

func (h *ffmpegHandler) OnEvent(events uint32) {
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		h.stop(fmt.Errorf("ffmpeg: pipe closed"))
		return
	}
	if err := h.drain(); err != nil {
		h.stop(err)
		return
	}
	h.w.armWrite(h.c.FD)
}

// drain reads until EAGAIN (nil error) or EOF (reported as the sentinel
// error errFFmpegEOF).
func (h *ffmpegHandler) drain() error {
	for {
		buf := h.w.pool.Alloc(0)
		if buf == nil {
			return nil // pool exhausted this tick; retry on the next readiness event
		}
		n, err := unix.Read(int(h.stdout.Fd()), buf.Cap())
		if err != nil {
			buf.Release()
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			return err
		}
		if n == 0 {
			buf.Release()
			return errFFmpegEOF
		}
		buf.SetLen(n)
		if h.c.Queue.OverLimit() {
			h.c.Queue.DropHead(buf.Len())
			buf.Release()
			continue
		}
		h.c.QueueZeroCopy(buf)
		buf.Release()
	}
}

var errFFmpegEOF = errors.New("ffmpeg: process closed its output pipe")

func (h *ffmpegHandler) stop(err error) {
	if err != nil {
		h.w.logger.Warn("ffmpeg: pull stopped", "client", h.c.ClientAddr, "err", err)
	}
	h.w.closeConn(h.c)
}

// ffmpegCloser is wired as the Conn's StreamCloser so c.Close() tears down
// the subprocess and its pipe the same way a multicast join or RTSP
// session is torn down for the other upstream kinds.
type ffmpegCloser struct {
	cmd    *exec.Cmd
	stdout *os.File
}

func (f *ffmpegCloser) Close() {
	_ = f.cmd.Process.Kill()
	go f.cmd.Wait() // reap without blocking the event loop
	_ = f.stdout.Close()
}

// startFFmpegPull spawns `ffmpeg -i <url> ... -f mpegts pipe:1`, wires
// its stdout pipe into the reactor, and writes the streaming response
// head once the process is launched.
func (w *worker) startFFmpegPull(c *conn.Conn, url string) error {
	if w.cfg.Global.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg: no ffmpeg-path configured")
	}

	args := append([]string{"-loglevel", "error", "-i", url}, splitArgs(w.cfg.Global.FFmpegArgs)...)
	args = append(args, "-f", "mpegts", "pipe:1")
	cmd := exec.Command(w.cfg.Global.FFmpegPath, args...)

	r, wf, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: pipe: %w", err)
	}
	cmd.Stdout = wf
	if err := cmd.Start(); err != nil {
		r.Close()
		wf.Close()
		return fmt.Errorf("ffmpeg: start: %w", err)
	}
	wf.Close()

	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		_ = cmd.Process.Kill()
		r.Close()
		return fmt.Errorf("ffmpeg: set nonblock: %w", err)
	}

	h := &ffmpegHandler{w: w, c: c, cmd: cmd, stdout: r}
	if err := w.rx.Register(int(r.Fd()), unix.EPOLLIN, h); err != nil {
		_ = cmd.Process.Kill()
		r.Close()
		return err
	}
	pipeFD := int(r.Fd())
	w.upstreamClose[c.FD] = func() { w.rx.Deregister(pipeFD) }
	c.Stream = &ffmpegCloser{cmd: cmd, stdout: r}
	c.MarkStreaming()

	if err := w.beginStreamingHead(c, true); err != nil {
		h.stop(err)
		return err
	}
	w.armWrite(c.FD)
	return nil
}

// splitArgs does simple whitespace tokenization of the configured
// ffmpeg-args string; it does not understand quoting, matching the
// original gateway's passthrough of a single flat options string.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
