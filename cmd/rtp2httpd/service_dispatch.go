package main

import (
	"fmt"
	"net/url"

	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/httpgw"
)

// serveService dispatches a resolved [services] entry by its upstream
// URL scheme: rtp:// and udp:// join a multicast group directly,
// rtsp:// drives an RTSP session, and http:// is pulled and remuxed by
// an ffmpeg subprocess.
func (w *worker) serveService(c *conn.Conn, req *httpgw.Request, route httpgw.Route) {
	u, err := url.Parse(route.Target)
	if err != nil {
		w.writeSimple(c, 503, fmt.Sprintf("service %q: invalid upstream url: %v", route.Service, err))
		return
	}

	authority := u.Host
	if u.User != nil {
		authority = u.User.Username() + "@" + u.Host
	}

	switch u.Scheme {
	case "rtp":
		w.serveServiceMulticast(c, authority, true)
	case "udp":
		w.serveServiceMulticast(c, authority, false)
	case "rtsp":
		w.serveServiceRTSP(c, req, route.Target, u.Host)
	case "http", "https":
		if err := w.startFFmpegPull(c, route.Target); err != nil {
			w.writeSimple(c, 503, fmt.Sprintf("service %q: %v", route.Service, err))
		}
	default:
		w.writeSimple(c, 503, fmt.Sprintf("service %q: unsupported upstream scheme %q", route.Service, u.Scheme))
	}
}
