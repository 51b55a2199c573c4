package main

import (
	"bytes"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/r2hgw/rtp2httpd/internal/conn"
	"github.com/r2hgw/rtp2httpd/internal/httpgw"
	"github.com/r2hgw/rtp2httpd/internal/playlist"
)

// servePlaylist renders the configured [services] table as an M3U
// playlist with every source URL rewritten to point back at this
// gateway, per the playlist-transformation scenario.
func (w *worker) servePlaylist(c *conn.Conn, req *httpgw.Request) {
	names := make([]string, 0, len(w.router.Services))
	for name := range w.router.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]playlist.Entry, len(names))
	for i, name := range names {
		entries[i] = playlist.Entry{Name: name, URL: w.router.Services[name]}
	}

	bindHost := req.Host
	if bindHost == "" {
		bindHost = hostOnly(w.cfg.Global.Hostname)
	}
	transformed := playlist.Transform(entries, bindHost)

	var buf bytes.Buffer
	if err := playlist.Render(&buf, transformed); err != nil {
		w.writeSimple(c, 503, "playlist: render failed")
		return
	}
	w.writeBody(c, 200, "audio/x-mpegurl", "", buf.Bytes())
}

// serveEPG serves the cached XMLTV EPG document, gzip-encoding on the
// fly for the .xml.gz path and honoring If-None-Match against the
// upstream's last ETag.
func (w *worker) serveEPG(c *conn.Conn, req *httpgw.Request) {
	entry, ok := w.epgCache.Get()
	if !ok {
		w.writeSimple(c, 404, "epg not available")
		return
	}

	if entry.ETag != "" && httpgw.ETagMatches(req.IfNoneMatch, entry.ETag) {
		head := httpgw.WriteResponseHead(httpgw.ResponseHead{Status: 304, ContentLength: 0, ETag: entry.ETag})
		if err := c.QueueOutputAndFlush(head); err != nil {
			w.closeConn(c)
			return
		}
		w.armWrite(c.FD)
		return
	}

	path := req.URL
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}

	if strings.HasSuffix(path, ".gz") {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(entry.Body); err != nil {
			w.writeSimple(c, 503, "epg: compress failed")
			return
		}
		if err := gw.Close(); err != nil {
			w.writeSimple(c, 503, "epg: compress failed")
			return
		}
		w.writeBody(c, 200, "application/gzip", entry.ETag, buf.Bytes())
		return
	}

	w.writeBody(c, 200, "application/xml", entry.ETag, entry.Body)
}
