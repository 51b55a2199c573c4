// Package playlist parses, renders and transforms M3U playlists.
// Transform rewrites upstream source URLs into the gateway's own
// /<service-name> links (scenario 4); the worker uses it to serve
// /playlist.m3u from the configured services table. Nothing fetches or
// refreshes an external M3U through this package.
package playlist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Entry is one playlist channel: its display name and source URL.
type Entry struct {
	Name string
	URL  string
	Attr string // the raw #EXTINF attribute text, preserved for re-emission
}

// Parse reads an M3U playlist (#EXTM3U header, alternating #EXTINF and
// URL lines) into a flat entry list.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var entries []Entry
	var pendingName, pendingAttr string
	haveHeader := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			haveHeader = true
		case strings.HasPrefix(line, "#EXTINF:"):
			pendingAttr, pendingName = splitExtinf(line)
		case strings.HasPrefix(line, "#"):
			// Other directives (#EXTGRP, #EXTVLCOPT, ...) are skipped and
			// do not appear in the returned entries or in Render's output.
			continue
		default:
			entries = append(entries, Entry{Name: pendingName, URL: line, Attr: pendingAttr})
			pendingName, pendingAttr = "", ""
		}
	}
	if !haveHeader {
		return nil, fmt.Errorf("playlist: missing #EXTM3U header")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// splitExtinf splits a `#EXTINF:-1 tvg-id="x",Channel Name` line into its
// attribute portion and trailing display name.
func splitExtinf(line string) (attr, name string) {
	body := strings.TrimPrefix(line, "#EXTINF:")
	idx := strings.LastIndex(body, ",")
	if idx < 0 {
		return body, ""
	}
	return body[:idx], strings.TrimSpace(body[idx+1:])
}

// Render writes entries back out as an M3U playlist.
func Render(w io.Writer, entries []Entry) error {
	if _, err := io.WriteString(w, "#EXTM3U\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "#EXTINF:%s,%s\n%s\n", e.Attr, e.Name, e.URL); err != nil {
			return err
		}
	}
	return nil
}

// Transform rewrites each entry's URL to point at the gateway itself
// (scenario 4: `rtp://239.0.0.1:5000` under service "CCTV1" becomes
// `http://<bindHost>/CCTV1`), leaving names and attributes untouched.
func Transform(entries []Entry, bindHost string) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].URL = fmt.Sprintf("http://%s/%s", bindHost, e.Name)
	}
	return out
}
