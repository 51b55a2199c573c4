package httpgw

import (
	"fmt"
	"strings"
)

// statusText maps the small set of status codes this gateway emits to
// their reason phrase.
var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	404: "Not Found",
	503: "Service Unavailable",
}

// ResponseHead describes the status line and headers for WriteResponseHead.
type ResponseHead struct {
	Status        int
	ContentType   string
	ContentLength int64 // -1 means omit (e.g. SSE, chunked-free streaming)
	ETag          string
	KeepAlive     bool // true only for SSE; every other response closes
	CacheControl  string
	Extra         map[string]string
}

// WriteResponseHead renders the status line and headers, matching the
// ordering and formatting spec.md §4.E describes.
func WriteResponseHead(h ResponseHead) []byte {
	var b strings.Builder
	reason := statusText[h.Status]
	if reason == "" {
		reason = "Unknown"
	}
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", h.Status, reason)
	if h.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", h.ContentType)
	}
	if h.CacheControl != "" {
		fmt.Fprintf(&b, "Cache-Control: %s\r\n", h.CacheControl)
	}
	if h.KeepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}
	if h.ETag != "" {
		fmt.Fprintf(&b, "ETag: %q\r\n", h.ETag)
	}
	if h.ContentLength >= 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", h.ContentLength)
	}
	for k, v := range h.Extra {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// MediaContentType returns the egress Content-Type for a stream: MPEG-TS
// gets video/mp2t, any other RTP passthrough gets octet-stream.
func MediaContentType(isMP2T bool) string {
	if isMP2T {
		return "video/mp2t"
	}
	return "application/octet-stream"
}

// ETagMatches implements If-None-Match comparison: `*`, a weak `W/"..."`
// tag, or a comma-separated list of quoted tags, any of which matching
// the current entity tag triggers 304.
func ETagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	if strings.TrimSpace(ifNoneMatch) == "*" {
		return true
	}
	for _, tok := range strings.Split(ifNoneMatch, ",") {
		tok = strings.TrimSpace(tok)
		tok = strings.TrimPrefix(tok, "W/")
		tok = strings.Trim(tok, `"`)
		if tok == etag {
			return true
		}
	}
	return false
}

// FormatETag renders a 32-lowercase-hex digest as the quoted ETag value
// (without the surrounding quotes, which WriteResponseHead adds).
func FormatETag(digest [16]byte) string {
	return fmt.Sprintf("%x", digest)
}
