// Package httpgw implements the incremental HTTP/1.x request parser and
// the routing chain: component E of the gateway.
package httpgw

import (
	"fmt"
	"strings"
)

// DecodeURL percent-decodes s in place (conceptually; Go strings are
// immutable so this returns a new string), used on the request path
// before routing.
func DecodeURL(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			if i+2 >= len(s) {
				return "", fmt.Errorf("httpgw: truncated percent-escape in %q", s)
			}
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if !ok1 || !ok2 {
				return "", fmt.Errorf("httpgw: invalid percent-escape %q", s[i:i+3])
			}
			b.WriteByte(hi<<4 | lo)
			i += 2
		case '+':
			b.WriteByte(' ')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// isUnreserved reports whether b is RFC 3986 unreserved, or is '/',
// which EncodeURL also leaves untouched since it is being applied to
// whole paths, not single segments.
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~' || b == '/':
		return true
	default:
		return false
	}
}

const upperhex = "0123456789ABCDEF"

// EncodeURL percent-encodes every byte of s that is not RFC 3986
// unreserved or '/'.
func EncodeURL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0F])
	}
	return b.String()
}

// StripLabelSuffix removes a trailing `$label` suffix from a URL path,
// where `$` is not immediately followed by `{` (which would instead be a
// literal `${...}` token some upstreams embed and must be preserved).
func StripLabelSuffix(path string) string {
	idx := strings.LastIndexByte(path, '$')
	if idx < 0 || idx+1 >= len(path) {
		return path
	}
	if path[idx+1] == '{' {
		return path
	}
	return path[:idx]
}

// NormalizePagePath collapses repeated slashes and strips a trailing
// slash. An empty input is rejected with an error.
func NormalizePagePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("httpgw: empty page path")
	}
	parts := strings.Split(p, "/")
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(kept, "/"), nil
}
