package config

import (
	"fmt"
	"strconv"
	"strings"
)

// normalizePagePath collapses repeated slashes and strips a trailing
// slash, per spec.md §8 ("///foo///" -> "/foo"). An empty result is left
// empty; callers validate that separately since "" is only legal before
// the leading-slash normalization is applied to a non-empty input.
func normalizePagePath(p string) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return "/"
	}
	return "/" + strings.Join(kept, "/")
}

// splitListenSpec parses a `-l [addr:]port` value, handling bracketed
// IPv6 literals (e.g. "[::1]:5140").
func splitListenSpec(spec string) (node, service string) {
	if strings.HasPrefix(spec, "[") {
		if idx := strings.Index(spec, "]"); idx >= 0 {
			node = spec[1:idx]
			rest := spec[idx+1:]
			service = strings.TrimPrefix(rest, ":")
			return node, service
		}
	}
	if idx := strings.LastIndex(spec, ":"); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return "*", spec
}

// parsePortRange parses "start[-end]" for --fcc-listen-port-range.
func parsePortRange(s string) (start, end int, err error) {
	parts := strings.SplitN(s, "-", 2)
	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || start < 1 || start > 65535 {
		return 0, 0, fmt.Errorf("invalid start port %q", parts[0])
	}
	if len(parts) == 1 {
		return start, start, nil
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || end < start || end > 65535 {
		return 0, 0, fmt.Errorf("invalid end port %q", parts[1])
	}
	return start, end, nil
}
