package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// parseMulticastTarget parses a UDPxy-style target "[source@]group[:port]"
// or the "[source@]host:port" authority of an rtp://, udp:// service URL.
// A source given inside hostport takes precedence over sourceHint, which
// callers may use to pass the source separately. port must be present in
// hostport; there is no default.
func parseMulticastTarget(hostport, sourceHint string) (group, source net.IP, port int, err error) {
	if at := strings.IndexByte(hostport, '@'); at >= 0 {
		sourceHint = hostport[:at]
		hostport = hostport[at+1:]
	}
	if sourceHint != "" {
		source = net.ParseIP(sourceHint)
		if source == nil {
			return nil, nil, 0, fmt.Errorf("invalid SSM source address %q", sourceHint)
		}
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("invalid multicast target %q: %w", hostport, err)
	}
	group = net.ParseIP(host)
	if group == nil || group.To4() == nil {
		return nil, nil, 0, fmt.Errorf("invalid multicast group %q", host)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, nil, 0, fmt.Errorf("invalid multicast port %q", portStr)
	}
	return group, source, port, nil
}
