package httpgw

import (
	"strings"
)

// RouteKind identifies which handler a routed request should dispatch to.
type RouteKind int

const (
	RouteNotFound RouteKind = iota
	RouteUnauthorized
	RouteStatusPage
	RoutePlayerPage
	RoutePlaylist
	RouteEPG
	RouteSnapshot
	RouteUDPxyRTP
	RouteUDPxyUDP
	RouteUDPxyRTSP
	RouteService
)

// RouterConfig carries the configuration knobs routing consults, mirrors
// the gateway's resolved Global config.
type RouterConfig struct {
	R2HToken       string
	Hostname       string
	StatusPath     string
	PlayerPath     string
	UDPxyEnabled   bool
	Services       map[string]string // service name -> upstream URL
}

// Route is the outcome of resolving one request.
type Route struct {
	Kind    RouteKind
	Target  string // remaining path/service-specific payload after the matched prefix
	Service string
}

// Resolve applies the routing priority chain from spec.md §4.E.
func Resolve(cfg RouterConfig, req *Request) Route {
	path := req.URL
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	path = StripLabelSuffix(path)
	if decoded, err := DecodeURL(path); err == nil {
		path = decoded
	}

	if cfg.R2HToken != "" && !tokenPresent(cfg.R2HToken, req) {
		return Route{Kind: RouteUnauthorized}
	}
	if cfg.Hostname != "" && !hostnameMatches(cfg.Hostname, req.Host) {
		return Route{Kind: RouteNotFound}
	}

	switch {
	case path == cfg.StatusPath:
		return Route{Kind: RouteStatusPage}
	case path == cfg.PlayerPath:
		return Route{Kind: RoutePlayerPage}
	case strings.HasSuffix(path, "/playlist.m3u"):
		return Route{Kind: RoutePlaylist}
	case strings.HasSuffix(path, "/epg.xml") || strings.HasSuffix(path, "/epg.xml.gz"):
		return Route{Kind: RouteEPG}
	case strings.Contains(path, "/snapshot"):
		return Route{Kind: RouteSnapshot}
	}

	if cfg.UDPxyEnabled {
		if target, ok := strings.CutPrefix(path, "/rtp/"); ok {
			return Route{Kind: RouteUDPxyRTP, Target: target}
		}
		if target, ok := strings.CutPrefix(path, "/udp/"); ok {
			return Route{Kind: RouteUDPxyUDP, Target: target}
		}
		if target, ok := strings.CutPrefix(path, "/rtsp/"); ok {
			return Route{Kind: RouteUDPxyRTSP, Target: target}
		}
	}

	name := strings.TrimPrefix(path, "/")
	if url, ok := cfg.Services[name]; ok {
		return Route{Kind: RouteService, Service: name, Target: url}
	}

	return Route{Kind: RouteNotFound}
}

func tokenPresent(token string, req *Request) bool {
	if strings.Contains(req.URL, "r2h-token="+token) {
		return true
	}
	if strings.Contains(req.Cookie, "r2h-token="+token) {
		return true
	}
	if strings.Contains(req.UserAgent, "R2HTOKEN/"+token) {
		return true
	}
	return false
}

func hostnameMatches(configured, hostHeader string) bool {
	host := hostHeader
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.Contains(host, "]") {
		host = host[:idx]
	}
	return strings.EqualFold(strings.TrimSpace(host), strings.TrimSpace(configured))
}

// AssignServiceName resolves a collision on insert by appending /2, /3,
// ... per spec.md §4.E, returning the name actually stored.
func AssignServiceName(existing map[string]string, name string) string {
	if _, ok := existing[name]; !ok {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + "/" + itoa(i)
		if _, ok := existing[candidate]; !ok {
			return candidate
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
