// Package config loads rtp2httpd's configuration from CLI flags and an
// optional INI-like config file, in that precedence order: a flag
// explicitly passed on the command line always shadows the same setting
// read from the config file.
package config

import "time"

// BindAddr is one `[bind]` line: a listen address (or "*" for any
// interface) paired with a service spec (port, or service name).
type BindAddr struct {
	Node    string
	Service string
}

// Service is one resolved `[services]` entry: a name the HTTP router
// matches against the request path, and the upstream source URL
// (rtp://, udp://, rtsp://, or http:// for an ffmpeg pull).
type Service struct {
	Name string
	URL  string
}

// UpstreamInterfaces holds the four interface selectors from -i/-f/-t/-r:
// default, FCC (fast channel change), RTSP, and multicast.
type UpstreamInterfaces struct {
	Default   string
	FCC       string
	RTSP      string
	Multicast string
}

// Global mirrors the `[global]` config section and the CLI flags that
// shadow it, per spec.md §6.
type Global struct {
	Verbose    int
	NoUDPxy    bool
	MaxClients int
	Workers    int // 0 means auto (GOMAXPROCS)

	BufferPoolMaxSize int

	FCCListenPortStart int
	FCCListenPortEnd   int

	Hostname string
	XFF      bool
	R2HToken string

	Interfaces UpstreamInterfaces

	MulticastRejoinInterval time.Duration

	FFmpegPath     string
	FFmpegArgs     string
	VideoSnapshot  bool

	StatusPagePath string
	PlayerPagePath string

	ExternalM3U               string
	ExternalM3UUpdateInterval time.Duration

	ExternalEPG               string
	ExternalEPGUpdateInterval time.Duration

	ZeroCopyOnSend bool
}

// Config is the fully resolved, immutable configuration snapshot a worker
// captures at startup and at each SIGHUP reload boundary.
type Config struct {
	Global   Global
	Binds    []BindAddr
	Services []Service

	ConfigPath string
	NoConfig   bool

	// setByCLI records, for every flag name that was explicitly passed on
	// the command line, that it must not be overwritten by a later config
	// file parse during reload.
	setByCLI map[string]bool
}

// WasSetByCLI reports whether flag name was explicitly passed on the
// command line, and therefore shadows the same setting in the config
// file per spec.md §6.
func (c *Config) WasSetByCLI(name string) bool {
	return c.setByCLI != nil && c.setByCLI[name]
}
