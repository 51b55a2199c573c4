package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// flagSpec wraps a pflag set; ParseArgs and Load use the *pflag.FlagSet
// directly and nothing constructs a flagSpec.
type flagSpec struct {
	fs *pflag.FlagSet
}

// ParseArgs builds rtp2httpd's flag set and parses argv (excluding the
// program name). It returns the flag set so Load can read both the final
// values and each flag's Changed() state for CLI-shadow tracking.
func ParseArgs(argv []string) (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet("rtp2httpd", pflag.ContinueOnError)

	fs.IntP("verbose", "v", 1, "log verbosity 0..4")
	fs.BoolP("quiet", "q", false, "equivalent to -v 0")
	fs.BoolP("noudpxy", "U", false, "disable UDPxy passthrough path")
	fs.IntP("maxclients", "m", 0, "maximum concurrent clients per worker, 0 = unlimited (negative values are rejected)")
	fs.IntP("workers", "w", 0, "worker process count, 0 = auto")
	fs.IntP("buffer-pool-max-size", "b", 0, "buffer pool cap in buffers, 0 = default")
	fs.StringArrayP("listen", "l", nil, "[addr:]port to bind, repeatable")
	fs.StringP("config", "c", "", "config file path")
	fs.BoolP("noconfig", "C", false, "ignore any config file")
	fs.StringP("fcc-listen-port-range", "P", "", "start[-end] port range for FCC sockets")
	fs.StringP("hostname", "H", "", "hostname or URL advertised in generated links")
	fs.BoolP("xff", "X", false, "honor X-Forwarded-For for client IP logging")
	fs.StringP("r2h-token", "T", "", "shared token required on requests")
	fs.StringP("upstream-interface-default", "i", "", "default egress interface")
	fs.StringP("upstream-interface-fcc", "f", "", "FCC egress interface")
	fs.StringP("upstream-interface-rtsp", "t", "", "RTSP egress interface")
	fs.StringP("upstream-interface-multicast", "r", "", "multicast join interface")
	fs.IntP("mcast-rejoin-interval", "R", 0, "multicast rejoin probe interval in seconds, 0 disables")
	fs.StringP("ffmpeg-path", "F", "", "path to the ffmpeg binary")
	fs.StringP("ffmpeg-args", "A", "", "extra ffmpeg arguments")
	fs.BoolP("video-snapshot", "S", false, "enable single-frame snapshot mode")
	fs.StringP("status-page-path", "s", "/status", "status page path")
	fs.StringP("player-page-path", "p", "/player", "player page path")
	fs.StringP("external-m3u", "M", "", "external M3U playlist URL")
	fs.IntP("external-m3u-update-interval", "I", 0, "external M3U refresh interval in seconds")
	fs.StringP("external-epg", "E", "", "external XMLTV EPG document URL")
	fs.IntP("external-epg-update-interval", "G", 0, "external EPG refresh interval in seconds")
	fs.BoolP("zerocopy-on-send", "Z", false, "enable MSG_ZEROCOPY on egress sends")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	return fs, nil
}

// fromFlags populates cfg.Global from parsed flags and records which ones
// were explicitly set, so Load can later refuse to let the config file
// overwrite them.
func fromFlags(cfg *Config, fs *pflag.FlagSet) error {
	cfg.setByCLI = map[string]bool{}
	mark := func(name string) {
		if fs.Changed(name) {
			cfg.setByCLI[name] = true
		}
	}

	verbose, _ := fs.GetInt("verbose")
	quiet, _ := fs.GetBool("quiet")
	if fs.Changed("quiet") && quiet {
		verbose = 0
		cfg.setByCLI["verbose"] = true
	}
	cfg.Global.Verbose = verbose
	mark("verbose")

	cfg.Global.NoUDPxy, _ = fs.GetBool("noudpxy")
	mark("noudpxy")
	cfg.Global.MaxClients, _ = fs.GetInt("maxclients")
	mark("maxclients")
	cfg.Global.Workers, _ = fs.GetInt("workers")
	mark("workers")
	cfg.Global.BufferPoolMaxSize, _ = fs.GetInt("buffer-pool-max-size")
	mark("buffer-pool-max-size")

	cfg.ConfigPath, _ = fs.GetString("config")
	mark("config")
	cfg.NoConfig, _ = fs.GetBool("noconfig")
	mark("noconfig")

	if r, _ := fs.GetString("fcc-listen-port-range"); r != "" {
		start, end, err := parsePortRange(r)
		if err != nil {
			return fmt.Errorf("--fcc-listen-port-range: %w", err)
		}
		cfg.Global.FCCListenPortStart = start
		cfg.Global.FCCListenPortEnd = end
		mark("fcc-listen-port-range")
	}

	cfg.Global.Hostname, _ = fs.GetString("hostname")
	mark("hostname")
	cfg.Global.XFF, _ = fs.GetBool("xff")
	mark("xff")
	cfg.Global.R2HToken, _ = fs.GetString("r2h-token")
	mark("r2h-token")

	cfg.Global.Interfaces.Default, _ = fs.GetString("upstream-interface-default")
	mark("upstream-interface-default")
	cfg.Global.Interfaces.FCC, _ = fs.GetString("upstream-interface-fcc")
	mark("upstream-interface-fcc")
	cfg.Global.Interfaces.RTSP, _ = fs.GetString("upstream-interface-rtsp")
	mark("upstream-interface-rtsp")
	cfg.Global.Interfaces.Multicast, _ = fs.GetString("upstream-interface-multicast")
	mark("upstream-interface-multicast")

	rejoin, _ := fs.GetInt("mcast-rejoin-interval")
	cfg.Global.MulticastRejoinInterval = time.Duration(rejoin) * time.Second
	mark("mcast-rejoin-interval")

	cfg.Global.FFmpegPath, _ = fs.GetString("ffmpeg-path")
	mark("ffmpeg-path")
	cfg.Global.FFmpegArgs, _ = fs.GetString("ffmpeg-args")
	mark("ffmpeg-args")
	cfg.Global.VideoSnapshot, _ = fs.GetBool("video-snapshot")
	mark("video-snapshot")

	statusPath, _ := fs.GetString("status-page-path")
	cfg.Global.StatusPagePath = normalizePagePath(statusPath)
	mark("status-page-path")
	playerPath, _ := fs.GetString("player-page-path")
	cfg.Global.PlayerPagePath = normalizePagePath(playerPath)
	mark("player-page-path")

	cfg.Global.ExternalM3U, _ = fs.GetString("external-m3u")
	mark("external-m3u")
	updateSecs, _ := fs.GetInt("external-m3u-update-interval")
	cfg.Global.ExternalM3UUpdateInterval = time.Duration(updateSecs) * time.Second
	mark("external-m3u-update-interval")

	cfg.Global.ExternalEPG, _ = fs.GetString("external-epg")
	mark("external-epg")
	epgUpdateSecs, _ := fs.GetInt("external-epg-update-interval")
	cfg.Global.ExternalEPGUpdateInterval = time.Duration(epgUpdateSecs) * time.Second
	mark("external-epg-update-interval")

	cfg.Global.ZeroCopyOnSend, _ = fs.GetBool("zerocopy-on-send")
	mark("zerocopy-on-send")

	if listen, _ := fs.GetStringArray("listen"); len(listen) > 0 {
		cfg.Binds = nil
		for _, l := range listen {
			node, service := splitListenSpec(l)
			cfg.Binds = append(cfg.Binds, BindAddr{Node: node, Service: service})
		}
		mark("listen")
	}

	return nil
}
