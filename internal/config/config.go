package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load parses argv (os.Args[1:]) and, unless -C/--noconfig was passed,
// the config file it names (or the default path), and returns the
// resolved configuration. CLI flags always shadow the config file per
// spec.md §6.
func Load(argv []string) (*Config, error) {
	fs, err := ParseArgs(argv)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := fromFlags(cfg, fs); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("RTP2HTTPD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setGlobalDefaults(v)

	if !cfg.NoConfig {
		path := cfg.ConfigPath
		if path == "" {
			path = defaultConfigPath()
		}
		if path != "" {
			if err := loadConfigFile(path, v, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyGlobalFromViper(v, cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfigPath() string {
	for _, p := range []string{"/etc/rtp2httpd.conf", "/usr/local/etc/rtp2httpd.conf"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func setGlobalDefaults(v *viper.Viper) {
	v.SetDefault("verbose", 1)
	v.SetDefault("maxclients", 0)
	v.SetDefault("workers", 0)
	v.SetDefault("buffer-pool-max-size", 16384)
	v.SetDefault("status-page-path", "/status")
	v.SetDefault("player-page-path", "/player")
}

// loadConfigFile parses the three-section file and feeds [global] lines
// into v so that viper's default/env layering still applies to values
// the file didn't set, then records bind/service entries directly since
// they have no viper analog.
func loadConfigFile(path string, v *viper.Viper, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	pf, err := parseFile(f)
	if err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for k, val := range pf.global {
		v.Set(k, val)
	}

	if !cfg.WasSetByCLI("listen") {
		cfg.Binds = pf.binds
	}
	cfg.Services = pf.services
	return nil
}

// applyGlobalFromViper fills in every Global field not already pinned by
// an explicit CLI flag.
func applyGlobalFromViper(v *viper.Viper, cfg *Config) {
	set := func(name string, assign func()) {
		if cfg.WasSetByCLI(name) {
			return
		}
		assign()
	}

	set("verbose", func() { cfg.Global.Verbose = v.GetInt("verbose") })
	set("noudpxy", func() { cfg.Global.NoUDPxy = v.GetBool("noudpxy") })
	set("maxclients", func() { cfg.Global.MaxClients = v.GetInt("maxclients") })
	set("workers", func() { cfg.Global.Workers = v.GetInt("workers") })
	set("buffer-pool-max-size", func() { cfg.Global.BufferPoolMaxSize = v.GetInt("buffer-pool-max-size") })
	set("hostname", func() { cfg.Global.Hostname = v.GetString("hostname") })
	set("xff", func() { cfg.Global.XFF = v.GetBool("xff") })
	set("r2h-token", func() { cfg.Global.R2HToken = v.GetString("r2h-token") })
	set("ffmpeg-path", func() { cfg.Global.FFmpegPath = v.GetString("ffmpeg-path") })
	set("ffmpeg-args", func() { cfg.Global.FFmpegArgs = v.GetString("ffmpeg-args") })
	set("video-snapshot", func() { cfg.Global.VideoSnapshot = v.GetBool("video-snapshot") })
	set("status-page-path", func() { cfg.Global.StatusPagePath = normalizePagePath(v.GetString("status-page-path")) })
	set("player-page-path", func() { cfg.Global.PlayerPagePath = normalizePagePath(v.GetString("player-page-path")) })
	set("external-m3u", func() { cfg.Global.ExternalM3U = v.GetString("external-m3u") })
	set("external-epg", func() { cfg.Global.ExternalEPG = v.GetString("external-epg") })
	set("zerocopy-on-send", func() { cfg.Global.ZeroCopyOnSend = v.GetBool("zerocopy-on-send") })
	set("upstream-interface-default", func() { cfg.Global.Interfaces.Default = v.GetString("upstream-interface-default") })
	set("upstream-interface-fcc", func() { cfg.Global.Interfaces.FCC = v.GetString("upstream-interface-fcc") })
	set("upstream-interface-rtsp", func() { cfg.Global.Interfaces.RTSP = v.GetString("upstream-interface-rtsp") })
	set("upstream-interface-multicast", func() { cfg.Global.Interfaces.Multicast = v.GetString("upstream-interface-multicast") })

	if !cfg.WasSetByCLI("mcast-rejoin-interval") && v.IsSet("mcast-rejoin-interval") {
		cfg.Global.MulticastRejoinInterval = time.Duration(v.GetInt("mcast-rejoin-interval")) * time.Second
	}
	if !cfg.WasSetByCLI("external-m3u-update-interval") && v.IsSet("external-m3u-update-interval") {
		cfg.Global.ExternalM3UUpdateInterval = time.Duration(v.GetInt("external-m3u-update-interval")) * time.Second
	}
	if !cfg.WasSetByCLI("external-epg-update-interval") && v.IsSet("external-epg-update-interval") {
		cfg.Global.ExternalEPGUpdateInterval = time.Duration(v.GetInt("external-epg-update-interval")) * time.Second
	}
	if !cfg.WasSetByCLI("fcc-listen-port-range") && v.IsSet("fcc-listen-port-range") {
		if start, end, err := parsePortRange(v.GetString("fcc-listen-port-range")); err == nil {
			cfg.Global.FCCListenPortStart = start
			cfg.Global.FCCListenPortEnd = end
		}
	}
}

// validate enforces the cross-field invariants spec.md calls out: page
// paths normalize to a non-empty value, port ranges are well-formed, and
// at least one bind address exists (defaulting to the conventional
// rtp2httpd port).
func validate(cfg *Config) error {
	if cfg.Global.StatusPagePath == "" {
		cfg.Global.StatusPagePath = "/status"
	}
	if cfg.Global.PlayerPagePath == "" {
		cfg.Global.PlayerPagePath = "/player"
	}
	if cfg.Global.MaxClients < 0 {
		return fmt.Errorf("maxclients must be >= 0")
	}
	if cfg.Global.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if cfg.Global.FCCListenPortEnd != 0 && cfg.Global.FCCListenPortEnd < cfg.Global.FCCListenPortStart {
		return fmt.Errorf("fcc-listen-port-range end must be >= start")
	}
	if len(cfg.Binds) == 0 {
		cfg.Binds = []BindAddr{{Node: "*", Service: "5140"}}
	}
	return nil
}
