package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePagePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"///foo///", "/foo"},
		{"/status", "/status"},
		{"status", "/status"},
		{"/", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePagePath(tt.in), tt.in)
	}
}

func TestSplitListenSpec(t *testing.T) {
	node, service := splitListenSpec("0.0.0.0:5140")
	assert.Equal(t, "0.0.0.0", node)
	assert.Equal(t, "5140", service)

	node, service = splitListenSpec("[::1]:5140")
	assert.Equal(t, "::1", node)
	assert.Equal(t, "5140", service)

	node, service = splitListenSpec("5140")
	assert.Equal(t, "*", node)
	assert.Equal(t, "5140", service)
}

func TestParsePortRange(t *testing.T) {
	start, end, err := parsePortRange("5000-5010")
	require.NoError(t, err)
	assert.Equal(t, 5000, start)
	assert.Equal(t, 5010, end)

	start, end, err = parsePortRange("5000")
	require.NoError(t, err)
	assert.Equal(t, 5000, start)
	assert.Equal(t, 5000, end)

	_, _, err = parsePortRange("5010-5000")
	assert.Error(t, err)
}

func TestLoad_CLIFlagShadowsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtp2httpd.conf")
	require.NoError(t, os.WriteFile(path, []byte("[global]\nverbose = 3\nhostname = from-file\n"), 0o644))

	cfg, err := Load([]string{"--config", path, "--verbose", "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Global.Verbose, "CLI-supplied verbose must shadow the config file value")
	assert.Equal(t, "from-file", cfg.Global.Hostname)
}

func TestLoad_BindAndServicesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtp2httpd.conf")
	content := "[global]\nverbose = 1\n\n[bind]\n* 5140\nlo 5141\n\n[services]\ncctv1 rtp://239.1.2.3:5004\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	require.Len(t, cfg.Binds, 2)
	assert.Equal(t, BindAddr{Node: "*", Service: "5140"}, cfg.Binds[0])
	assert.Equal(t, BindAddr{Node: "lo", Service: "5141"}, cfg.Binds[1])
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "cctv1", cfg.Services[0].Name)
}

func TestLoad_InlineM3UServicesSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtp2httpd.conf")
	content := "[services]\n#EXTM3U\n#EXTINF:-1 ,CCTV1\nrtp://239.0.0.1:5000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "CCTV1", cfg.Services[0].Name)
	assert.Equal(t, "rtp://239.0.0.1:5000", cfg.Services[0].URL)
}

func TestLoad_NoConfigSkipsFile(t *testing.T) {
	cfg, err := Load([]string{"--noconfig"})
	require.NoError(t, err)
	assert.Empty(t, cfg.Services)
}

func TestLoad_DefaultBindWhenNoneConfigured(t *testing.T) {
	cfg, err := Load([]string{"--noconfig"})
	require.NoError(t, err)
	require.Len(t, cfg.Binds, 1)
	assert.Equal(t, "5140", cfg.Binds[0].Service)
}

func TestLoad_QuietFlagForcesVerboseZero(t *testing.T) {
	cfg, err := Load([]string{"--noconfig", "--quiet"})
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Global.Verbose)
}

func TestLoad_RejectsBadPortRange(t *testing.T) {
	_, err := Load([]string{"--noconfig", "--fcc-listen-port-range", "6000-5000"})
	assert.Error(t, err)
}
