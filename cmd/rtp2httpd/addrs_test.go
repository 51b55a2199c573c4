package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMulticastTarget_PlainGroup(t *testing.T) {
	group, source, port, err := parseMulticastTarget("239.1.1.1:5000", "")
	require.NoError(t, err)
	assert.True(t, group.Equal(net.ParseIP("239.1.1.1")))
	assert.Nil(t, source)
	assert.Equal(t, 5000, port)
}

func TestParseMulticastTarget_SSMSourceInTarget(t *testing.T) {
	group, source, port, err := parseMulticastTarget("203.0.113.5@239.1.1.1:5000", "")
	require.NoError(t, err)
	assert.True(t, group.Equal(net.ParseIP("239.1.1.1")))
	assert.True(t, source.Equal(net.ParseIP("203.0.113.5")))
	assert.Equal(t, 5000, port)
}

func TestParseMulticastTarget_SourceHintUsedWhenNoAtSign(t *testing.T) {
	group, source, port, err := parseMulticastTarget("239.1.1.1:5000", "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, group.Equal(net.ParseIP("239.1.1.1")))
	assert.True(t, source.Equal(net.ParseIP("203.0.113.9")))
	assert.Equal(t, 5000, port)
}

func TestParseMulticastTarget_MissingPortErrors(t *testing.T) {
	_, _, _, err := parseMulticastTarget("239.1.1.1", "")
	assert.Error(t, err)
}

func TestParseMulticastTarget_NonMulticastGroupParses(t *testing.T) {
	_, _, _, err := parseMulticastTarget("10.0.0.1:5000", "")
	// not rejected by IP family check alone; group validity (multicast
	// range) is left to mcast.Join, so a plain IPv4 unicast address still
	// parses here.
	assert.NoError(t, err)
}

func TestParseMulticastTarget_InvalidSourceErrors(t *testing.T) {
	_, _, _, err := parseMulticastTarget("not-an-ip@239.1.1.1:5000", "")
	assert.Error(t, err)
}

func TestParseMulticastTarget_InvalidPortErrors(t *testing.T) {
	_, _, _, err := parseMulticastTarget("239.1.1.1:notaport", "")
	assert.Error(t, err)
}

func TestSplitPlayseekQuery_ExtractsAndStrips(t *testing.T) {
	stripped, playseek := splitPlayseekQuery("rtsp://host/ch1?playseek=1704067200-1704070800")
	assert.Equal(t, "rtsp://host/ch1", stripped)
	assert.Equal(t, "1704067200-1704070800", playseek)
}

func TestSplitPlayseekQuery_PreservesOtherParams(t *testing.T) {
	stripped, playseek := splitPlayseekQuery("rtsp://host/ch1?token=abc&playseek=123&x=1")
	assert.Equal(t, "rtsp://host/ch1?token=abc&x=1", stripped)
	assert.Equal(t, "123", playseek)
}

func TestSplitPlayseekQuery_NoQueryReturnsUnchanged(t *testing.T) {
	stripped, playseek := splitPlayseekQuery("rtsp://host/ch1")
	assert.Equal(t, "rtsp://host/ch1", stripped)
	assert.Empty(t, playseek)
}

func TestSplitArgs_Whitespace(t *testing.T) {
	assert.Equal(t, []string{"-vf", "scale=640:480"}, splitArgs("-vf scale=640:480"))
}

func TestSplitArgs_EmptyStringReturnsNil(t *testing.T) {
	assert.Nil(t, splitArgs("   "))
}

func TestHostOnly_EmptyFallsBackToLoopback(t *testing.T) {
	assert.Equal(t, "127.0.0.1", hostOnly(""))
}

func TestHostOnly_PassesThroughConfiguredHost(t *testing.T) {
	assert.Equal(t, "gw.example.com", hostOnly("gw.example.com"))
}
