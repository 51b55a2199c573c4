package main

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/r2hgw/rtp2httpd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBindAddr_WildcardNode(t *testing.T) {
	addr, err := resolveBindAddr(config.BindAddr{Node: "*"})
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0, 0, 0, 0}, addr)
}

func TestResolveBindAddr_EmptyNodeIsWildcard(t *testing.T) {
	addr, err := resolveBindAddr(config.BindAddr{})
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0, 0, 0, 0}, addr)
}

func TestResolveBindAddr_ExplicitIPv4(t *testing.T) {
	addr, err := resolveBindAddr(config.BindAddr{Node: "192.168.1.1"})
	require.NoError(t, err)
	assert.Equal(t, [4]byte{192, 168, 1, 1}, addr)
}

func TestResolveBindAddr_InvalidAddressErrors(t *testing.T) {
	_, err := resolveBindAddr(config.BindAddr{Node: "not-an-ip"})
	assert.Error(t, err)
}

func TestResolveBindAddr_IPv6Rejected(t *testing.T) {
	_, err := resolveBindAddr(config.BindAddr{Node: "::1"})
	assert.Error(t, err)
}

func TestResolveBindPort_NumericService(t *testing.T) {
	port, err := resolveBindPort("8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)
}

func TestResolveBindPort_UnknownServiceErrors(t *testing.T) {
	_, err := resolveBindPort("definitely-not-a-registered-service-name")
	assert.Error(t, err)
}

func TestSockaddrString_Inet4(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 4242, Addr: [4]byte{10, 0, 0, 5}}
	assert.Equal(t, "10.0.0.5:4242", sockaddrString(sa))
}

func TestSockaddrString_UnknownKind(t *testing.T) {
	assert.Equal(t, "unknown", sockaddrString(nil))
}
