package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r2hgw/rtp2httpd/internal/config"
	"github.com/r2hgw/rtp2httpd/internal/logging"
)

func TestNewEPGCacheHandle_NoURLReturnsNilHandle(t *testing.T) {
	cfg := &config.Config{}
	h, err := newEPGCacheHandle(cfg, logging.Configure(logging.Config{}))
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestEPGCacheHandle_NilReceiverIsSafe(t *testing.T) {
	var h *epgCacheHandle
	assert.NotPanics(t, func() {
		h.fetch()
		_, ok := h.Get()
		assert.False(t, ok)
		h.Close()
	})
}
