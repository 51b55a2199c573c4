package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ResolvesExecutableAndBuildsWorkerSlots(t *testing.T) {
	s, err := New(3, nil, nil)
	require.NoError(t, err)
	assert.Len(t, s.workers, 3)
	assert.Equal(t, 0, s.workers[0].id)
	assert.Equal(t, 2, s.workers[2].id)
	assert.NotEmpty(t, s.exePath)
}

func TestRecordRestartAllowed_AllowsUpToLimitThenRateLimits(t *testing.T) {
	s, err := New(1, nil, nil)
	require.NoError(t, err)
	w := s.workers[0]

	for i := 0; i < restartWindowLimit; i++ {
		assert.True(t, s.recordRestartAllowed(w), "restart %d should be allowed", i)
	}
	assert.False(t, s.recordRestartAllowed(w))
	assert.True(t, w.rateLimited)
}

func TestRecordRestartAllowed_WindowExpiryClearsRateLimit(t *testing.T) {
	s, err := New(1, nil, nil)
	require.NoError(t, err)
	w := s.workers[0]

	old := time.Now().Add(-restartWindow - time.Second)
	w.restarts = []time.Time{old, old, old}

	assert.True(t, s.recordRestartAllowed(w))
	assert.False(t, w.rateLimited)
	assert.Len(t, w.restarts, 1)
}

func TestReapAndRespawn_SkipsWhenShuttingDown(t *testing.T) {
	s, err := New(1, nil, nil)
	require.NoError(t, err)
	s.shuttingDown = true
	s.workers[0].exited = make(chan struct{})
	close(s.workers[0].exited)

	assert.NotPanics(t, s.reapAndRespawn)
}
