package statusmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegion(t *testing.T) *Region {
	t.Helper()
	r, err := Create()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestWriteReadWorkerStats_RoundTrip(t *testing.T) {
	r := newTestRegion(t)
	st := WorkerStats{PID: 1234, ConnCount: 5, SendOK: 100, ZeroCopyCopied: 42}
	require.NoError(t, r.WriteWorkerStats(0, st))

	got, err := r.ReadWorkerStats(0)
	require.NoError(t, err)
	assert.Equal(t, st.PID, got.PID)
	assert.Equal(t, st.ConnCount, got.ConnCount)
	assert.Equal(t, st.SendOK, got.SendOK)
	assert.Equal(t, st.ZeroCopyCopied, got.ZeroCopyCopied)
}

func TestWriteWorkerStats_RejectsOutOfRangeID(t *testing.T) {
	r := newTestRegion(t)
	assert.Error(t, r.WriteWorkerStats(MaxWorkers, WorkerStats{}))
	assert.Error(t, r.WriteWorkerStats(-1, WorkerStats{}))
}

func TestRegisterDeregisterClient(t *testing.T) {
	r := newTestRegion(t)
	slot, err := r.RegisterClient(0, 3, "192.0.2.1:5140")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, slot, 0)

	r.DeregisterClient(slot)
	// a fresh registration should be able to reuse the freed slot
	slot2, err := r.RegisterClient(0, 3, "192.0.2.2:5140")
	require.NoError(t, err)
	assert.Equal(t, slot, slot2)
}

func TestRegisterClient_FullRegistryErrors(t *testing.T) {
	r := newTestRegion(t)
	for i := 0; i < MaxClients; i++ {
		_, err := r.RegisterClient(0, 0, "0.0.0.0:0")
		require.NoError(t, err)
	}
	_, err := r.RegisterClient(0, 0, "0.0.0.0:0")
	assert.Error(t, err)
}

func TestAppendLogAndLogLevel(t *testing.T) {
	r := newTestRegion(t)
	r.AppendLog("worker 0 started")
	r.SetLogLevel(2)
	assert.Equal(t, int64(2), r.LogLevel())
}

func TestCreateSharedAndOpenShared_SeeSameWrites(t *testing.T) {
	owner, f, err := CreateShared()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = owner.Close()
		_ = f.Close()
	})

	require.NoError(t, owner.WriteWorkerStats(1, WorkerStats{PID: 999, ConnCount: 7}))
	owner.SetLogLevel(3)

	attached, err := OpenShared(int(f.Fd()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = attached.Close() })

	got, err := attached.ReadWorkerStats(1)
	require.NoError(t, err)
	assert.Equal(t, int64(999), got.PID)
	assert.Equal(t, int64(7), got.ConnCount)
	assert.Equal(t, int64(3), attached.LogLevel())
}
