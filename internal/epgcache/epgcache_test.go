package epgcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGet_MissingURLReturnsNotOK(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get("http://example.com/epg.xml")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutThenGet_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	entry := Entry{
		URL:       "http://example.com/epg.xml.gz",
		ETag:      `"abc123"`,
		Body:      []byte("<tv></tv>"),
		Gzipped:   true,
		FetchedAt: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, c.Put(entry))

	got, ok, err := c.Get(entry.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.ETag, got.ETag)
	assert.Equal(t, entry.Body, got.Body)
	assert.True(t, got.Gzipped)
	assert.Equal(t, entry.FetchedAt, got.FetchedAt)
}

func TestPut_UpsertsExistingURL(t *testing.T) {
	c := newTestCache(t)
	url := "http://example.com/epg.xml"
	require.NoError(t, c.Put(Entry{URL: url, ETag: "v1", Body: []byte("old"), FetchedAt: time.Unix(1, 0)}))
	require.NoError(t, c.Put(Entry{URL: url, ETag: "v2", Body: []byte("new"), FetchedAt: time.Unix(2, 0)}))

	got, ok, err := c.Get(url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got.ETag)
	assert.Equal(t, []byte("new"), got.Body)
}
