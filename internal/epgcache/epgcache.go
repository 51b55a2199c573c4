// Package epgcache provides a SQLite-backed cache for fetched EPG (XMLTV)
// documents, keyed by source URL, storing the last ETag and body so a
// scheduled refresh can send If-None-Match and skip re-downloading and
// re-serving unchanged guides. This supplements the distilled
// specification's silence on EPG storage with the original gateway's
// tmpfs-cache behavior, adapted to an on-disk SQLite file whose path the
// caller chooses.
package epgcache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Entry is one cached EPG document.
type Entry struct {
	URL       string
	ETag      string
	Body      []byte
	Gzipped   bool
	FetchedAt time.Time
}

// Cache wraps a SQLite database holding one row per external EPG source.
type Cache struct {
	conn *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS epg_cache (
	url        TEXT PRIMARY KEY,
	etag       TEXT NOT NULL DEFAULT '',
	body       BLOB NOT NULL,
	gzipped    INTEGER NOT NULL DEFAULT 0,
	fetched_at INTEGER NOT NULL
);`

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("epgcache: open: %w", err)
	}
	conn.SetMaxOpenConns(1) // single-writer worker process, no contention to manage
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("epgcache: create schema: %w", err)
	}
	return &Cache{conn: conn}, nil
}

// Get returns the cached entry for url, or ok=false if there is none.
func (c *Cache) Get(url string) (entry Entry, ok bool, err error) {
	row := c.conn.QueryRow(`SELECT url, etag, body, gzipped, fetched_at FROM epg_cache WHERE url = ?`, url)
	var fetchedAt int64
	var gzipped int
	err = row.Scan(&entry.URL, &entry.ETag, &entry.Body, &gzipped, &fetchedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("epgcache: get: %w", err)
	}
	entry.Gzipped = gzipped != 0
	entry.FetchedAt = time.Unix(fetchedAt, 0).UTC()
	return entry, true, nil
}

// Put upserts the entry fetched for a URL.
func (c *Cache) Put(entry Entry) error {
	_, err := c.conn.Exec(`
		INSERT INTO epg_cache (url, etag, body, gzipped, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			etag = excluded.etag,
			body = excluded.body,
			gzipped = excluded.gzipped,
			fetched_at = excluded.fetched_at
	`, entry.URL, entry.ETag, entry.Body, boolToInt(entry.Gzipped), entry.FetchedAt.Unix())
	if err != nil {
		return fmt.Errorf("epgcache: put: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the underlying database connection.
func (c *Cache) Close() error { return c.conn.Close() }
