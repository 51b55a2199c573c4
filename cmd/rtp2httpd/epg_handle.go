package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r2hgw/rtp2httpd/internal/config"
	"github.com/r2hgw/rtp2httpd/internal/epgcache"
)

const defaultEPGRefreshInterval = 30 * time.Minute

// epgCacheHandle owns the on-disk EPG cache and the scheduled fetch that
// keeps it fresh. A nil *epgCacheHandle is valid and means no external
// EPG source was configured; every method tolerates it.
type epgCacheHandle struct {
	cache  *epgcache.Cache
	url    string
	client *http.Client
	cron   *cron.Cron
	logger *slog.Logger
}

// newEPGCacheHandle opens the cache and schedules the periodic refresh
// fetch when an external EPG URL is configured; returns a nil handle
// otherwise.
func newEPGCacheHandle(cfg *config.Config, logger *slog.Logger) (*epgCacheHandle, error) {
	if cfg.Global.ExternalEPG == "" {
		return nil, nil
	}

	dbPath := filepath.Join(os.TempDir(), fmt.Sprintf("rtp2httpd-epg-%d.db", os.Getpid()))
	cache, err := epgcache.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("epg cache: %w", err)
	}

	h := &epgCacheHandle{
		cache:  cache,
		url:    cfg.Global.ExternalEPG,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}

	interval := cfg.Global.ExternalEPGUpdateInterval
	if interval <= 0 {
		interval = defaultEPGRefreshInterval
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), h.fetch); err != nil {
		cache.Close()
		return nil, fmt.Errorf("epg cache: schedule refresh: %w", err)
	}
	c.Start()
	h.cron = c

	go h.fetch() // seed the cache without blocking worker startup
	return h, nil
}

// fetch pulls the configured EPG document, sending If-None-Match when a
// cached ETag exists, and upserts the cache entry on a fresh 200.
func (h *epgCacheHandle) fetch() {
	if h == nil {
		return
	}
	prev, havePrev, _ := h.cache.Get(h.url)

	req, err := http.NewRequest(http.MethodGet, h.url, nil)
	if err != nil {
		h.logger.Warn("epg: build request failed", "url", h.url, "err", err)
		return
	}
	if havePrev && prev.ETag != "" {
		req.Header.Set("If-None-Match", prev.ETag)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("epg: fetch failed", "url", h.url, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return
	}
	if resp.StatusCode != http.StatusOK {
		h.logger.Warn("epg: fetch non-200", "url", h.url, "status", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		h.logger.Warn("epg: read body failed", "url", h.url, "err", err)
		return
	}

	entry := epgcache.Entry{
		URL:       h.url,
		ETag:      resp.Header.Get("ETag"),
		Body:      body,
		FetchedAt: time.Now(),
	}
	if err := h.cache.Put(entry); err != nil {
		h.logger.Warn("epg: cache put failed", "url", h.url, "err", err)
	}
}

// Get returns the cached entry, or ok=false if this handle is nil or
// nothing has been fetched yet.
func (h *epgCacheHandle) Get() (epgcache.Entry, bool) {
	if h == nil {
		return epgcache.Entry{}, false
	}
	entry, ok, err := h.cache.Get(h.url)
	if err != nil {
		h.logger.Warn("epg: cache get failed", "err", err)
		return epgcache.Entry{}, false
	}
	return entry, ok
}

// Close stops the refresh schedule and closes the cache database.
func (h *epgCacheHandle) Close() {
	if h == nil {
		return
	}
	h.cron.Stop()
	_ = h.cache.Close()
}
