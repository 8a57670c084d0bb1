package readapi

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gemwatch/internal/domain"
)

// CacheTTL is the read API's freshness window (spec §4.7): a cached parse
// of the log is reused for up to this long before a refresh is forced
// regardless of the file's mtime.
const CacheTTL = 5 * time.Second

// LogSource is the subset of *eventlog.Log the cache depends on: only the
// backing file path. The read API parses the file independently rather
// than asking the writer for its in-memory document, so a corrupt file on
// disk is detected here exactly as spec §7 requires ("500 only on
// unreadable/corrupt log").
type LogSource interface {
	Path() string
}

// cache holds the most recently parsed event log, refreshed on a 5s TTL
// with an immediate file-mtime invalidation: a write landing inside the
// TTL window is still picked up on the next request rather than waiting
// out the full window.
type cache struct {
	mu sync.Mutex

	source LogSource

	doc        domain.EventLog
	loadedAt   time.Time
	loadedMod  time.Time
	corruptErr error
}

func newCache(source LogSource) *cache {
	c := &cache{source: source}
	c.refreshLocked()
	return c
}

// get returns the current cached document, refreshing first if the TTL
// has elapsed or the backing file's mtime has advanced. A non-nil error
// means the last parse attempt failed; the stale previously-good document
// (if any) is still returned alongside it so callers can choose.
func (c *cache) get() (domain.EventLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.loadedAt) > CacheTTL || c.fileChangedLocked() {
		c.refreshLocked()
	}
	return c.doc, c.corruptErr
}

// age reports how long ago the cache was last refreshed.
func (c *cache) age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.loadedAt)
}

// invalidate forces the next get() to refresh regardless of TTL/mtime —
// the /api/cache/refresh endpoint's effect.
func (c *cache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
}

func (c *cache) refreshLocked() {
	data, err := os.ReadFile(c.source.Path())
	if err != nil {
		c.corruptErr = fmt.Errorf("read event log: %w", err)
		c.loadedAt = time.Now()
		return
	}
	var doc domain.EventLog
	if err := json.Unmarshal(data, &doc); err != nil {
		c.corruptErr = fmt.Errorf("parse event log: %w", err)
		c.loadedAt = time.Now()
		return
	}
	c.doc = doc
	c.corruptErr = nil
	c.loadedAt = time.Now()
	if info, err := os.Stat(c.source.Path()); err == nil {
		c.loadedMod = info.ModTime()
	}
}

func (c *cache) fileChangedLocked() bool {
	info, err := os.Stat(c.source.Path())
	if err != nil {
		return false
	}
	return info.ModTime().After(c.loadedMod)
}
