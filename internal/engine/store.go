package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// PutMode selects create-if-absent or overwrite semantics for VerdictStore.Put.
type PutMode int

const (
	// PutCreateOnly stores only when no verdict exists for the id.
	PutCreateOnly PutMode = iota
	// PutReplace overwrites; last writer wins.
	PutReplace
)

func (m PutMode) String() string {
	if m == PutReplace {
		return "replace"
	}
	return "create_only"
}

// VerdictStore is a durable video_id → final_text store.
// Implementations are safe for concurrent use and make PutCreateOnly atomic.
type VerdictStore interface {
	Get(ctx context.Context, videoID string) (text string, ok bool, err error)
	Put(ctx context.Context, videoID, text string, mode PutMode) (stored bool, err error)
	Close() error
}

// VerdictCache puts an in-memory L1 in front of a durable VerdictStore.
// L1 only ever holds values the backend has confirmed.
type VerdictCache struct {
	l1         sync.Map // video id → string
	size       atomic.Int64
	maxEntries int
	backend    VerdictStore
	log        *slog.Logger

	// fillMu orders L1 backfills from Get against replace-mode
	// invalidations. gen counts replacements.
	fillMu sync.Mutex
	gen    uint64
}

// NewVerdictCache wraps backend. maxEntries <= 0 leaves L1 unbounded.
func NewVerdictCache(backend VerdictStore, maxEntries int, log *slog.Logger) *VerdictCache {
	if log == nil {
		log = slog.Default()
	}
	return &VerdictCache{
		backend:    backend,
		maxEntries: maxEntries,
		log:        log.With("component", "verdict_cache"),
	}
}

// Get returns the cached verdict for videoID.
func (c *VerdictCache) Get(ctx context.Context, videoID string) (string, bool, error) {
	if v, ok := c.l1.Load(videoID); ok {
		metrics.CacheHits.Add(1)
		return v.(string), true, nil
	}
	c.fillMu.Lock()
	gen := c.gen
	c.fillMu.Unlock()

	text, ok, err := c.backend.Get(ctx, videoID)
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", videoID, err)
	}
	if !ok {
		metrics.CacheMisses.Add(1)
		return "", false, nil
	}
	metrics.CacheHits.Add(1)
	c.fillMu.Lock()
	// A replace since the read may have made text stale.
	if c.gen == gen {
		c.remember(videoID, text)
	}
	c.fillMu.Unlock()
	return text, true, nil
}

// Put writes through to the backend. A create-only winner goes into L1;
// a replace drops the L1 entry so the next Get reads the backend's latest.
func (c *VerdictCache) Put(ctx context.Context, videoID, text string, mode PutMode) (bool, error) {
	stored, err := c.backend.Put(ctx, videoID, text, mode)
	if err != nil {
		return false, fmt.Errorf("cache put %s: %w", videoID, err)
	}
	switch {
	case stored && mode == PutReplace:
		// Concurrent replaces can finish out of backend order.
		c.fillMu.Lock()
		c.gen++
		c.forget(videoID)
		c.fillMu.Unlock()
	case stored:
		c.remember(videoID, text)
	default:
		// Another writer won; let the next Get read the backend's value.
		c.forget(videoID)
	}
	c.log.Debug("cache put", slog.String("video_id", videoID), slog.String("mode", mode.String()), slog.Bool("stored", stored))
	return stored, nil
}

// Close closes the backend.
func (c *VerdictCache) Close() error { return c.backend.Close() }

func (c *VerdictCache) remember(id, text string) {
	if _, loaded := c.l1.Swap(id, text); !loaded {
		c.size.Add(1)
	}
	c.evictIfNeeded()
}

func (c *VerdictCache) forget(id string) {
	if _, loaded := c.l1.LoadAndDelete(id); loaded {
		c.size.Add(-1)
	}
}

// evictIfNeeded drops arbitrary L1 entries until under maxEntries.
// Evicted verdicts remain in the backend.
func (c *VerdictCache) evictIfNeeded() {
	if c.maxEntries <= 0 || c.size.Load() <= int64(c.maxEntries) {
		return
	}
	c.l1.Range(func(key, _ any) bool {
		if c.size.Load() <= int64(c.maxEntries) {
			return false
		}
		c.forget(key.(string))
		return true
	})
}

// StoreConfig selects and configures the durable backend.
type StoreConfig struct {
	Backend     string // file (default), sqlite, postgres, redis
	DataDir     string
	File        string
	DatabaseURL string
	RedisURL    string
}

// OpenStore opens the configured backend. An unreachable backend is an error.
func OpenStore(ctx context.Context, sc StoreConfig) (VerdictStore, error) {
	switch sc.Backend {
	case "", "file":
		path := sc.File
		if path == "" {
			path = filepath.Join(sc.DataDir, "cache.json")
		}
		return OpenFileStore(path)
	case "sqlite":
		path := sc.File
		if path == "" {
			path = filepath.Join(sc.DataDir, "cache.db")
		}
		return OpenSQLiteStore(path)
	case "postgres":
		return OpenPostgresStore(ctx, sc.DatabaseURL)
	case "redis":
		return OpenRedisStore(ctx, sc.RedisURL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", sc.Backend)
	}
}
