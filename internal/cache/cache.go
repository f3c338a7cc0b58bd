// Package cache keeps the assembled catalog in memory behind a time-expiring,
// single-flight read-through cache. Readers never wait on the content
// provider once a catalog exists: an expired record is served as-is while a
// background refresh replaces it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/safego"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
	"github.com/mcp-directory/mcp-directory/pkg/checksum"
)

const (
	// DefaultTTL is how long a fetched catalog is served before it is refreshed.
	DefaultTTL = time.Hour

	defaultRefreshTimeout = 2 * time.Minute
)

// Fetcher produces a complete catalog. *catalog.Fetcher implements it.
type Fetcher interface {
	FetchCatalog(ctx context.Context) (*catalog.Catalog, error)
}

// Record is one immutable catalog snapshot. Body is the JSON encoding of
// Catalog and ETag its strong entity tag; both are computed once so every
// read within the TTL serves identical bytes.
type Record struct {
	Catalog   *catalog.Catalog
	FetchedAt time.Time
	Body      []byte
	ETag      string
}

// NewRecord serialises cat and wraps it in a Record.
func NewRecord(cat *catalog.Catalog, fetchedAt time.Time) (*Record, error) {
	if cat == nil {
		cat = catalog.Empty()
	}
	body, err := json.Marshal(cat)
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return &Record{
		Catalog:   cat,
		FetchedAt: fetchedAt,
		Body:      body,
		ETag:      checksum.ETag(body),
	}, nil
}

var emptyRecord = func() *Record {
	rec, err := NewRecord(catalog.Empty(), time.Time{})
	if err != nil {
		panic(err)
	}
	return rec
}()

// EmptyRecord is served when no catalog has ever been fetched. Its FetchedAt
// is the zero time.
func EmptyRecord() *Record {
	return emptyRecord
}

// Options configures a Cache. Zero values take defaults.
type Options struct {
	TTL            time.Duration
	RefreshTimeout time.Duration
	Snapshot       SnapshotStore
	// OnRefresh runs after every refresh attempt with its result.
	OnRefresh func(error)
	Now       func() time.Time
}

// Cache is a TTL read-through cache of the catalog. It is safe for
// concurrent use.
type Cache struct {
	fetcher        Fetcher
	ttl            time.Duration
	refreshTimeout time.Duration
	snapshot       SnapshotStore
	onRefresh      func(error)
	now            func() time.Time

	record atomic.Pointer[Record]

	mu       sync.Mutex
	inflight *safego.Task
}

// New creates an empty cache over fetcher.
func New(fetcher Fetcher, opts Options) *Cache {
	c := &Cache{
		fetcher:        fetcher,
		ttl:            opts.TTL,
		refreshTimeout: opts.RefreshTimeout,
		snapshot:       opts.Snapshot,
		onRefresh:      opts.OnRefresh,
		now:            opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = defaultRefreshTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Restore seeds the cache from the snapshot store, keeping the persisted
// FetchedAt so an old snapshot is served and refreshed in the background.
// It reports whether a record was loaded. A missing store, an empty store or
// a cache that already holds a record is not an error.
func (c *Cache) Restore(ctx context.Context) (bool, error) {
	if c.snapshot == nil {
		return false, nil
	}
	rec, err := c.snapshot.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load catalog snapshot: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	if !c.record.CompareAndSwap(nil, rec) {
		return false, nil
	}
	slog.Info("catalog restored from snapshot",
		"fetched_at", rec.FetchedAt,
		"tools", rec.Catalog.ToolCount())
	return true, nil
}

// Get returns the current catalog record and never fails.
//
// A record younger than the TTL is returned as is. An expired record is
// returned immediately and a refresh is started in the background. With no
// record at all Get waits for a refresh (bounded by ctx) and, if that fails,
// returns EmptyRecord.
func (c *Cache) Get(ctx context.Context) *Record {
	if rec := c.record.Load(); rec != nil {
		if c.expired(rec) {
			c.triggerRefresh(ctx)
			telemetry.CacheLookupsTotal.WithLabelValues("stale").Inc()
		} else {
			telemetry.CacheLookupsTotal.WithLabelValues("fresh").Inc()
		}
		return rec
	}

	task := c.triggerRefresh(ctx)
	if err := task.Wait(ctx); err != nil {
		slog.Warn("serving empty catalog", "error", err)
	}
	if rec := c.record.Load(); rec != nil {
		telemetry.CacheLookupsTotal.WithLabelValues("fresh").Inc()
		return rec
	}
	telemetry.CacheLookupsTotal.WithLabelValues("empty").Inc()
	return EmptyRecord()
}

// Peek returns the current record without triggering a refresh, or nil if
// nothing has been fetched yet.
func (c *Cache) Peek() *Record {
	return c.record.Load()
}

// FetchedAt returns when the current record was fetched, or the zero time.
func (c *Cache) FetchedAt() time.Time {
	if rec := c.record.Load(); rec != nil {
		return rec.FetchedAt
	}
	return time.Time{}
}

// TriggerRefresh starts a refresh unless one is already running, and returns
// the handle of the running refresh either way.
func (c *Cache) TriggerRefresh() *safego.Task {
	return c.triggerRefresh(context.Background())
}

func (c *Cache) triggerRefresh(ctx context.Context) *safego.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		return c.inflight
	}

	// Detached so a client disconnecting mid-request does not abort the refresh.
	base := context.WithoutCancel(ctx)
	c.inflight = safego.Start(func() error {
		rctx, cancel := context.WithTimeout(base, c.refreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	}, func(err error) {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		if c.onRefresh != nil {
			c.onRefresh(err)
		}
	})
	return c.inflight
}

func (c *Cache) refresh(ctx context.Context) error {
	start := time.Now()
	cat, err := c.fetcher.FetchCatalog(ctx)
	telemetry.CatalogRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.CatalogRefreshTotal.WithLabelValues("error").Inc()
		slog.Error("catalog refresh failed", "error", err, "duration", time.Since(start))
		return err
	}

	rec, err := NewRecord(cat, c.now())
	if err != nil {
		telemetry.CatalogRefreshTotal.WithLabelValues("error").Inc()
		slog.Error("catalog refresh failed", "error", err)
		return err
	}
	c.record.Store(rec)
	telemetry.CatalogRefreshTotal.WithLabelValues("success").Inc()
	slog.Info("catalog refreshed",
		"categories", len(cat.Categories),
		"tools", cat.ToolCount(),
		"duration", time.Since(start))

	if c.snapshot != nil {
		if err := c.snapshot.Save(ctx, rec); err != nil {
			slog.Warn("failed to persist catalog snapshot", "error", err)
		}
	}
	return nil
}

func (c *Cache) expired(rec *Record) bool {
	return c.now().Sub(rec.FetchedAt) >= c.ttl
}
