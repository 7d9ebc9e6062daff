// Package cache holds the per-table schema detail that is too expensive to
// refetch on every request.
//
// The cache is keyed by table name, TTL-aware, and capacity-bounded. Misses
// are deduplicated per key (single-flight), stale hits are served under a
// bounded-staleness policy while one background refresh runs, and CORE-tier
// entries are pinned and never evicted. Entries may be backed by a durable
// Store so a restarted process starts warm.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/logger"
	"github.com/datalumen/schemactx/internal/schema"
)

// DetailFetcher is the slice of metadata.Fetcher the cache needs.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, table string) (*schema.TableDetail, error)
}

// CatalogView is the slice of the catalog the cache needs: existence checks,
// tier resolution for pinning, and the schema version for durable records.
type CatalogView interface {
	Exists(name string) bool
	TierOf(name string) schema.Tier
	Version() string
}

// Options tunes the cache. Zero values fall back to the defaults below.
type Options struct {
	// Capacity bounds resident entries. Pinned (CORE) entries do not count
	// against the eviction scan; if pinned entries alone exceed Capacity it
	// is treated as advisory.
	Capacity int

	// TTL is how long an entry is considered fresh after a fetch.
	TTL time.Duration

	// FetchTimeout bounds a single underlying metadata fetch.
	FetchTimeout time.Duration

	// FetchRetries is how many times a failed fetch is retried before the
	// error is surfaced.
	FetchRetries int

	// RetryBackoff is the base delay between retries (doubled per attempt).
	RetryBackoff time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (o *Options) withDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = 128
	}
	if o.TTL <= 0 {
		o.TTL = 15 * time.Minute
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.FetchRetries < 0 {
		o.FetchRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// entry wraps a TableDetail with its cache bookkeeping. All fields are
// guarded by Cache.mu.
type entry struct {
	detail         *schema.TableDetail
	fetchedAt      time.Time
	lastAccessedAt time.Time
	accessCount    uint64
	pinned         bool
	refreshing     bool
}

// Cache is the keyed store of per-table detail. Safe for concurrent use.
type Cache struct {
	fetcher DetailFetcher
	cat     CatalogView
	store   Store // nil when persistence is disabled
	log     *logger.Logger
	opts    Options

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	background sync.WaitGroup
}

// New creates a Cache. store may be nil to disable persistence.
func New(fetcher DetailFetcher, cat CatalogView, store Store, opts Options, log *logger.Logger) *Cache {
	opts.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		fetcher: fetcher,
		cat:     cat,
		store:   store,
		log:     log,
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Get returns the cached detail for name if resident.
//
// A fresh entry is returned as-is. A stale entry is returned immediately
// (bounded staleness) and exactly one background refresh is scheduled for it.
// A full miss returns ok=false without touching the metadata source.
func (c *Cache) Get(ctx context.Context, name string) (*schema.TableDetail, bool) {
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	detail := e.detail
	stale := c.isStale(e)
	c.touch(e)
	needRefresh := stale && !e.refreshing
	if needRefresh {
		e.refreshing = true
	}
	c.mu.Unlock()

	if needRefresh {
		c.refreshAsync(name)
	}
	return detail, true
}

// GetStrict returns fresh detail for name, blocking on a refetch when the
// resident entry is stale or absent.
func (c *Cache) GetStrict(ctx context.Context, name string) (*schema.TableDetail, error) {
	c.mu.Lock()
	if e, ok := c.entries[name]; ok && !c.isStale(e) {
		c.touch(e)
		detail := e.detail
		c.mu.Unlock()
		return detail, nil
	}
	c.mu.Unlock()
	return c.fetchShared(ctx, name)
}

// GetOrFetch returns detail for name, fetching from the metadata source on a
// full miss. Concurrent callers for the same name trigger exactly one
// underlying fetch and all observe the same outcome. A stale resident entry
// behaves like Get: it is served immediately with a background refresh.
func (c *Cache) GetOrFetch(ctx context.Context, name string) (*schema.TableDetail, error) {
	if detail, ok := c.Get(ctx, name); ok {
		return detail, nil
	}
	if !c.cat.Exists(name) {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "table %s is not in the catalog", name)
	}
	return c.fetchShared(ctx, name)
}

// Invalidate marks name's entry stale without removing it; the next read
// triggers a refresh.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok {
		e.fetchedAt = time.Time{}
	}
}

// InvalidateAll marks every resident entry stale. Used on detected
// schema-version change.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.fetchedAt = time.Time{}
	}
}

// SyncPins recomputes the pinned flag of every resident entry from the
// catalog's current tiers. Call after a tier-mapping reload.
func (c *Cache) SyncPins() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, e := range c.entries {
		e.pinned = c.cat.TierOf(name) == schema.TierCore
	}
	c.evictLocked()
}

// RecentContextual returns up to n CONTEXTUAL-tier table names ordered by
// most recent access. The intent resolver's fallback set is built from this.
func (c *Cache) RecentContextual(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type recency struct {
		name string
		at   time.Time
	}
	var candidates []recency
	for name, e := range c.entries {
		if c.cat.TierOf(name) == schema.TierContextual {
			candidates = append(candidates, recency{name, e.lastAccessedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].at.Equal(candidates[j].at) {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].at.After(candidates[j].at)
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	names := make([]string, 0, n)
	for _, cand := range candidates[:n] {
		names = append(names, cand.name)
	}
	return names
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close waits for any in-flight background refreshes to settle.
func (c *Cache) Close() {
	c.background.Wait()
}

// Warm loads durable records into the cache. Records written under a
// different schema version are loaded stale-by-default; corrupt records are
// treated as misses and removed. Safe to call with no store configured.
func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	names, err := c.store.List(ctx)
	if err != nil {
		return err
	}

	version := c.cat.Version()
	loaded := 0
	for _, name := range names {
		rec, err := c.store.Get(ctx, name)
		if err != nil {
			if errs.IsCacheCorruption(err) {
				c.log.With().Str("table", name).Err(err).Logger().
					Warn("removing corrupt durable cache record")
				_ = c.store.Remove(ctx, name)
				continue
			}
			return err
		}
		if !c.cat.Exists(rec.Name) {
			continue
		}

		fetchedAt := time.Time{} // stale-by-default
		if rec.SchemaVersion == version {
			fetchedAt = rec.FetchedAt
		}
		c.insert(rec.Name, rec.Detail(), fetchedAt)
		loaded++
	}
	c.log.With().Int("entries", loaded).Logger().Info("cache warmed from durable store")
	return nil
}

// WarmCore preloads detail for names (the catalog's CORE tables) so they are
// resident and pinned before the first request arrives. A failed fetch is
// logged and skipped; that table loads on first use instead.
func (c *Cache) WarmCore(ctx context.Context, names []string) {
	for _, name := range names {
		if _, ok := c.Get(ctx, name); ok {
			continue
		}
		if _, err := c.GetOrFetch(ctx, name); err != nil {
			c.log.With().Str("table", name).Err(err).Logger().
				Warn("failed to preload core table detail")
		}
	}
}

// --- internals ---

// fetchShared runs the underlying fetch once per key regardless of the
// number of concurrent callers, then installs the result.
func (c *Cache) fetchShared(ctx context.Context, name string) (*schema.TableDetail, error) {
	v, err, _ := c.group.Do(name, func() (any, error) {
		detail, err := c.fetchWithRetry(ctx, name)
		if err != nil {
			return nil, err
		}
		c.insert(name, detail, c.opts.Clock())
		c.persist(detail)
		return detail, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schema.TableDetail), nil
}

func (c *Cache) fetchWithRetry(ctx context.Context, name string) (*schema.TableDetail, error) {
	var lastErr error
	backoff := c.opts.RetryBackoff
	for attempt := 0; attempt <= c.opts.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errs.Wrap(errs.ErrKindTimeout, "fetch abandoned for "+name, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
		detail, err := c.fetcher.FetchDetail(fetchCtx, name)
		cancel()
		if err == nil {
			return detail, nil
		}
		lastErr = err
		// Unknown tables and caller cancellation are not retryable.
		if errs.IsUnknownTable(err) || ctx.Err() != nil {
			break
		}
	}
	if errs.IsUnknownTable(lastErr) || errs.IsTimeout(lastErr) {
		return nil, lastErr
	}
	return nil, errs.Wrap(errs.ErrKindDetailFetchFailed, "detail fetch failed for "+name, lastErr)
}

// refreshAsync refetches name in the background. The caller that observed
// staleness is never blocked. Failures keep the stale entry in place.
func (c *Cache) refreshAsync(name string) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()

		// Detached from the triggering request on purpose.
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
		defer cancel()

		detail, err := c.fetcher.FetchDetail(ctx, name)

		c.mu.Lock()
		if e, ok := c.entries[name]; ok {
			e.refreshing = false
			if err == nil {
				e.detail = detail
				e.fetchedAt = c.opts.Clock()
			}
		}
		c.mu.Unlock()

		if err != nil {
			c.log.With().Str("table", name).Err(err).Logger().
				Warn("background refresh failed, serving stale entry")
			return
		}
		c.persist(detail)
	}()
}

// insert installs detail and runs the eviction scan.
func (c *Cache) insert(name string, detail *schema.TableDetail, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Clock()
	e, ok := c.entries[name]
	if !ok {
		e = &entry{lastAccessedAt: now}
		c.entries[name] = e
	}
	e.detail = detail
	e.fetchedAt = fetchedAt
	e.pinned = c.cat.TierOf(name) == schema.TierCore
	c.evictLocked()
}

// evictLocked removes least-recently-accessed non-pinned entries until the
// resident count fits the capacity. Ties break on lowest accessCount. When
// pinned entries alone exceed capacity nothing is evicted — capacity is
// advisory for CORE tables.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.opts.Capacity {
		var victim string
		var victimEntry *entry
		for name, e := range c.entries {
			if e.pinned {
				continue
			}
			if victimEntry == nil || older(e, victimEntry) {
				victim, victimEntry = name, e
			}
		}
		if victimEntry == nil {
			return
		}
		delete(c.entries, victim)
	}
}

// older reports whether a should be evicted before b.
func older(a, b *entry) bool {
	if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
		return a.lastAccessedAt.Before(b.lastAccessedAt)
	}
	return a.accessCount < b.accessCount
}

func (c *Cache) isStale(e *entry) bool {
	return c.opts.Clock().Sub(e.fetchedAt) >= c.opts.TTL
}

func (c *Cache) touch(e *entry) {
	e.lastAccessedAt = c.opts.Clock()
	e.accessCount++
}

// persist writes detail to the durable store, best effort.
func (c *Cache) persist(detail *schema.TableDetail) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
	defer cancel()

	rec := NewRecord(detail, c.opts.Clock(), c.cat.Version())
	if err := c.store.Put(ctx, rec); err != nil {
		c.log.With().Str("table", detail.Name).Err(err).Logger().
			Warn("failed to persist cache entry")
	}
}
