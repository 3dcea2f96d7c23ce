// ABOUTME: Memory-bounded page cache keyed by (document, page, zoom)
// ABOUTME: Lock-free reads against a published snapshot; mutation serialized under one mutex

package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/nainya/docsession/internal/logger"
	"github.com/nainya/docsession/internal/metrics"
	"github.com/nainya/docsession/pkg/render"
)

var (
	// ErrOverBudget is returned when an artifact cannot fit even after evicting
	// every unpinned entry. The artifact is still usable, just not cached.
	ErrOverBudget = errors.New("cache: artifact exceeds available budget")

	// ErrDocumentClosed is returned for puts keyed by a document that is not open
	ErrDocumentClosed = errors.New("cache: document not open")
)

// PutOptions qualify an insertion
type PutOptions struct {
	// Prefetch marks speculative entries; they are evicted first until viewed
	Prefetch bool
}

// LoadFunc produces the artifact for a missing key
type LoadFunc func(ctx context.Context) (*render.Artifact, error)

// AdmitFunc decides, after a load completes, whether its result may be cached
type AdmitFunc func(key render.Key) bool

type entry struct {
	art        *render.Artifact
	tick       atomic.Uint64
	prefetched atomic.Bool
}

type entries map[render.Key]*entry

// Stats is a point-in-time view of cache occupancy
type Stats struct {
	Entries int
	Bytes   int64
	Budget  int64
	Pinned  int
}

// Cache is the page cache. The sum of footprints of live entries never exceeds
// the budget.
type Cache struct {
	budget int64

	snap  atomic.Pointer[entries]
	clock atomic.Uint64

	mu     sync.Mutex
	used   int64
	pinned map[string]map[string]map[int]struct{} // docID -> owner -> pages
	open   map[string]int

	group   singleflight.Group
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a cache bounded to budget bytes
func New(budget int64, log *logger.Logger, m *metrics.Metrics) (*Cache, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("cache: budget must be positive, got %d", budget)
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Cache{
		budget:  budget,
		pinned:  make(map[string]map[string]map[int]struct{}),
		open:    make(map[string]int),
		log:     log.Component("cache"),
		metrics: m,
	}
	empty := make(entries)
	c.snap.Store(&empty)
	return c, nil
}

// Budget returns the configured byte budget
func (c *Cache) Budget() int64 { return c.budget }

// Get returns a cached artifact and marks it as viewed. Never blocks.
func (c *Cache) Get(key render.Key) (*render.Artifact, bool) {
	e, ok := (*c.snap.Load())[key]
	c.metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	e.tick.Store(c.clock.Add(1))
	e.prefetched.Store(false)
	return e.art, true
}

// Peek returns a cached artifact without touching recency
func (c *Cache) Peek(key render.Key) (*render.Artifact, bool) {
	e, ok := (*c.snap.Load())[key]
	if !ok {
		return nil, false
	}
	return e.art, true
}

// Put inserts or replaces an artifact, evicting unpinned entries as needed.
// When the artifact cannot fit, nothing is evicted and ErrOverBudget is returned.
func (c *Cache) Put(key render.Key, art *render.Artifact, opts PutOptions) error {
	if art == nil {
		return fmt.Errorf("cache: nil artifact for %s", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open[key.DocumentID] == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentClosed, key.DocumentID)
	}

	cur := *c.snap.Load()
	var replaced int64
	if old, ok := cur[key]; ok {
		replaced = old.art.Footprint
	}

	need := c.used - replaced + art.Footprint
	if need > c.budget {
		var evictable int64
		for k, e := range cur {
			if k != key && !c.isPinned(k) {
				evictable += e.art.Footprint
			}
		}
		if need-evictable > c.budget {
			c.metrics.RecordRejected()
			return fmt.Errorf("%w: %s needs %d bytes, budget %d", ErrOverBudget, key, art.Footprint, c.budget)
		}
	}

	next := make(entries, len(cur)+1)
	for k, e := range cur {
		next[k] = e
	}
	if replaced > 0 {
		delete(next, key)
		c.used -= replaced
	}

	if evicted := c.evictLocked(next, c.budget-art.Footprint); evicted > 0 {
		c.metrics.RecordEviction("pressure", evicted)
	}

	e := &entry{art: art}
	e.tick.Store(c.clock.Add(1))
	e.prefetched.Store(opts.Prefetch)
	next[key] = e
	c.used += art.Footprint

	c.publishLocked(next)
	return nil
}

// EvictUntil evicts unpinned entries until usage is at most target bytes or only
// pinned entries remain. It returns the number of entries evicted.
func (c *Cache) EvictUntil(target int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := *c.snap.Load()
	next := make(entries, len(cur))
	for k, e := range cur {
		next[k] = e
	}

	evicted := c.evictLocked(next, target)
	if evicted > 0 {
		c.metrics.RecordEviction("explicit", evicted)
		c.publishLocked(next)
	}
	return evicted
}

// evictLocked removes candidates from m until usage <= target. Order: prefetched
// entries never viewed, then least recently used, then larger footprint.
func (c *Cache) evictLocked(m entries, target int64) int {
	if c.used <= target {
		return 0
	}

	type candidate struct {
		key        render.Key
		tick       uint64
		prefetched bool
		footprint  int64
	}
	candidates := make([]candidate, 0, len(m))
	for k, e := range m {
		if c.isPinned(k) {
			continue
		}
		candidates = append(candidates, candidate{
			key:        k,
			tick:       e.tick.Load(),
			prefetched: e.prefetched.Load(),
			footprint:  e.art.Footprint,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.prefetched != b.prefetched {
			return a.prefetched
		}
		if a.tick != b.tick {
			return a.tick < b.tick
		}
		return a.footprint > b.footprint
	})

	evicted := 0
	for _, cand := range candidates {
		if c.used <= target {
			break
		}
		delete(m, cand.key)
		c.used -= cand.footprint
		evicted++
		c.log.Debug("evicted").
			Str("key", cand.key.String()).
			Int64("footprint", cand.footprint).
			Bool("prefetched", cand.prefetched).
			Send()
	}
	return evicted
}

// Invalidate drops every entry and pin of a document
func (c *Cache) Invalidate(docID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := *c.snap.Load()
	next := make(entries, len(cur))
	removed := 0
	for k, e := range cur {
		if k.DocumentID == docID {
			c.used -= e.art.Footprint
			removed++
			continue
		}
		next[k] = e
	}
	delete(c.pinned, docID)

	if removed > 0 {
		c.metrics.RecordEviction("invalidate", removed)
		c.publishLocked(next)
	}
	return removed
}

// OpenDocument allows artifacts of docID to be cached. Calls nest.
func (c *Cache) OpenDocument(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[docID]++
}

// CloseDocument releases one OpenDocument. When the last one is released the
// document's pins are dropped; its entries stay for LRU reuse.
func (c *Cache) CloseDocument(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open[docID] <= 1 {
		delete(c.open, docID)
		delete(c.pinned, docID)
		return
	}
	c.open[docID]--
}

// Pin replaces the pages owner pins in a document. Owners are independent: a
// page stays pinned while any owner pins it. Pinned pages are exempt from
// eviction at every zoom.
func (c *Cache) Pin(owner, docID string, pages []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := make(map[int]struct{}, len(pages))
	for _, p := range pages {
		set[p] = struct{}{}
	}
	owners, ok := c.pinned[docID]
	if !ok {
		owners = make(map[string]map[int]struct{})
		c.pinned[docID] = owners
	}
	owners[owner] = set
}

// Unpin clears the pages owner pins in a document
func (c *Cache) Unpin(owner, docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	owners := c.pinned[docID]
	delete(owners, owner)
	if len(owners) == 0 {
		delete(c.pinned, docID)
	}
}

// IsPinned reports whether key is currently exempt from eviction
func (c *Cache) IsPinned(key render.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPinned(key)
}

func (c *Cache) isPinned(key render.Key) bool {
	for _, pages := range c.pinned[key.DocumentID] {
		if _, ok := pages[key.Page]; ok {
			return true
		}
	}
	return false
}

// Fetch resolves key from the cache or by calling load. Concurrent misses for
// the same key share one load. The load runs detached from ctx cancellation so
// a waiter giving up does not waste the work of others; the result is cached
// only when admit (if set) agrees and the budget allows it.
func (c *Cache) Fetch(ctx context.Context, key render.Key, load LoadFunc, admit AdmitFunc, opts PutOptions) (*render.Artifact, error) {
	if opts.Prefetch {
		if art, ok := c.Peek(key); ok {
			return art, nil
		}
	} else if art, ok := c.Get(key); ok {
		return art, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		if art, ok := c.Peek(key); ok {
			return art, nil
		}
		art, err := load(detached)
		if err != nil {
			return nil, err
		}
		if admit != nil && !admit(key) {
			c.metrics.RecordStaleDecode()
			c.log.Debug("discarded stale load").Str("key", key.String()).Send()
			return art, nil
		}
		if err := c.Put(key, art, opts); err != nil {
			c.log.Debug("load not cached").Str("key", key.String()).Err(err).Send()
		}
		return art, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		art := res.Val.(*render.Artifact)
		if !opts.Prefetch {
			c.markViewed(key)
		}
		return art, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) markViewed(key render.Key) {
	if e, ok := (*c.snap.Load())[key]; ok {
		e.tick.Store(c.clock.Add(1))
		e.prefetched.Store(false)
	}
}

// Stats returns current occupancy
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	pinned := 0
	for k := range *c.snap.Load() {
		if c.isPinned(k) {
			pinned++
		}
	}
	return Stats{
		Entries: len(*c.snap.Load()),
		Bytes:   c.used,
		Budget:  c.budget,
		Pinned:  pinned,
	}
}

// Keys returns the cached keys of a document
func (c *Cache) Keys(docID string) []render.Key {
	var keys []render.Key
	for k := range *c.snap.Load() {
		if k.DocumentID == docID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Page != keys[j].Page {
			return keys[i].Page < keys[j].Page
		}
		return keys[i].Zoom < keys[j].Zoom
	})
	return keys
}

func (c *Cache) publishLocked(next entries) {
	c.snap.Store(&next)
	c.metrics.UpdateCacheStats(c.used, len(next))
}
