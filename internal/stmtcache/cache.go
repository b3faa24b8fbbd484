// Package stmtcache implements the per-connection bounded LRU statement
// cache described in spec section 4.B: a mapping from exact query text to
// a backend-owned prepared statement handle, evicting least-recently-used
// entries on insert once at capacity.
package stmtcache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/axql/axql/driver"
)

// PrepareFunc compiles sql against the owning session.
type PrepareFunc func(ctx context.Context, sql string) (driver.Stmt, error)

// Cache is a bounded, byte-exact LRU cache of prepared statements for one
// connection. It is not safe for concurrent use — callers own exclusivity
// the same way the connection itself is exclusively owned (spec section
// 4.E: "Statement cache: owned exclusively by its connection; no
// cross-task access").
type Cache struct {
	mu       sync.Mutex // guards against concurrent Clear racing GetOrPrepare's eviction callback
	capacity int
	lru      *lru.Cache[string, driver.Stmt]
	prepare  PrepareFunc
}

// New builds a cache with the given capacity. Capacity 0 disables
// caching entirely: every GetOrPrepare call prepares a fresh handle and
// the caller is responsible for finalizing it after use (see Disabled).
func New(capacity int, prepare PrepareFunc) (*Cache, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("stmtcache: capacity must be >= 0, got %d", capacity)
	}
	c := &Cache{capacity: capacity, prepare: prepare}
	if capacity == 0 {
		return c, nil
	}

	// finalizeOnEvict runs synchronously inside lru.Add/Purge; errors are
	// unrecoverable (the handle is already detached from the cache) so we
	// can only best-effort finalize and drop the result, matching the
	// teacher's ttlcache deallocation-func idiom in internal/database/db.go
	// ("if s != nil { _ = s.Close() }").
	finalizeOnEvict := func(_ string, stmt driver.Stmt) {
		_ = stmt.Finalize(context.Background())
	}

	l, err := lru.NewWithEvict(capacity, finalizeOnEvict)
	if err != nil {
		return nil, fmt.Errorf("stmtcache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Disabled reports whether this cache has capacity 0.
func (c *Cache) Disabled() bool {
	return c.capacity == 0
}

// GetOrPrepare returns the cached handle for sql (promoting it to MRU),
// or prepares, inserts, and returns a new one on miss. On a capacity-0
// cache it always prepares a fresh handle; the handle is not tracked and
// must be finalized by the caller after use.
//
// If prepare fails, nothing is inserted and the error propagates — the
// cache is left exactly as it was before the call.
func (c *Cache) GetOrPrepare(ctx context.Context, sql string) (stmt driver.Stmt, hit bool, err error) {
	if c.Disabled() {
		stmt, err = c.prepare(ctx, sql)
		return stmt, false, err
	}

	c.mu.Lock()
	if s, ok := c.lru.Get(sql); ok {
		c.mu.Unlock()
		return s, true, nil
	}
	c.mu.Unlock()

	// Prepare outside the lock: Prepare may block on backend I/O and must
	// not stall other goroutines touching this cache. Since the cache is
	// owned exclusively by one connection (never cross-task), this only
	// matters for re-entrant calls from the same goroutine's call stack,
	// which cannot happen through the public Conn API.
	s, err := c.prepare(ctx, sql)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	// Add returns true if an eviction occurred; the evicted handle is
	// finalized synchronously by finalizeOnEvict before Add returns.
	c.lru.Add(sql, s)
	c.mu.Unlock()

	return s, false, nil
}

// Len reports the number of cached entries. Exposed for tests per spec
// section 4.B.
func (c *Cache) Len() int {
	if c.Disabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear finalizes every cached handle and empties the cache. It returns
// only after every Finalize call has completed, because Purge calls
// finalizeOnEvict synchronously for each remaining entry.
func (c *Cache) Clear(_ context.Context) error {
	if c.Disabled() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}

// Contains reports whether sql is currently cached, without affecting
// recency order. Exposed for tests.
func (c *Cache) Contains(sql string) bool {
	if c.Disabled() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(sql)
}
