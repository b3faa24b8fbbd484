// Package axql is the connection-and-statement runtime described by
// spec section 2: a connection pool, a per-connection statement cache
// and execution pipeline, and a transaction manager, sitting between a
// user-facing query builder and the narrow driver trait in the driver
// package.
package axql

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/axql/axql/driver"
	"github.com/axql/axql/driver/pgwire"
	"github.com/axql/axql/driver/sqlite"
	"github.com/axql/axql/internal/rowstream"
	"github.com/axql/axql/internal/sqliteworker"
	"github.com/axql/axql/internal/stmtcache"
)

// Conn owns one exclusive driver session, a statement cache, an optional
// SQLite statement worker, and transaction depth/broken-flag state, per
// spec section 3.
type Conn struct {
	session driver.Session
	cache   *stmtcache.Cache
	worker  *sqliteworker.Worker // non-nil only for the sqlite backend

	txDepth atomic.Int32
	broken  atomic.Bool
	inUse   atomic.Bool // CAS-guarded: a live row stream borrows the connection exclusively

	closeOnce sync.Once
	closeErr  error

	openedAt time.Time
	dialect  string
	hooks    Hooks

	// pendingStreamRelease is armed by Pool immediately before a Fetch
	// call it is brokering, and consumed once that stream finishes, so
	// the connection returns to the pool at the same moment it becomes
	// free to reuse. Conn itself is never borrowed by two callers at
	// once, so this single-slot field needs no locking beyond what
	// acquireExclusive already provides.
	pendingStreamRelease func()
}

// armPoolRelease records fn to run once, when the next Fetch's stream
// finishes. Used by Pool.Fetch to tie pool membership to stream
// lifetime.
func (c *Conn) armPoolRelease(fn func()) {
	c.pendingStreamRelease = fn
}

func (c *Conn) takePoolRelease() func() {
	fn := c.pendingStreamRelease
	c.pendingStreamRelease = nil
	return fn
}

// openConn constructs a Conn around an already-open driver.Session. Open
// calls it once the backend session is established.
func openConn(dialect string, session driver.Session, cacheCapacity int) (*Conn, error) {
	c := &Conn{session: session, openedAt: time.Now(), dialect: dialect}

	cache, err := stmtcache.New(cacheCapacity, func(ctx context.Context, sql string) (driver.Stmt, error) {
		return c.session.Prepare(ctx, sql)
	})
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// Open dials a new connection for dialect ("sqlite" or "postgres") per
// opts, with a bounded statement cache of cacheCapacity entries (0
// disables caching).
func Open(ctx context.Context, dialect string, opts driver.Options, cacheCapacity int) (*Conn, error) {
	var backend driver.Driver
	switch dialect {
	case "sqlite":
		backend = sqlite.Backend{}
	case "postgres":
		backend = pgwire.Backend{}
	default:
		return nil, &driver.Error{Kind: driver.KindConfiguration, Message: fmt.Sprintf("unknown dialect %q", dialect)}
	}

	session, err := backend.Open(ctx, opts)
	if err != nil {
		log.Warn().Err(err).Str("dialect", dialect).Msg("failed to open connection")
		return nil, err
	}

	c, err := openConn(dialect, session, cacheCapacity)
	if err != nil {
		return nil, err
	}
	if dialect == "sqlite" {
		c.worker = sqliteworker.Start()
	}
	log.Debug().Str("dialect", dialect).Msg("connection opened")
	return c, nil
}

// Dialect reports which backend this connection talks to.
func (c *Conn) Dialect() string { return c.dialect }

// SetHooks attaches an instrumentation sink. Called by Pool immediately
// after dialing, before the connection is ever handed to a caller.
func (c *Conn) SetHooks(h Hooks) { c.hooks = h }

func (c *Conn) recordCacheLookup(hit bool) {
	if c.hooks == nil {
		return
	}
	if hit {
		c.hooks.CacheHit()
	} else {
		c.hooks.CacheMiss()
	}
}

// Broken reports whether a fatal Protocol/Io error (or worker crash) has
// been observed on this connection; subsequent operations short-circuit.
func (c *Conn) Broken() bool { return c.broken.Load() }

func (c *Conn) markBroken(err error) error {
	c.broken.Store(true)
	return err
}

// acquireExclusive enforces the borrow-discipline invariant of spec
// section 4.E: holding a live row stream while issuing another query on
// the same connection is rejected rather than silently interleaved.
func (c *Conn) acquireExclusive() error {
	if !c.inUse.CompareAndSwap(false, true) {
		return &driver.Error{Kind: driver.KindProtocol, Message: "axql: connection busy with a live row stream or transaction"}
	}
	return nil
}

func (c *Conn) releaseExclusive() {
	c.inUse.Store(false)
}

// Ping performs a round-trip against the backend. Fails fast if the
// connection is already known broken.
func (c *Conn) Ping(ctx context.Context) error {
	if c.Broken() {
		return driver.ErrPoolClosed
	}
	if err := c.acquireExclusive(); err != nil {
		return err
	}
	defer c.releaseExclusive()

	if err := c.session.Ping(ctx); err != nil {
		return c.classifyAndMark(err)
	}
	return nil
}

// classifyAndMark marks the connection broken for Protocol/Io/WorkerCrashed
// errors, per spec section 4.E/7, and returns err unchanged otherwise.
func (c *Conn) classifyAndMark(err error) error {
	var de *driver.Error
	if e, ok := err.(*driver.Error); ok {
		de = e
	}
	if de != nil {
		switch de.Kind {
		case driver.KindProtocol, driver.KindIO, driver.KindWorkerCrashed:
			return c.markBroken(err)
		}
	}
	return err
}

// Execute runs sql with args and returns the number of affected rows.
func (c *Conn) Execute(ctx context.Context, sqlText string, args ...any) (int64, error) {
	if c.Broken() {
		return 0, driver.ErrPoolClosed
	}
	if err := c.acquireExclusive(); err != nil {
		return 0, err
	}
	defer c.releaseExclusive()

	stmt, hit, err := c.cache.GetOrPrepare(ctx, sqlText)
	if err != nil {
		return 0, c.classifyAndMark(err)
	}
	if c.cache.Disabled() {
		defer func() { _ = stmt.Finalize(ctx) }()
	}
	c.recordCacheLookup(hit)

	n, err := c.session.Execute(ctx, stmt, args)
	if err != nil {
		return 0, c.classifyAndMark(err)
	}
	return n, nil
}

// Fetch runs sql with args and returns a lazy row stream. The connection
// is exclusively borrowed by the returned stream until it is closed or
// exhausted.
func (c *Conn) Fetch(ctx context.Context, sqlText string, args ...any) (*rowstream.Stream, error) {
	if c.Broken() {
		return nil, driver.ErrPoolClosed
	}
	if err := c.acquireExclusive(); err != nil {
		return nil, err
	}

	stmt, hit, err := c.cache.GetOrPrepare(ctx, sqlText)
	if err != nil {
		c.releaseExclusive()
		return nil, c.classifyAndMark(err)
	}
	c.recordCacheLookup(hit)

	rs, err := c.session.Fetch(ctx, stmt, args)
	if err != nil {
		c.releaseExclusive()
		return nil, c.classifyAndMark(err)
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			c.releaseExclusive()
			if extra := c.takePoolRelease(); extra != nil {
				extra()
			}
		})
	}
	stream := rowstream.New(rs, func(err error) { c.markBroken(err) }, release)
	return stream, nil
}

// Begin starts a transaction (or a nested savepoint if one is already
// open) on this connection. See tx.go for the Tx type.
func (c *Conn) Begin(ctx context.Context) (*Tx, error) {
	return beginOn(ctx, c)
}

// CachedStatementsSize reports the number of entries currently in this
// connection's statement cache. Exposed for tests per spec section 4.E.
func (c *Conn) CachedStatementsSize() int { return c.cache.Len() }

// ClearCachedStatements finalizes every cached statement handle.
func (c *Conn) ClearCachedStatements(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

// Close is idempotent: it finalizes the statement cache, closes the
// SQLite worker (if any), then closes the driver session.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		ctx := context.Background()
		if err := c.cache.Clear(ctx); err != nil {
			c.closeErr = err
		}
		if c.worker != nil {
			c.worker.Close()
		}
		if err := c.session.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		if c.closeErr != nil {
			log.Warn().Err(c.closeErr).Str("dialect", c.dialect).Msg("connection closed with error")
		} else {
			log.Debug().Str("dialect", c.dialect).Msg("connection closed")
		}
	})
	return c.closeErr
}
