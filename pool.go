package axql

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog/log"

	"github.com/axql/axql/driver"
)

// PoolConfig parameterizes a Pool per spec section 4.F.
type PoolConfig struct {
	Dialect string
	Options driver.Options

	// MinSize connections are opened eagerly and kept warm by the
	// maintainer loop. MaxSize bounds total physical connections.
	MinSize int
	MaxSize int

	// AcquireTimeout bounds how long Acquire waits for a free slot; zero
	// means wait indefinitely (subject to ctx).
	AcquireTimeout time.Duration

	// IdleTimeout is how long an idle connection above MinSize may sit
	// before the maintainer closes it. Zero disables idle reaping.
	IdleTimeout time.Duration

	// StatementCacheCapacity bounds each connection's statement cache.
	StatementCacheCapacity int

	// MaxLifetime retires a connection on Release once it has been open
	// longer than this, regardless of how healthy it otherwise looks.
	// Zero disables age-based retirement.
	MaxLifetime time.Duration

	// TestOnAcquire pings a popped idle connection before handing it
	// back from Acquire; a failing ping discards that connection and
	// falls through to dialing a fresh one instead of returning it.
	TestOnAcquire bool

	// Unfair, when true, lets Acquire race a buffered best-effort
	// channel for a free slot instead of golang.org/x/sync/semaphore's
	// strict FIFO queue (spec's "fair=false", not recommended: newer
	// arrivals may barge ahead of waiters that arrived earlier). The
	// zero value keeps the default FIFO behavior.
	Unfair bool

	// Hooks, if non-nil, receives cache hit/miss and rollback events from
	// every connection this pool dials (see internal/metrics).
	Hooks Hooks
}

// PoolStats is a point-in-time snapshot for monitoring and tests.
type PoolStats struct {
	Size    int // total physical connections, idle + borrowed
	Idle    int
	InUse   int
	Waiters int // goroutines currently blocked in Acquire
}

type pooledConn struct {
	conn      *Conn
	idleSince time.Time
}

// Pool is a bounded, fair connection pool. Acquire order is FIFO via
// golang.org/x/sync/semaphore.Weighted's internal wait queue; idle reuse
// is LIFO so a hot connection (warm statement cache) is handed out
// again before a cold one, per spec section 4.F.
type Pool struct {
	cfg PoolConfig
	sem *semaphore.Weighted // used unless cfg.Unfair
	slot chan struct{}      // used only when cfg.Unfair: a buffered, best-effort free-slot token bucket

	mu      sync.Mutex
	idle    []*pooledConn
	numOpen int

	waiters atomic.Int64
	closed  atomic.Bool

	maintainerStop chan struct{}
	maintainerDone chan struct{}
}

// NewPool constructs a pool and starts its maintainer goroutine. It does
// not block opening MinSize connections; that happens in the
// background so NewPool returns immediately.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}

	p := &Pool{
		cfg:            cfg,
		sem:            semaphore.NewWeighted(int64(cfg.MaxSize)),
		maintainerStop: make(chan struct{}),
		maintainerDone: make(chan struct{}),
	}
	if cfg.Unfair {
		p.slot = make(chan struct{}, cfg.MaxSize)
		for i := 0; i < cfg.MaxSize; i++ {
			p.slot <- struct{}{}
		}
	}

	go p.maintain()
	return p
}

// acquireSlot blocks until a free slot is available or ctx is done. In
// fair mode this defers to the semaphore's FIFO wait queue; in unfair
// mode every blocked caller races the same channel receive, so a slot
// freed while several callers are waiting goes to whichever the Go
// runtime happens to wake first rather than the oldest waiter.
func (p *Pool) acquireSlot(ctx context.Context) error {
	if !p.cfg.Unfair {
		return p.sem.Acquire(ctx, 1)
	}
	select {
	case <-p.slot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) tryAcquireSlot() bool {
	if !p.cfg.Unfair {
		return p.sem.TryAcquire(1)
	}
	select {
	case <-p.slot:
		return true
	default:
		return false
	}
}

func (p *Pool) releaseSlot() {
	if !p.cfg.Unfair {
		p.sem.Release(1)
		return
	}
	select {
	case p.slot <- struct{}{}:
	default:
	}
}

// Acquire borrows a connection, per spec section 4.F's three-step
// protocol: (1) take a free slot, fairly in FIFO arrival order unless
// cfg.Unfair; (2) reuse an idle connection if one is available and
// passes health checks; (3) otherwise dial a new physical connection.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, driver.ErrPoolClosed
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	// Close cancels slotCtx, so a caller parked on a full pool wakes with
	// ErrPoolClosed instead of waiting for a slot.
	slotCtx, cancelSlot := context.WithCancel(acquireCtx)
	go func() {
		select {
		case <-p.maintainerStop:
			cancelSlot()
		case <-slotCtx.Done():
		}
	}()

	p.waiters.Add(1)
	err := p.acquireSlot(slotCtx)
	p.waiters.Add(-1)
	cancelSlot()
	if err != nil {
		if p.closed.Load() {
			return nil, driver.ErrPoolClosed
		}
		if ctx.Err() == nil {
			return nil, driver.ErrPoolTimedOut
		}
		return nil, err
	}

	if p.closed.Load() {
		p.releaseSlot()
		return nil, driver.ErrPoolClosed
	}

	if conn := p.popIdle(); conn != nil {
		if p.idleConnUsable(acquireCtx, conn) {
			return conn, nil
		}
		// Unusable idle connection: drop it and fall through to dial
		// fresh, still holding the slot we already acquired.
		p.mu.Lock()
		p.numOpen--
		p.mu.Unlock()
	}

	conn, err := p.dial(ctx)
	if err != nil {
		p.releaseSlot()
		return nil, err
	}
	return conn, nil
}

// idleConnUsable reports whether a popped idle connection can be
// handed straight to the caller. A connection already known broken, one
// that has outlived MaxLifetime, or one that fails a TestOnAcquire ping
// is closed here and rejected so Acquire falls through to dialing.
func (p *Pool) idleConnUsable(ctx context.Context, conn *Conn) bool {
	if conn.Broken() {
		log.Debug().Str("dialect", p.cfg.Dialect).Msg("pool retiring broken idle connection")
		_ = conn.Close()
		return false
	}
	if p.cfg.MaxLifetime > 0 && time.Since(conn.openedAt) > p.cfg.MaxLifetime {
		log.Debug().Str("dialect", p.cfg.Dialect).Msg("pool retiring idle connection past max_lifetime")
		_ = conn.Close()
		return false
	}
	if p.cfg.TestOnAcquire {
		if err := conn.Ping(ctx); err != nil {
			log.Debug().Err(err).Str("dialect", p.cfg.Dialect).Msg("pool discarding idle connection that failed test_on_acquire ping")
			_ = conn.Close()
			return false
		}
	}
	return true
}

func (p *Pool) dial(ctx context.Context) (*Conn, error) {
	conn, err := Open(ctx, p.cfg.Dialect, p.cfg.Options, p.cfg.StatementCacheCapacity)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	hooks := p.cfg.Hooks
	p.numOpen++
	p.mu.Unlock()
	if hooks != nil {
		conn.SetHooks(hooks)
	}
	return conn, nil
}

func (p *Pool) popIdle() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	pc := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return pc.conn
}

// Release returns conn to the pool. Retire (close rather than recycle)
// if the connection is broken, the pool is closed, or the connection
// has outlived MaxLifetime; either way the freed slot lets the next
// Acquire dial a replacement.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}

	overAge := p.cfg.MaxLifetime > 0 && time.Since(conn.openedAt) > p.cfg.MaxLifetime
	if p.closed.Load() || conn.Broken() || overAge {
		log.Debug().Str("dialect", p.cfg.Dialect).
			Bool("poolClosed", p.closed.Load()).
			Bool("overMaxLifetime", overAge).
			Msg("pool retiring connection on release")
		_ = conn.Close()
		p.mu.Lock()
		p.numOpen--
		p.mu.Unlock()
		p.releaseSlot()
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, &pooledConn{conn: conn, idleSince: time.Now()})
	p.mu.Unlock()
	p.releaseSlot()
}

// SetHooks attaches an instrumentation sink for every connection this
// pool dials from now on. Connections already open (idle or borrowed)
// keep whatever hooks they were dialed with; callers that need hooks on
// every connection should call this before the pool has warmed, e.g.
// immediately after NewPool with MinSize 0.
func (p *Pool) SetHooks(h Hooks) {
	p.mu.Lock()
	p.cfg.Hooks = h
	p.mu.Unlock()
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	idle := len(p.idle)
	open := p.numOpen
	p.mu.Unlock()
	return PoolStats{
		Size:    open,
		Idle:    idle,
		InUse:   open - idle,
		Waiters: int(p.waiters.Load()),
	}
}

// Close stops the maintainer loop and closes every idle connection.
// Connections currently borrowed are closed as they are returned via
// Release, since p.closed is now set.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.maintainerStop)
	<-p.maintainerDone

	log.Info().Str("dialect", p.cfg.Dialect).Msg("pool closing")

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, pc := range idle {
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.mu.Lock()
		p.numOpen--
		p.mu.Unlock()
	}
	return firstErr
}

// maintain warms the pool to MinSize on startup and reaps idle
// connections above MinSize that have sat longer than IdleTimeout.
func (p *Pool) maintain() {
	defer close(p.maintainerDone)

	p.warm()

	if p.cfg.IdleTimeout <= 0 {
		<-p.maintainerStop
		return
	}

	interval := p.cfg.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.maintainerStop:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) warm() {
	for i := 0; i < p.cfg.MinSize; i++ {
		if p.closed.Load() {
			return
		}
		if !p.tryAcquireSlot() {
			return
		}
		conn, err := p.dial(context.Background())
		if err != nil {
			p.releaseSlot()
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, &pooledConn{conn: conn, idleSince: time.Now()})
		p.mu.Unlock()
		p.releaseSlot()
	}
}

func (p *Pool) reapIdle() {
	now := time.Now()
	var toClose []*pooledConn

	p.mu.Lock()
	keep := p.idle[:0]
	for _, pc := range p.idle {
		if p.numOpen-len(toClose) > p.cfg.MinSize && now.Sub(pc.idleSince) > p.cfg.IdleTimeout {
			toClose = append(toClose, pc)
			continue
		}
		keep = append(keep, pc)
	}
	p.idle = keep
	p.numOpen -= len(toClose)
	p.mu.Unlock()

	if len(toClose) > 0 {
		log.Debug().Str("dialect", p.cfg.Dialect).Int("count", len(toClose)).Msg("pool reaping idle connections")
	}
	for _, pc := range toClose {
		_ = pc.conn.Close()
	}
}
