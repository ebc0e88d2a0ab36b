// Package session owns the two pieces of shared state in the process: the
// bounded database connection pool and the registry of live upload/query
// sessions. Everything else in the pipelines is per-request.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

// Pool hands out leased store connections, at most Size at a time.
//
// Capacity is enforced with a buffered channel acting as a semaphore;
// connections themselves are opened lazily and kept on an idle list between
// leases. A connection that fails its liveness ping is discarded and its
// capacity slot freed, so a broken connection never poisons the pool.
type Pool struct {
	store   store.Store
	slots   chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	idle   []store.Conn
	closed bool
}

// NewPool creates a pool of at most size connections. Checkout waits up to
// timeout for a free slot before failing.
func NewPool(s store.Store, size int, timeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		store:   s,
		slots:   make(chan struct{}, size),
		timeout: timeout,
	}
}

// Lease is one checked-out connection. Release returns capacity exactly
// once; calling it again is a no-op.
type Lease struct {
	pool *Pool
	conn store.Conn
	once sync.Once
}

// Conn returns the leased connection. Not safe for concurrent use.
func (l *Lease) Conn() store.Conn { return l.conn }

// Release returns the lease's capacity to the pool. The connection is kept
// for reuse when it still answers a ping, otherwise closed.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		l.pool.put(ctx, l.conn)
	})
}

// Checkout blocks until a connection slot frees up, the pool timeout lapses,
// or ctx is done. A lapsed timeout is a pool-exhausted error; the session
// that hit it stays valid.
func (p *Pool) Checkout(ctx context.Context) (*Lease, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		return nil, errs.Newf(errs.PoolExhausted, "no database connection available within %s", p.timeout)
	case <-ctx.Done():
		return nil, errs.Wrap(errs.PoolExhausted, "checkout canceled", ctx.Err())
	}

	conn, err := p.take(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return &Lease{pool: p, conn: conn}, nil
}

// take pops a live idle connection or opens a new one.
func (p *Pool) take(ctx context.Context) (store.Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errs.New(errs.PoolExhausted, "pool is draining")
		}
		var conn store.Conn
		if n := len(p.idle); n > 0 {
			conn = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()

		if conn == nil {
			return p.store.Connect(ctx)
		}
		if err := conn.Ping(ctx); err == nil {
			return conn, nil
		}
		_ = conn.Close(ctx)
	}
}

func (p *Pool) put(ctx context.Context, conn store.Conn) {
	defer func() { <-p.slots }()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || conn.Ping(ctx) != nil {
		_ = conn.Close(ctx)
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// Drain closes idle connections and stops new checkouts. Outstanding leases
// keep working; their connections are closed on release.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close(ctx)
	}
	p.store.Close()
}
