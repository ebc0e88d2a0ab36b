package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

// fakeStore hands out trivially live connections and counts them.
type fakeStore struct {
	connects atomic.Int64
	pingErr  error
}

func (f *fakeStore) Connect(ctx context.Context) (store.Conn, error) {
	f.connects.Add(1)
	return &fakeConn{store: f}, nil
}

func (f *fakeStore) Close() {}

type fakeConn struct {
	store  *fakeStore
	closed atomic.Bool
}

func (c *fakeConn) Close(ctx context.Context) error { c.closed.Store(true); return nil }
func (c *fakeConn) Ping(ctx context.Context) error  { return c.store.pingErr }

func (c *fakeConn) EnsureTable(ctx context.Context, table string, columns []string) error { return nil }
func (c *fakeConn) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	return nil
}
func (c *fakeConn) InsertRow(ctx context.Context, table string, columns []string, row []any) error {
	return nil
}
func (c *fakeConn) TableExists(ctx context.Context, table string) (bool, error) { return true, nil }
func (c *fakeConn) CountRows(ctx context.Context, table string) (int64, error)  { return 0, nil }
func (c *fakeConn) TableColumns(ctx context.Context, tables []string) (map[string][]string, error) {
	return nil, nil
}
func (c *fakeConn) Query(ctx context.Context, sql string) (*store.ResultSet, error) {
	return &store.ResultSet{}, nil
}
func (c *fakeConn) Exec(ctx context.Context, sql string) (int64, error) { return 0, nil }

func TestPool_ExhaustionThenRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := &fakeStore{}
	p := NewPool(fs, 2, 150*time.Millisecond)

	l1, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout 1: %v", err)
	}
	l2, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout 2: %v", err)
	}

	// With the pool full the next checkout must block, then fail with the
	// exhaustion kind once the timeout lapses.
	start := time.Now()
	_, err = p.Checkout(ctx)
	if !errs.Is(err, errs.PoolExhausted) {
		t.Fatalf("kind = %q, want %q (err=%v)", errs.KindOf(err), errs.PoolExhausted, err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("checkout failed without waiting for the timeout")
	}

	// An early release unblocks a concurrent waiter.
	done := make(chan error, 1)
	go func() {
		l, err := p.Checkout(ctx)
		if err == nil {
			l.Release(ctx)
		}
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	l1.Release(ctx)

	if err := <-done; err != nil {
		t.Fatalf("checkout after release: %v", err)
	}
	l2.Release(ctx)
}

func TestPool_ReusesIdleConnections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := &fakeStore{}
	p := NewPool(fs, 1, time.Second)

	for i := 0; i < 3; i++ {
		l, err := p.Checkout(ctx)
		if err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
		l.Release(ctx)
	}

	if n := fs.connects.Load(); n != 1 {
		t.Fatalf("connects = %d, want 1", n)
	}
}

func TestPool_DiscardsBrokenConnections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := &fakeStore{}
	p := NewPool(fs, 1, time.Second)

	l, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	conn := l.Conn().(*fakeConn)

	// Break the connection before release: it must be closed, not pooled,
	// and the freed slot must still admit a fresh checkout.
	fs.pingErr = context.DeadlineExceeded
	l.Release(ctx)
	if !conn.closed.Load() {
		t.Fatal("broken connection was not closed on release")
	}

	fs.pingErr = nil
	l2, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout after discard: %v", err)
	}
	l2.Release(ctx)

	if n := fs.connects.Load(); n != 2 {
		t.Fatalf("connects = %d, want 2", n)
	}
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewPool(&fakeStore{}, 1, time.Second)
	l, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	l.Release(ctx)
	l.Release(ctx) // second release must not free a slot twice

	l2, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	defer l2.Release(ctx)

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.Checkout(shortCtx); err == nil {
		t.Fatal("double release created phantom capacity")
	}
}

func TestRegistry_ConnectDisconnectAndOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewPool(&fakeStore{}, 2, time.Second)
	r := NewRegistry(p, time.Hour, nil)

	s, err := r.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.ID == "" {
		t.Fatal("session id is empty")
	}

	s.OwnTable("sales")
	s.OwnTable("people")
	s.OwnTable("sales") // duplicate
	got := s.Tables()
	if len(got) != 2 || got[0] != "sales" || got[1] != "people" {
		t.Fatalf("Tables() = %v", got)
	}
	if !s.Owns("sales") || s.Owns("other") {
		t.Fatal("ownership lookup is wrong")
	}

	r.Disconnect(ctx, s.ID)
	if _, err := r.Get(s.ID); err == nil {
		t.Fatal("session still registered after disconnect")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_SweepEvictsStaleSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewPool(&fakeStore{}, 2, time.Second)
	r := NewRegistry(p, 30*time.Millisecond, nil)

	stale, err := r.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fresh, err := r.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	fresh.Touch()

	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, err := r.Get(stale.ID); err == nil {
		t.Fatal("stale session survived the sweep")
	}
	if _, err := r.Get(fresh.ID); err != nil {
		t.Fatalf("fresh session evicted: %v", err)
	}
}

func TestPool_CheckoutAfterDrainIsPoolExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pool := NewPool(&fakeStore{}, 2, time.Second)
	pool.Drain(ctx)

	_, err := pool.Checkout(ctx)
	if !errs.Is(err, errs.PoolExhausted) {
		t.Fatalf("kind = %q, want %q", errs.KindOf(err), errs.PoolExhausted)
	}
}
