package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blacksamuraiiii/xiyan-web/internal/metrics"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

// Session is one user's connected state: a pooled connection lease, the
// tables the session created, and the question/answer history.
type Session struct {
	ID        string
	CreatedAt time.Time

	lease *Lease

	// connMu serializes use of the leased connection. Conns are not safe
	// for concurrent use, so one session runs one import or query at a time.
	connMu sync.Mutex

	mu         sync.Mutex
	lastActive time.Time
	tables     []string
	tableSet   map[string]struct{}
	colTypes   map[string][]string
	history    []Exchange
}

// Exchange is one question/answer turn kept in the session history.
type Exchange struct {
	Question string
	SQL      string
	Err      string
	At       time.Time
}

// Lease returns the session's pooled connection lease.
func (s *Session) Lease() *Lease { return s.lease }

// Conn returns the session's leased connection without acquiring exclusive
// use. Callers that execute statements go through AcquireConn instead.
func (s *Session) Conn() store.Conn { return s.lease.conn }

// AcquireConn grants exclusive use of the leased connection, blocking while
// another import or query holds it. Release with ReleaseConn.
func (s *Session) AcquireConn() store.Conn {
	s.connMu.Lock()
	return s.lease.conn
}

// ReleaseConn returns the connection acquired with AcquireConn.
func (s *Session) ReleaseConn() { s.connMu.Unlock() }

// Touch refreshes the activity timestamp used by the expiry sweep.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// OwnTable records a table as created by this session.
func (s *Session) OwnTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tableSet[name]; ok {
		return
	}
	s.tableSet[name] = struct{}{}
	s.tables = append(s.tables, name)
}

// SetColumnTypes remembers the advisory column type tags of an owned table,
// in column order. They feed the schema description for query generation.
func (s *Session) SetColumnTypes(name string, types []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.colTypes == nil {
		s.colTypes = make(map[string][]string)
	}
	s.colTypes[name] = types
}

// ColumnTypes returns the advisory type tags recorded for an owned table,
// or nil when none were recorded.
func (s *Session) ColumnTypes(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colTypes[name]
}

// Owns reports whether the session created the named table.
func (s *Session) Owns(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tableSet[name]
	return ok
}

// Tables returns the owned table names in creation order.
func (s *Session) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tables))
	copy(out, s.tables)
	return out
}

// Record appends one exchange to the history.
func (s *Session) Record(ex Exchange) {
	s.mu.Lock()
	s.history = append(s.history, ex)
	s.mu.Unlock()
}

// History returns a copy of the session's exchanges, oldest first.
func (s *Session) History() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Exchange, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Registry tracks live sessions by id and evicts the stale ones.
type Registry struct {
	pool   *Pool
	maxAge time.Duration
	log    *slog.Logger

	// Metrics receives session lifecycle counters; nil means none.
	Metrics metrics.Backend

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions expire after maxAge of
// inactivity.
func NewRegistry(pool *Pool, maxAge time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		pool:     pool,
		maxAge:   maxAge,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Connect checks out a pooled connection and registers a new session around
// it. A pool failure leaves the registry untouched.
func (r *Registry) Connect(ctx context.Context) (*Session, error) {
	lease, err := r.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		lastActive: now,
		lease:      lease,
		tableSet:   make(map[string]struct{}),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.log.InfoContext(ctx, "session connected", "session_id", s.ID)
	r.count("connect")
	return s, nil
}

func (r *Registry) count(event string) {
	if r.Metrics != nil {
		r.Metrics.IncCounter(metrics.SessionsTotal, 1, metrics.Labels{"event": event})
	}
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s := r.sessions[id]
	r.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("unknown session %s", id)
	}
	return s, nil
}

// Disconnect releases the session's lease and drops it from the registry.
// Unknown ids are a no-op.
func (r *Registry) Disconnect(ctx context.Context, id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if s == nil {
		return
	}
	s.lease.Release(ctx)
	r.log.InfoContext(ctx, "session disconnected", "session_id", id, "tables", len(s.Tables()))
	r.count("disconnect")
}

// Sweep disconnects every session idle longer than the registry max age and
// returns how many were evicted.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-r.maxAge)

	r.mu.Lock()
	var stale []string
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.log.InfoContext(ctx, "session expired", "session_id", id)
		r.Disconnect(ctx, id)
		r.count("expired")
	}
	return len(stale)
}

// StartSweeper runs Sweep on the given interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
