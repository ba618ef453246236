package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskd/internal/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Manager owns the process-wide connection pool and hands out sessions.
// Construct one with Connect and pass it down; the zero value is unusable.
type Manager struct {
	pool *pgxpool.Pool
	opts PoolOptions

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	active   atomic.Int64
}

// Connect creates the pool and verifies that the store is reachable.
func Connect(ctx context.Context, connString string, opts PoolOptions) (*Manager, error) {
	dsn, err := NormalizeConnString(connString)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.MaxConns = opts.MaxConnections
	cfg.MinIdleConns = opts.MaxIdle
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}
	if opts.LogQueries {
		cfg.ConnConfig.Tracer = newQueryTracer()
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %v", ErrConnection, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	logger.Info("database connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"max_conns", opts.MaxConnections,
		"max_idle", opts.MaxIdle,
	)

	return &Manager{pool: pool, opts: opts}, nil
}

// Options returns the pool options the manager was created with
func (m *Manager) Options() PoolOptions {
	if m == nil {
		return PoolOptions{}
	}
	return m.opts
}

// Acquire checks out a connection and opens a transaction on it.
// Every session returned must be passed to Release exactly once.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if m == nil || m.pool == nil {
		return nil, ErrNotInitialized
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: pool is shut down", ErrNotInitialized)
	}
	m.inflight.Add(1)
	m.mu.RUnlock()

	conn, err := m.checkout(ctx)
	if err != nil {
		m.inflight.Done()
		return nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		m.inflight.Done()
		return nil, Translate("begin", err)
	}

	m.active.Add(1)
	return &Session{
		id:    uuid.NewString(),
		mgr:   m,
		conn:  conn,
		tx:    tx,
		state: StateOpen,
	}, nil
}

func (m *Manager) checkout(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, m.opts.AcquireTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= int(m.opts.MaxConnections); attempt++ {
		conn, err := m.pool.Acquire(acquireCtx)
		if err != nil {
			if ctx.Err() == nil && acquireCtx.Err() != nil {
				return nil, fmt.Errorf("%w: no connection available within %s", ErrPoolExhausted, m.opts.AcquireTimeout)
			}
			return nil, Translate("acquire", err)
		}

		if !m.opts.HealthCheckOnCheckout {
			return conn, nil
		}
		if lastErr = conn.Ping(acquireCtx); lastErr == nil {
			return conn, nil
		}

		// a closed conn is destroyed by the pool on release instead of being reused
		logger.Debug("discarding unhealthy connection", "error", lastErr)
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		_ = conn.Conn().Close(closeCtx)
		closeCancel()
		conn.Release()
	}
	return nil, Translate("health check", lastErr)
}

// Release ends the session: outcome nil commits, any other outcome rolls back.
// The connection is returned to the pool in both cases.
func (m *Manager) Release(ctx context.Context, s *Session, outcome error) error {
	if s == nil {
		return nil
	}
	if !s.released.CompareAndSwap(false, true) {
		return ErrSessionReleased
	}
	defer func() {
		s.conn.Release()
		s.mgr.active.Add(-1)
		s.mgr.inflight.Done()
	}()

	if outcome == nil {
		if err := s.tx.Commit(ctx); err != nil {
			s.state = StateRolledBack
			sessionsTotal.WithLabelValues("commit_failed").Inc()
			return Translate("commit", err)
		}
		s.state = StateCommitted
		sessionsTotal.WithLabelValues("commit").Inc()
		return nil
	}

	// the request context may already be done; rollback still has to reach the server
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	s.state = StateRolledBack
	sessionsTotal.WithLabelValues("rollback").Inc()
	if err := s.tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("failed to rollback session", "session_id", s.id, "error", err)
		return Translate("rollback", err)
	}
	return nil
}

// WithSession runs fn inside one session and releases it on every exit path:
// commit when fn returns nil, rollback when it returns an error or panics.
func (m *Manager) WithSession(ctx context.Context, fn func(*Session) error) (err error) {
	s, err := m.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = m.Release(ctx, s, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		if relErr := m.Release(ctx, s, err); relErr != nil && err == nil {
			err = relErr
		}
	}()

	return fn(s)
}

// Ping checks that the store answers
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.pool == nil {
		return ErrNotInitialized
	}
	if err := m.pool.Ping(ctx); err != nil {
		return Translate("ping", err)
	}
	return nil
}

// Shutdown stops handing out sessions, waits up to ShutdownTimeout for
// in-flight sessions to be released and closes the pool. Calling it again
// is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.pool == nil {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()

	var timeout <-chan time.Time
	if m.opts.ShutdownTimeout > 0 {
		timer := time.NewTimer(m.opts.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-drained:
		m.pool.Close()
		logger.Info("database pool closed")
		return nil
	case <-timeout:
	case <-ctx.Done():
	}

	// pool.Close blocks until every connection is back, so let the stragglers finish on their own
	remaining := m.active.Load()
	logger.Warn("database pool closing with sessions still in flight", "sessions", remaining)
	go m.pool.Close()
	return fmt.Errorf("shutdown: %d sessions still in flight", remaining)
}

// PoolStat is a snapshot of pool usage
type PoolStat struct {
	AcquiredConns        int32
	IdleConns            int32
	TotalConns           int32
	MaxConns             int32
	AcquireCount         int64
	CanceledAcquireCount int64
	EmptyAcquireCount    int64
	AcquireDuration      time.Duration
	ActiveSessions       int64
}

func (m *Manager) Stat() PoolStat {
	if m == nil || m.pool == nil {
		return PoolStat{}
	}
	s := m.pool.Stat()
	return PoolStat{
		AcquiredConns:        s.AcquiredConns(),
		IdleConns:            s.IdleConns(),
		TotalConns:           s.TotalConns(),
		MaxConns:             s.MaxConns(),
		AcquireCount:         s.AcquireCount(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
		EmptyAcquireCount:    s.EmptyAcquireCount(),
		AcquireDuration:      s.AcquireDuration(),
		ActiveSessions:       m.active.Load(),
	}
}
