package db

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionState is the transaction state of a session
type SessionState string

const (
	StateOpen       SessionState = "open"
	StateCommitted  SessionState = "committed"
	StateRolledBack SessionState = "rolled_back"
)

// Session is one checked-out connection plus its open transaction.
// A session serves a single unit of work and is not safe for concurrent use.
type Session struct {
	id       string
	mgr      *Manager
	conn     *pgxpool.Conn
	tx       pgx.Tx
	state    SessionState
	released atomic.Bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState { return s.state }

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.tx.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.tx.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.tx.QueryRow(ctx, sql, args...)
}
