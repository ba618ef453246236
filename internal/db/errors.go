package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"taskd/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrConfig          = errors.New("invalid database configuration")
	ErrConnection      = errors.New("database unreachable")
	ErrNotInitialized  = errors.New("connection manager not initialized")
	ErrPoolExhausted   = errors.New("connection pool exhausted")
	ErrSessionReleased = errors.New("session already released")
	ErrStorage         = errors.New("storage error")
)

// StorageKind classifies a StorageError
type StorageKind string

const (
	KindConnection StorageKind = "connection"
	KindTimeout    StorageKind = "timeout"
	KindCanceled   StorageKind = "canceled"
	KindConstraint StorageKind = "constraint"
	KindQuery      StorageKind = "query"
)

// StorageError is a failure of the store during an operation.
// The enclosing session must be rolled back.
type StorageError struct {
	Op   string
	Kind StorageKind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Retryable reports whether repeating the whole operation may succeed.
func (e *StorageError) Retryable() bool {
	return e.Kind == KindConnection || e.Kind == KindTimeout
}

// SQLSTATE codes we translate explicitly
const (
	sqlStateStringTooLong = "22001"
	sqlStateNotNull       = "23502"
	sqlStateCheck         = "23514"
	sqlStateQueryCanceled = "57014"
	sqlStateAdminShutdown = "57P01"
)

// Translate maps low-level pgx, network and context errors into the error
// taxonomy of this package. Errors already in the taxonomy pass through.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var ve *domain.ValidationError
	var se *StorageError
	if errors.As(err, &ve) || errors.As(err, &se) ||
		errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrSessionReleased) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateStringTooLong, sqlStateNotNull, sqlStateCheck:
			return &domain.ValidationError{Field: constraintField(pgErr), Reason: pgErr.Message}
		case sqlStateQueryCanceled:
			return &StorageError{Op: op, Kind: KindTimeout, Err: err}
		case sqlStateAdminShutdown:
			return &StorageError{Op: op, Kind: KindConnection, Err: err}
		}
		if strings.HasPrefix(pgErr.Code, "23") {
			return &StorageError{Op: op, Kind: KindConstraint, Err: err}
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return &StorageError{Op: op, Kind: KindConnection, Err: err}
		}
		return &StorageError{Op: op, Kind: KindQuery, Err: err}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return &StorageError{Op: op, Kind: KindTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &StorageError{Op: op, Kind: KindCanceled, Err: err}
	case isConnectionError(err):
		return &StorageError{Op: op, Kind: KindConnection, Err: err}
	}
	return &StorageError{Op: op, Kind: KindQuery, Err: err}
}

func isConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

func constraintField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	// postgres names inline checks <table>_<column>_check
	if pgErr.TableName == "" || !strings.HasSuffix(pgErr.ConstraintName, "_check") {
		return ""
	}
	name := strings.TrimSuffix(pgErr.ConstraintName, "_check")
	return strings.TrimPrefix(name, pgErr.TableName+"_")
}
