// Package dbtest provides PostgreSQL-backed managers for integration tests.
//
// TEST_DATABASE_URL (or DATABASE_URL) points the tests at an existing server;
// otherwise a throwaway container is started with testcontainers. Tests are
// skipped when neither is available. Every manager gets its own schema, so
// test packages running in parallel do not see each other's rows.
package dbtest

import (
	"context"
	"errors"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"taskd/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var errDockerUnavailable = errors.New("docker not available and TEST_DATABASE_URL not set")

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// dockerAvailable checks whether the Docker daemon is reachable.
// testcontainers panics when Docker is missing, so probe first.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

// ConnString returns a connection string for a test server, skipping t when
// no server can be provided.
func ConnString(t testing.TB) string {
	t.Helper()

	for _, key := range []string{"TEST_DATABASE_URL", "DATABASE_URL"} {
		if dsn := os.Getenv(key); dsn != "" {
			return dsn
		}
	}

	containerOnce.Do(func() {
		if !dockerAvailable() {
			containerErr = errDockerUnavailable
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		// the container is reaped by testcontainers when the test binary exits
		c, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("taskd"),
			postgres.WithUsername("taskd"),
			postgres.WithPassword("taskd"),
			testcontainers.WithEnv(map[string]string{"TZ": "UTC"}),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	})

	if containerErr != nil {
		t.Skipf("postgres not available: %v", containerErr)
	}
	return containerDSN
}

// NewManager connects a Manager to a fresh, empty schema with the tasks table
// in place. The schema is dropped and the manager shut down on cleanup.
func NewManager(t testing.TB, opts db.PoolOptions) *db.Manager {
	t.Helper()

	base := ConnString(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := "taskd_test_" + uuid.NewString()[:8]
	admin, err := pgx.Connect(ctx, base)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	defer admin.Close(ctx)

	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		conn, err := pgx.Connect(cctx, base)
		if err != nil {
			t.Logf("drop schema %s: %v", schema, err)
			return
		}
		defer conn.Close(cctx)
		if _, err := conn.Exec(cctx, "DROP SCHEMA "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
	})

	m, err := db.Connect(ctx, withSearchPath(t, base, schema), opts)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	if err := m.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return m
}

// Options returns pool options suited to tests: small pool, short waits.
func Options() db.PoolOptions {
	opts := db.DefaultPoolOptions()
	opts.MaxConnections = 4
	opts.MaxIdle = 1
	opts.AcquireTimeout = 2 * time.Second
	opts.ShutdownTimeout = 2 * time.Second
	return opts
}

func withSearchPath(t testing.TB, dsn, schema string) string {
	t.Helper()
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse test connection string: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}
