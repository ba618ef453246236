package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskd/internal/db"
	"taskd/internal/dbtest"
	"taskd/internal/domain"
)

func TestWithTimeout(t *testing.T) {
	s := &TaskService{timeout: time.Second}

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline to be applied")
	}

	parent, pcancel := context.WithTimeout(context.Background(), time.Hour)
	defer pcancel()
	ctx, cancel = s.withTimeout(parent)
	defer cancel()
	if d, _ := ctx.Deadline(); time.Until(d) < 30*time.Minute {
		t.Fatal("caller deadline should be kept")
	}

	none := &TaskService{}
	ctx, cancel = none.withTimeout(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("no timeout configured, no deadline expected")
	}
}

func TestTaskService_Lifecycle(t *testing.T) {
	svc := NewTaskService(dbtest.NewManager(t, dbtest.Options()))
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.TaskCreate{Title: "ship release"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil || got == nil || got.Title != "ship release" {
		t.Fatalf("get: %+v, %v", got, err)
	}

	updated, err := svc.Update(ctx, created.ID, domain.TaskPatch{Title: domain.Some("ship v2")})
	if err != nil || updated == nil || updated.Title != "ship v2" || updated.UpdatedAt == nil {
		t.Fatalf("update: %+v, %v", updated, err)
	}

	list, err := svc.List(ctx, 0, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v, %v", list, err)
	}

	if n, err := svc.Count(ctx); err != nil || n != 1 {
		t.Fatalf("count: %d, %v", n, err)
	}

	deleted, err := svc.Delete(ctx, created.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v, %v", deleted, err)
	}
	if got, err := svc.Get(ctx, created.ID); err != nil || got != nil {
		t.Fatalf("get after delete: %+v, %v", got, err)
	}
}

func TestTaskService_ValidationDoesNotWrite(t *testing.T) {
	svc := NewTaskService(dbtest.NewManager(t, dbtest.Options()))
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.TaskCreate{Title: ""})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if n, err := svc.Count(ctx); err != nil || n != 0 {
		t.Fatalf("count: %d, %v", n, err)
	}
}

func TestTaskService_StatementTimeout(t *testing.T) {
	opts := dbtest.Options()
	opts.StatementTimeout = 200 * time.Millisecond
	m := dbtest.NewManager(t, opts)
	svc := NewTaskService(m)

	// hold an exclusive lock so the service call blocks until its deadline
	lock, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(context.Background(), lock, errors.New("test done"))
	if _, err := lock.Exec(context.Background(), `LOCK TABLE tasks IN ACCESS EXCLUSIVE MODE`); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err = svc.Count(context.Background())
	var se *db.StorageError
	if !errors.As(err, &se) || se.Kind != db.KindTimeout {
		t.Fatalf("expected StorageError(timeout), got %v", err)
	}
}
