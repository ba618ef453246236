package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"taskd/internal/db"
	"taskd/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MaxListLimit caps the number of tasks one List call returns
const MaxListLimit = 100

// Querier is the slice of a session the repository needs.
// *db.Session and pgx.Tx both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const taskColumns = `id, title, description, completed, created_at, updated_at`

// TaskRepository performs task operations on one caller-owned session.
// It never commits, rolls back or retries; that is the session owner's job.
type TaskRepository struct {
	db Querier
}

func NewTaskRepository(q Querier) *TaskRepository {
	return &TaskRepository{db: q}
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a task; the store assigns id and created_at.
func (r *TaskRepository) Create(ctx context.Context, in domain.TaskCreate) (*domain.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	t, err := scanTask(r.db.QueryRow(ctx,
		`INSERT INTO tasks (title, description, completed)
		 VALUES ($1, $2, $3)
		 RETURNING `+taskColumns,
		in.Title, in.Description, in.Completed,
	))
	if err != nil {
		return nil, db.Translate("create task", err)
	}
	return t, nil
}

// Get returns the task with id, or nil when there is none
func (r *TaskRepository) Get(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Translate("get task", err)
	}
	return t, nil
}

func normalizePage(skip, limit int) (int, int, error) {
	if skip < 0 {
		return 0, 0, &domain.ValidationError{Field: "skip", Reason: "must not be negative"}
	}
	if limit < 0 {
		return 0, 0, &domain.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return skip, limit, nil
}

// All yields tasks ordered by ascending id, skipping skip rows and yielding
// at most limit (capped at MaxListLimit). Rows are read lazily; every range
// over the sequence runs the query again.
func (r *TaskRepository) All(ctx context.Context, skip, limit int) iter.Seq2[*domain.Task, error] {
	return func(yield func(*domain.Task, error) bool) {
		skip, limit, err := normalizePage(skip, limit)
		if err != nil {
			yield(nil, err)
			return
		}
		if limit == 0 {
			return
		}

		rows, err := r.db.Query(ctx,
			`SELECT `+taskColumns+` FROM tasks ORDER BY id OFFSET $1 LIMIT $2`,
			skip, limit,
		)
		if err != nil {
			yield(nil, db.Translate("list tasks", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				yield(nil, db.Translate("list tasks", err))
				return
			}
			if !yield(t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, db.Translate("list tasks", err))
		}
	}
}

// List collects All into a slice. The result is never nil.
func (r *TaskRepository) List(ctx context.Context, skip, limit int) ([]*domain.Task, error) {
	res := make([]*domain.Task, 0)
	for t, err := range r.All(ctx, skip, limit) {
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// Update applies the fields present in p and refreshes updated_at.
// An empty patch writes nothing and returns the current row.
// Returns nil when no task has the id.
func (r *TaskRepository) Update(ctx context.Context, id int64, p domain.TaskPatch) (*domain.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Empty() {
		return r.Get(ctx, id)
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if p.Title.Set {
		add("title", p.Title.Value)
	}
	if p.Description.Set {
		add("description", p.Description.Value)
	}
	if p.Completed.Set {
		add("completed", p.Completed.Value)
	}
	// now() is frozen at BEGIN, which can predate a row committed since
	sets = append(sets, "updated_at = GREATEST(clock_timestamp(), created_at)")
	args = append(args, id)

	t, err := scanTask(r.db.QueryRow(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+
			fmt.Sprintf(` WHERE id = $%d RETURNING `, len(args))+taskColumns,
		args...,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Translate("update task", err)
	}
	return t, nil
}

// Delete removes the task and reports whether a row was removed
func (r *TaskRepository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return false, db.Translate("delete task", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of stored tasks
func (r *TaskRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, db.Translate("count tasks", err)
	}
	return n, nil
}
