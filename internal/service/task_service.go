package service

import (
	"context"
	"time"

	"taskd/internal/db"
	"taskd/internal/domain"
	"taskd/internal/logger"
	"taskd/internal/repository"
)

// TaskService runs each task operation in its own session
type TaskService struct {
	db      *db.Manager
	timeout time.Duration
}

// NewTaskService creates a task service on top of the connection manager.
// Operations whose context carries no deadline get the manager's statement timeout.
func NewTaskService(m *db.Manager) *TaskService {
	return &TaskService{
		db:      m,
		timeout: m.Options().StatementTimeout,
	}
}

func (s *TaskService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// run executes fn against a fresh repository and logs failures with the session id
func (s *TaskService) run(ctx context.Context, op string, fn func(context.Context, *repository.TaskRepository) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	log := logger.WithContext(ctx)
	sessionID := ""
	err := s.db.WithSession(ctx, func(sess *db.Session) error {
		sessionID = sess.ID()
		return fn(ctx, repository.NewTaskRepository(sess))
	})
	if err != nil {
		log.Warn("task operation failed", "op", op, "session_id", sessionID, "error", err)
	}
	return err
}

func (s *TaskService) Create(ctx context.Context, in domain.TaskCreate) (*domain.Task, error) {
	var task *domain.Task
	err := s.run(ctx, "create", func(ctx context.Context, r *repository.TaskRepository) error {
		var err error
		task, err = r.Create(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("task created", "task_id", task.ID)
	return task, nil
}

// Get returns nil when the task does not exist
func (s *TaskService) Get(ctx context.Context, id int64) (*domain.Task, error) {
	var task *domain.Task
	err := s.run(ctx, "get", func(ctx context.Context, r *repository.TaskRepository) error {
		var err error
		task, err = r.Get(ctx, id)
		return err
	})
	return task, err
}

func (s *TaskService) List(ctx context.Context, skip, limit int) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := s.run(ctx, "list", func(ctx context.Context, r *repository.TaskRepository) error {
		var err error
		tasks, err = r.List(ctx, skip, limit)
		return err
	})
	return tasks, err
}

// Update returns nil when the task does not exist
func (s *TaskService) Update(ctx context.Context, id int64, p domain.TaskPatch) (*domain.Task, error) {
	var task *domain.Task
	err := s.run(ctx, "update", func(ctx context.Context, r *repository.TaskRepository) error {
		var err error
		task, err = r.Update(ctx, id, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if task != nil && !p.Empty() {
		logger.WithContext(ctx).Info("task updated", "task_id", id, "fields", p.Fields())
	}
	return task, nil
}

func (s *TaskService) Delete(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.run(ctx, "delete", func(ctx context.Context, r *repository.TaskRepository) error {
		var err error
		deleted, err = r.Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		logger.WithContext(ctx).Info("task deleted", "task_id", id)
	}
	return deleted, nil
}

func (s *TaskService) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.run(ctx, "count", func(ctx context.Context, r *repository.TaskRepository) error {
		var err error
		n, err = r.Count(ctx)
		return err
	})
	return n, err
}

// Ping reports whether the store is reachable
func (s *TaskService) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// PoolStat exposes pool usage for readiness reporting
func (s *TaskService) PoolStat() db.PoolStat {
	return s.db.Stat()
}
