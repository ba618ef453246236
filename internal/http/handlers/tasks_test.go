package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"taskd/internal/db"
	"taskd/internal/domain"

	"github.com/gin-gonic/gin"
)

// fakeTasks is an in-memory TaskService with the same contract as the real one
type fakeTasks struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]domain.Task
	err    error

	lastSkip, lastLimit int
	lastPatch           domain.TaskPatch
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: make(map[int64]domain.Task)}
}

func (f *fakeTasks) Create(_ context.Context, in domain.TaskCreate) (*domain.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := domain.Task{ID: f.nextID, Title: in.Title, Description: in.Description, Completed: in.Completed, CreatedAt: time.Now()}
	f.tasks[t.ID] = t
	return &t, nil
}

func (f *fakeTasks) Get(_ context.Context, id int64) (*domain.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeTasks) List(_ context.Context, skip, limit int) ([]*domain.Task, error) {
	f.lastSkip, f.lastLimit = skip, limit
	if f.err != nil {
		return nil, f.err
	}
	if skip < 0 || limit < 0 {
		return nil, &domain.ValidationError{Field: "skip", Reason: "must not be negative"}
	}
	return nil, nil
}

func (f *fakeTasks) Update(_ context.Context, id int64, p domain.TaskPatch) (*domain.Task, error) {
	f.lastPatch = p
	if f.err != nil {
		return nil, f.err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	if p.Title.Set {
		t.Title = p.Title.Value
	}
	if p.Description.Set {
		t.Description = p.Description.Value
	}
	if p.Completed.Set {
		t.Completed = p.Completed.Value
	}
	now := time.Now()
	t.UpdatedAt = &now
	f.tasks[id] = t
	return &t, nil
}

func (f *fakeTasks) Delete(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[id]
	delete(f.tasks, id)
	return ok, nil
}

func newTestRouter(svc TaskService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc, "test")
	r := gin.New()
	r.GET("/", h.Root)
	r.POST("/tasks", h.CreateTask)
	r.GET("/tasks", h.ListTasks)
	r.GET("/tasks/:id", h.GetTask)
	r.PATCH("/tasks/:id", h.UpdateTask)
	r.DELETE("/tasks/:id", h.DeleteTask)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Detail
}

func TestCreateTask(t *testing.T) {
	r := newTestRouter(newFakeTasks())

	w := do(r, http.MethodPost, "/tasks", `{"title":"Buy milk","description":"2 litres"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var task map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task["id"] != float64(1) || task["title"] != "Buy milk" || task["completed"] != false {
		t.Fatalf("unexpected body: %v", task)
	}
	if v, ok := task["updated_at"]; !ok || v != nil {
		t.Fatalf("updated_at should be present and null: %v", task)
	}
}

func TestCreateTask_Errors(t *testing.T) {
	r := newTestRouter(newFakeTasks())

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"missing title", `{"description":"x"}`, http.StatusUnprocessableEntity},
		{"empty title", `{"title":""}`, http.StatusUnprocessableEntity},
		{"long title", fmt.Sprintf(`{"title":%q}`, strings.Repeat("a", 201)), http.StatusUnprocessableEntity},
		{"wrong type", `{"title":42}`, http.StatusUnprocessableEntity},
		{"malformed", `{"title":`, http.StatusBadRequest},
		{"no body", ``, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/tasks", tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body)
			}
			if decodeDetail(t, w) == "" {
				t.Fatal("expected a detail message")
			}
		})
	}
}

func TestGetTask(t *testing.T) {
	svc := newFakeTasks()
	r := newTestRouter(svc)
	do(r, http.MethodPost, "/tasks", `{"title":"one"}`)

	if w := do(r, http.MethodGet, "/tasks/1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w := do(r, http.MethodGet, "/tasks/99", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if got := decodeDetail(t, w); got != "Task 99 not found" {
		t.Fatalf("unexpected detail %q", got)
	}

	if w := do(r, http.MethodGet, "/tasks/abc", ""); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("non-integer id: expected 422, got %d", w.Code)
	}
}

func TestListTasks(t *testing.T) {
	svc := newFakeTasks()
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/tasks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list should render as [], got %s", w.Body)
	}
	if svc.lastSkip != 0 || svc.lastLimit != 100 {
		t.Fatalf("defaults not applied: skip=%d limit=%d", svc.lastSkip, svc.lastLimit)
	}

	do(r, http.MethodGet, "/tasks?skip=5&limit=7", "")
	if svc.lastSkip != 5 || svc.lastLimit != 7 {
		t.Fatalf("query not passed through: skip=%d limit=%d", svc.lastSkip, svc.lastLimit)
	}

	for _, q := range []string{"?skip=x", "?limit=1.5", "?skip=-1"} {
		if w := do(r, http.MethodGet, "/tasks"+q, ""); w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", q, w.Code)
		}
	}
}

func TestUpdateTask(t *testing.T) {
	svc := newFakeTasks()
	r := newTestRouter(svc)
	do(r, http.MethodPost, "/tasks", `{"title":"draft","description":"notes"}`)

	w := do(r, http.MethodPatch, "/tasks/1", `{"completed":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if svc.lastPatch.Title.Set || svc.lastPatch.Description.Set || !svc.lastPatch.Completed.Set {
		t.Fatalf("only completed should be present: %+v", svc.lastPatch)
	}
	var task domain.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !task.Completed || task.Title != "draft" || task.Description == nil || task.UpdatedAt == nil {
		t.Fatalf("unexpected task: %+v", task)
	}

	w = do(r, http.MethodPatch, "/tasks/1", `{"description":null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !svc.lastPatch.Description.Set || svc.lastPatch.Description.Value != nil {
		t.Fatalf("explicit null should clear description: %+v", svc.lastPatch.Description)
	}
}

func TestUpdateTask_Errors(t *testing.T) {
	svc := newFakeTasks()
	r := newTestRouter(svc)
	do(r, http.MethodPost, "/tasks", `{"title":"x"}`)

	w := do(r, http.MethodPatch, "/tasks/1", `{}`)
	if w.Code != http.StatusBadRequest || decodeDetail(t, w) != "No fields to update" {
		t.Fatalf("empty patch: got %d %s", w.Code, w.Body)
	}

	if w := do(r, http.MethodPatch, "/tasks/1", `{"unknown":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown keys only: expected 400, got %d", w.Code)
	}
	if w := do(r, http.MethodPatch, "/tasks/1", `{"title":""}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty title: expected 422, got %d", w.Code)
	}
	if w := do(r, http.MethodPatch, "/tasks/1", `{"completed":null}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("null completed: expected 422, got %d", w.Code)
	}
	if w := do(r, http.MethodPatch, "/tasks/42", `{"title":"y"}`); w.Code != http.StatusNotFound {
		t.Fatalf("missing task: expected 404, got %d", w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	r := newTestRouter(newFakeTasks())
	do(r, http.MethodPost, "/tasks", `{"title":"bye"}`)

	w := do(r, http.MethodDelete, "/tasks/1", "")
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", w.Code, w.Body)
	}
	if w := do(r, http.MethodDelete, "/tasks/1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"pool exhausted", fmt.Errorf("%w: waited 30s", db.ErrPoolExhausted), http.StatusServiceUnavailable, "1"},
		{"connection", &db.StorageError{Op: "get task", Kind: db.KindConnection, Err: errors.New("reset")}, http.StatusServiceUnavailable, ""},
		{"timeout", &db.StorageError{Op: "get task", Kind: db.KindTimeout, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, ""},
		{"query", &db.StorageError{Op: "get task", Kind: db.KindQuery, Err: errors.New("syntax")}, http.StatusInternalServerError, ""},
		{"not initialized", db.ErrNotInitialized, http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeTasks()
			svc.err = tc.err
			w := do(newTestRouter(svc), http.MethodGet, "/tasks/1", "")
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != tc.retryAfter {
				t.Fatalf("Retry-After = %q, want %q", got, tc.retryAfter)
			}
			if tc.status == http.StatusInternalServerError && strings.Contains(w.Body.String(), "syntax") {
				t.Fatal("internal error details must not leak")
			}
		})
	}
}

func TestRoot(t *testing.T) {
	w := do(newTestRouter(newFakeTasks()), http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Task Manager API") {
		t.Fatalf("unexpected root response %d %s", w.Code, w.Body)
	}
}
