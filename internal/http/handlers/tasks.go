package handlers

import (
	"fmt"
	"net/http"

	"taskd/internal/domain"
	"taskd/internal/repository"

	"github.com/gin-gonic/gin"
)

type createTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

func notFound(c *gin.Context, id int64) {
	detail(c, http.StatusNotFound, fmt.Sprintf("Task %d not found", id))
}

// CreateTask handles POST /tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if !bindBody(c, &req) {
		return
	}
	if req.Title == nil {
		fail(c, &domain.ValidationError{Field: "title", Reason: "field required"})
		return
	}

	in := domain.TaskCreate{Title: *req.Title, Description: req.Description}
	if req.Completed != nil {
		in.Completed = *req.Completed
	}

	task, err := h.Tasks.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// ListTasks handles GET /tasks?skip=&limit=
func (h *Handler) ListTasks(c *gin.Context) {
	skip, ok := queryInt(c, "skip", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", repository.MaxListLimit)
	if !ok {
		return
	}

	tasks, err := h.Tasks.List(c.Request.Context(), skip, limit)
	if err != nil {
		fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// GetTask handles GET /tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	task, err := h.Tasks.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if task == nil {
		notFound(c, id)
		return
	}
	c.JSON(http.StatusOK, task)
}

// UpdateTask handles PATCH /tasks/:id; only the keys present in the body change
func (h *Handler) UpdateTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var patch domain.TaskPatch
	if !bindBody(c, &patch) {
		return
	}
	if patch.Empty() {
		detail(c, http.StatusBadRequest, "No fields to update")
		return
	}

	task, err := h.Tasks.Update(c.Request.Context(), id, patch)
	if err != nil {
		fail(c, err)
		return
	}
	if task == nil {
		notFound(c, id)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask handles DELETE /tasks/:id
func (h *Handler) DeleteTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	deleted, err := h.Tasks.Delete(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if !deleted {
		notFound(c, id)
		return
	}
	c.Status(http.StatusNoContent)
}
