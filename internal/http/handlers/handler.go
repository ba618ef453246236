package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"taskd/internal/db"
	"taskd/internal/domain"
	"taskd/internal/logger"

	"github.com/gin-gonic/gin"
)

// TaskService is what the task endpoints need from the service layer
type TaskService interface {
	Create(ctx context.Context, in domain.TaskCreate) (*domain.Task, error)
	Get(ctx context.Context, id int64) (*domain.Task, error)
	List(ctx context.Context, skip, limit int) ([]*domain.Task, error)
	Update(ctx context.Context, id int64, p domain.TaskPatch) (*domain.Task, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type Handler struct {
	Tasks   TaskService
	Version string
}

func NewHandler(tasks TaskService, version string) *Handler {
	return &Handler{Tasks: tasks, Version: version}
}

// Root describes the API
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Task Manager API",
		"version": h.Version,
		"docs":    "/docs",
	})
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// fail maps service errors onto HTTP responses
func fail(c *gin.Context, err error) {
	var ve *domain.ValidationError
	var se *db.StorageError

	switch {
	case errors.As(err, &ve):
		detail(c, http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, db.ErrPoolExhausted):
		c.Header("Retry-After", "1")
		detail(c, http.StatusServiceUnavailable, "Service temporarily unavailable, try again")
	case errors.As(err, &se) && se.Retryable():
		detail(c, http.StatusServiceUnavailable, "Database unavailable")
	default:
		logger.WithContext(c.Request.Context()).Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		detail(c, http.StatusInternalServerError, "Internal server error")
	}
}

// bindBody decodes the JSON body into dst, answering 400 or 422 itself on failure
func bindBody(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}

	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		detail(c, http.StatusBadRequest, "Request body is required")
	case errors.As(err, &typeErr):
		fail(c, &domain.ValidationError{Field: typeErr.Field, Reason: "expected " + typeErr.Type.String()})
	default:
		detail(c, http.StatusBadRequest, "Invalid JSON body")
	}
	return false
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, &domain.ValidationError{Field: "task_id", Reason: "must be an integer"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	v, ok := c.GetQuery(key)
	if !ok {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fail(c, &domain.ValidationError{Field: key, Reason: "must be an integer"})
		return 0, false
	}
	return n, true
}
