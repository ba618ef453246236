package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	TitleMinLen = 1
	TitleMaxLen = 200
)

// Task is the persisted task record handed back to callers.
type Task struct {
	ID          int64      `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description *string    `db:"description" json:"description"`
	Completed   bool       `db:"completed" json:"completed"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at"`
}

// TaskCreate holds the fields accepted when a task is created
type TaskCreate struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Completed   bool    `json:"completed"`
}

func (in TaskCreate) Validate() error {
	return validateTitle(in.Title)
}

// ValidationError reports a field that violates its constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < TitleMinLen {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if n > TitleMaxLen {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", TitleMaxLen)}
	}
	return nil
}

// Field is one optionally-present value of a partial update.
// Set is true when the key was present in the payload, even if its value was null.
type Field[T any] struct {
	Set   bool
	Value T
	// Null records an explicit JSON null.
	Null bool
}

// Some returns a Field that is present with value v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		f.Value = zero
		f.Null = true
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

// TaskPatch is a partial update: only fields with Set are applied.
type TaskPatch struct {
	Title       Field[string]  `json:"title"`
	Description Field[*string] `json:"description"`
	Completed   Field[bool]    `json:"completed"`
}

// Empty reports whether the patch carries no field at all.
func (p TaskPatch) Empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Completed.Set
}

// Fields returns the names of the fields present in the patch.
func (p TaskPatch) Fields() []string {
	var names []string
	if p.Title.Set {
		names = append(names, "title")
	}
	if p.Description.Set {
		names = append(names, "description")
	}
	if p.Completed.Set {
		names = append(names, "completed")
	}
	return names
}

func (p TaskPatch) Validate() error {
	if p.Title.Set {
		if p.Title.Null {
			return &ValidationError{Field: "title", Reason: "must not be null"}
		}
		if err := validateTitle(p.Title.Value); err != nil {
			return err
		}
	}
	if p.Completed.Set && p.Completed.Null {
		return &ValidationError{Field: "completed", Reason: "must not be null"}
	}
	return nil
}
