package tareas

import (
	"time"
)

// Category is a closed enumeration. Unrecognized wire values map to
// CategoryNone rather than erroring so that records written by older
// clients still reconcile.
type Category string

const (
	CategoryNone     Category = ""
	CategoryPersonal Category = "Personal"
	CategoryTrabajo  Category = "Trabajo"
	CategoryEstudios Category = "Estudios"
)

func ParseCategory(categoria string) Category {
	switch Category(categoria) {
	case CategoryPersonal, CategoryTrabajo, CategoryEstudios:
		return Category(categoria)
	default:
		return CategoryNone
	}
}

func (self Category) IsValid() bool {
	switch self {
	case CategoryPersonal, CategoryTrabajo, CategoryEstudios:
		return true
	default:
		return false
	}
}

type Task struct {
	Title     string
	Category  Category
	Completed bool
	// zero when the wire value was missing or unparseable
	CreatedAt time.Time
	DueDate   *time.Time
}

// taskPayload is the record shape on the wire.
// `{title, categoria, completed, createdAt, dueDate}` with ISO-8601 date strings.
type taskPayload struct {
	Title     string  `json:"title"`
	Categoria string  `json:"categoria,omitempty"`
	Completed bool    `json:"completed"`
	CreatedAt string  `json:"createdAt,omitempty"`
	DueDate   *string `json:"dueDate"`
}

func taskToPayload(task *Task) *taskPayload {
	payload := &taskPayload{
		Title:     task.Title,
		Categoria: string(task.Category),
		Completed: task.Completed,
	}
	if !task.CreatedAt.IsZero() {
		payload.CreatedAt = task.CreatedAt.UTC().Format(time.RFC3339)
	}
	if task.DueDate != nil {
		dueDate := task.DueDate.UTC().Format(time.RFC3339)
		payload.DueDate = &dueDate
	}
	return payload
}

// taskFromPayload converts a wire record, applying defensive defaults.
// A parse failure on a date is "missing date", never an error.
// Returns nil for records that are unusable (empty title).
func taskFromPayload(payload *taskPayload) *Task {
	if payload.Title == "" {
		return nil
	}
	task := &Task{
		Title:     payload.Title,
		Category:  ParseCategory(payload.Categoria),
		Completed: payload.Completed,
	}
	if createdAt, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
		task.CreatedAt = createdAt
	}
	if payload.DueDate != nil {
		if dueDate, err := time.Parse(time.RFC3339, *payload.DueDate); err == nil {
			task.DueDate = &dueDate
		}
	}
	return task
}

// Profile is the single editable record at `users/{uid}`.
// `Email` is a display field and is never written by this client.
type Profile struct {
	Email           string `json:"email"`
	Nombre          string `json:"nombre"`
	Telefono        string `json:"telefono"`
	FechaNacimiento string `json:"fechaNacimiento"`
}
