package domain

import "time"

// Priority ranks a task on the board.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"

	// PriorityAll is the filter value that matches every priority.
	PriorityAll Priority = "all"
)

// Valid reports whether p is one of the concrete task priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusBacklog    Status = "backlog"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusBacklog:
		return true
	}
	return false
}

// Attachment references a file stored by the backend.
type Attachment struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// Task represents a single board item as returned by the backend.
type Task struct {
	ID          string       `json:"_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Priority    Priority     `json:"priority,omitempty"`
	Status      Status       `json:"status,omitempty"`
	Category    string       `json:"category,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	ColumnID    string       `json:"columnId"`
	Order       int          `json:"order"`
	Assignees   []Ref        `json:"assignees,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Project     Ref          `json:"project"`
	Board       string       `json:"board,omitempty"`
}

// Locked reports whether the task sits in the board's terminal column.
func (t Task) Locked(b Board) bool {
	done, ok := b.DoneColumn()
	return ok && t.ColumnID == done.ID
}

// Clone returns a deep copy so callers cannot alias store-owned slices.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.Assignees != nil {
		c.Assignees = append([]Ref(nil), t.Assignees...)
	}
	if t.Attachments != nil {
		c.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	return c
}
