package domain

import "time"

// TaskUpdate carries a partial field set for PATCH /tasks/:id. Nil fields are
// left untouched by the backend.
type TaskUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Category    *string    `json:"category,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Assignees   *[]Ref     `json:"assignees,omitempty"`
	ColumnID    *string    `json:"columnId,omitempty"`
	Order       *int       `json:"order,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil && u.Status == nil &&
		u.Category == nil && u.DueDate == nil && u.Assignees == nil && u.ColumnID == nil && u.Order == nil
}

// ApplyTo returns t with the set fields of u applied.
func (u TaskUpdate) ApplyTo(t Task) Task {
	t = t.Clone()
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Category != nil {
		t.Category = *u.Category
	}
	if u.DueDate != nil {
		d := *u.DueDate
		t.DueDate = &d
	}
	if u.Assignees != nil {
		t.Assignees = append([]Ref(nil), (*u.Assignees)...)
	}
	if u.ColumnID != nil {
		t.ColumnID = *u.ColumnID
	}
	if u.Order != nil {
		t.Order = *u.Order
	}
	return t
}

// NewTask is the creation payload for POST /tasks.
type NewTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Project     string   `json:"project"`
	Board       string   `json:"board"`
	ColumnID    string   `json:"columnId"`
	Order       int      `json:"order"`
}

// Ptr returns a pointer to v, for building partial updates.
func Ptr[T any](v T) *T {
	return &v
}
