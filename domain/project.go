package domain

import "time"

// Member links a user to a project with a role.
type Member struct {
	User Ref    `json:"user"`
	Role string `json:"role,omitempty"`
}

// Milestone is a checklist goal on a project.
type Milestone struct {
	ID        string `json:"_id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
)

// Project is a collaboration workspace owning at most one active board.
type Project struct {
	ID          string       `json:"_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Status      string       `json:"status,omitempty"`
	Members     []Member     `json:"members,omitempty"`
	Price       float64      `json:"price,omitempty"`
	PaidAmount  float64      `json:"paidAmount,omitempty"`
	Deadline    *time.Time   `json:"deadline,omitempty"`
	Milestones  []Milestone  `json:"milestones,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CanComplete reports whether the project budget is fully paid. Projects
// with an outstanding balance may not be finalized.
func (p Project) CanComplete() bool {
	return p.PaidAmount >= p.Price
}

// Milestone looks up a milestone by id.
func (p Project) Milestone(id string) (Milestone, bool) {
	for _, m := range p.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

// Progress returns the number of completed milestones and the total.
func (p Project) Progress() (done, total int) {
	for _, m := range p.Milestones {
		if m.Completed {
			done++
		}
	}
	return done, len(p.Milestones)
}

// User is the public profile of an account.
type User struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Designation string `json:"designation,omitempty"`
	Role        string `json:"role,omitempty"`
}
