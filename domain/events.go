package domain

const (
	TaskCreated = "task_created"
	TaskUpdated = "task_updated"
	TaskDeleted = "task_deleted"
)

// TaskDeletedEventData is the payload of a task_deleted event.
type TaskDeletedEventData struct {
	ID string `json:"id"`
}

// Event is a push notification about a task on a joined board. Task is set
// for created/updated events, TaskID for every event.
type Event struct {
	Type   string
	TaskID string
	Task   *Task
}
