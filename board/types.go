package board

import (
	"context"
	"errors"

	"taskmatrix/domain"
)

var (
	ErrNoDestination     = errors.New("drop has no destination")
	ErrUnchangedPosition = errors.New("drop target equals source position")
	ErrTaskLocked        = errors.New("task is locked in the Done column")
	ErrNotDragging       = errors.New("no drag in progress")
	ErrAlreadyDragging   = errors.New("a drag is already in progress")
	ErrUnknownTask       = errors.New("unknown task")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrNoBoard           = errors.New("project has no board")
	ErrPersisterClosed   = errors.New("persister is closed")
)

// Backend is the subset of the TaskMatrix API the board needs.
type Backend interface {
	FetchProjectBoards(ctx context.Context, projectID string) ([]domain.Board, error)
	FetchBoardTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	FetchMyTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, t domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error)
}

// TaskUpdater persists partial task updates.
type TaskUpdater interface {
	UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error)
}

// SnapshotCache keeps the last fetched task list of a board.
type SnapshotCache interface {
	LoadBoardTasks(ctx context.Context, boardID string) ([]domain.Task, bool)
	StoreBoardTasks(ctx context.Context, boardID string, tasks []domain.Task)
}

// Location is a position on the board as reported by the drag surface.
type Location struct {
	ColumnID string
	Index    int
}

// DragEvent is the drop report of a drag gesture. Destination is nil when
// the card was released outside any column.
type DragEvent struct {
	TaskID      string
	Source      Location
	Destination *Location
}
