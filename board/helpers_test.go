package board

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

var testColumns = []domain.Column{
	{ID: "todo", Title: "To Do", Order: 0},
	{ID: "doing", Title: "In Progress", Order: 1},
	{ID: "done", Title: "Done", Order: 2},
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func task(id, column string, order int) domain.Task {
	return domain.Task{ID: id, Title: "Task " + id, ColumnID: column, Order: order, Priority: domain.PriorityMedium, Status: domain.StatusTodo}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

type updateCall struct {
	id  string
	upd domain.TaskUpdate
}

// stubBackend records every call and answers with the configured functions.
type stubBackend struct {
	mu      sync.Mutex
	boards  []domain.Board
	tasks   []domain.Task
	mine    []domain.Task
	created []domain.NewTask
	updates []updateCall

	fetchTasksErr error
	updateFn      func(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error)
}

func (s *stubBackend) FetchProjectBoards(ctx context.Context, projectID string) ([]domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boards, nil
}

func (s *stubBackend) FetchBoardTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchTasksErr != nil {
		return nil, s.fetchTasksErr
	}
	return append([]domain.Task(nil), s.tasks...), nil
}

func (s *stubBackend) FetchMyTasks(ctx context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.mine...), nil
}

func (s *stubBackend) CreateTask(ctx context.Context, nt domain.NewTask) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, nt)
	return domain.Task{ID: "new-" + nt.Title, Title: nt.Title, ColumnID: nt.ColumnID, Order: nt.Order, Board: nt.Board}, nil
}

func (s *stubBackend) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error) {
	s.mu.Lock()
	s.updates = append(s.updates, updateCall{id: id, upd: upd})
	fn := s.updateFn
	var cur domain.Task
	for _, t := range s.tasks {
		if t.ID == id {
			cur = t
		}
	}
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, upd)
	}
	if cur.ID == "" {
		return domain.Task{}, errors.New("not found")
	}
	return upd.ApplyTo(cur), nil
}

func (s *stubBackend) updateCalls() []updateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]updateCall(nil), s.updates...)
}

// gatedUpdater holds every request until the test answers it.
type gatedUpdater struct {
	calls chan gatedCall
}

type gatedCall struct {
	updateCall
	reply chan error
}

func newGatedUpdater() *gatedUpdater {
	return &gatedUpdater{calls: make(chan gatedCall, 16)}
}

func (g *gatedUpdater) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error) {
	c := gatedCall{updateCall: updateCall{id: id, upd: upd}, reply: make(chan error, 1)}
	g.calls <- c
	if err := <-c.reply; err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: id, Title: "server " + id, ColumnID: *upd.ColumnID, Order: *upd.Order}, nil
}

func (g *gatedUpdater) next(t *testing.T) gatedCall {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for persistence request")
	}
	return gatedCall{}
}

func waitMove(t *testing.T, m *Move) (domain.Task, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := m.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timeout waiting for move to complete")
	}
	return task, err
}
