package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// Channel delivers push events for the boards a client has joined.
type Channel interface {
	Join(ctx context.Context, boardID string) error
	Leave(ctx context.Context, boardID string) error
	Events() <-chan domain.Event
}

// SessionConfig configures a board session.
type SessionConfig struct {
	Policy  MovePolicy
	Persist PersistConfig
}

// Session binds one project board to a store, its view, the drag controller
// and the live channel.
type Session struct {
	backend Backend
	channel Channel
	cache   SnapshotCache
	logger  *log.Logger

	store  *Store
	view   *View
	ctl    *Controller
	merger *Merger

	mu         sync.Mutex
	projectID  string
	board      domain.Board
	open       bool
	stopFollow context.CancelFunc
	followDone chan struct{}
}

// NewSession builds a session. channel and cache may be nil.
func NewSession(backend Backend, channel Channel, cache SnapshotCache, cfg SessionConfig, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	store := NewStore()
	persister := NewPersister(backend, cfg.Persist, logger)
	return &Session{
		backend: backend,
		channel: channel,
		cache:   cache,
		logger:  logger,
		store:   store,
		view:    NewView(store, nil, logger),
		ctl:     NewController(store, nil, persister, cfg.Policy, logger),
		merger:  NewMerger(store, logger),
	}
}

func (s *Session) Store() *Store { return s.store }

func (s *Session) View() *View { return s.view }

func (s *Session) Controller() *Controller { return s.ctl }

func (s *Session) Board() domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// Open loads the first board of a project, joins its live scope and fills
// the store.
func (s *Session) Open(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return errors.New("session already open")
	}

	boards, err := s.backend.FetchProjectBoards(ctx, projectID)
	if err != nil {
		return fmt.Errorf("fetch boards: %w", err)
	}
	if len(boards) == 0 {
		return fmt.Errorf("%w: %s", ErrNoBoard, projectID)
	}
	b := boards[0]
	s.board = b
	s.projectID = projectID
	s.view.SetColumns(b.Columns)
	s.ctl.SetColumns(b.Columns)

	if s.cache != nil {
		if tasks, ok := s.cache.LoadBoardTasks(ctx, b.ID); ok {
			s.store.ReplaceAll(tasks)
			s.logger.WithFields(log.Fields{"board": b.ID, "tasks": len(tasks)}).Debug("store seeded from snapshot cache")
		}
	}

	if s.channel != nil {
		if err := s.channel.Join(ctx, b.ID); err != nil {
			return fmt.Errorf("join board %s: %w", b.ID, err)
		}
		followCtx, cancel := context.WithCancel(context.Background())
		s.stopFollow = cancel
		s.followDone = make(chan struct{})
		go func() {
			defer close(s.followDone)
			s.merger.Follow(followCtx, s.channel.Events())
		}()
	}
	s.open = true

	if err := s.refresh(ctx); err != nil {
		return err
	}
	return nil
}

// Refresh refetches the board tasks and replaces the store contents.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) error {
	tasks, err := s.backend.FetchBoardTasks(ctx, s.board.ID)
	if err != nil {
		return fmt.Errorf("fetch board tasks: %w", err)
	}
	s.store.ReplaceAll(tasks)
	if s.cache != nil {
		s.cache.StoreBoardTasks(ctx, s.board.ID, tasks)
	}
	return nil
}

// AddTask creates a task at the end of the column matching columnTitle.
// The order is the length of the whole column, not of the filtered view, so
// an active search or priority filter never places the new task on top of
// tasks it hides.
func (s *Session) AddTask(ctx context.Context, columnTitle, title string) (domain.Task, error) {
	b := s.Board()
	col, ok := b.ColumnByTitle(columnTitle)
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrUnknownColumn, columnTitle)
	}
	p := Project(s.store.Snapshot(), b.Columns, Filter{})
	task, err := s.backend.CreateTask(ctx, domain.NewTask{
		Title:    title,
		Project:  s.projectID,
		Board:    b.ID,
		ColumnID: col.ID,
		Order:    len(p.Bucket(col.ID)),
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.store.Upsert(task)
	return task, nil
}

// EditTask persists a task-detail edit. Locked tasks are refused and a
// failed request leaves the store untouched.
func (s *Session) EditTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error) {
	cur, ok := s.store.Get(id)
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if cur.Locked(s.Board()) || cur.Status == domain.StatusDone {
		return domain.Task{}, ErrTaskLocked
	}
	task, err := s.backend.UpdateTask(ctx, id, upd)
	if err != nil {
		return domain.Task{}, err
	}
	s.store.Upsert(task)
	return task, nil
}

// Move drags a task to a column position, reading its source location from
// the unfiltered projection.
func (s *Session) Move(taskID, columnID string, index int) (*Move, error) {
	b := s.Board()
	src, ok := Project(s.store.Snapshot(), b.Columns, Filter{}).Locate(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if _, ok := b.Column(columnID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}
	if err := s.ctl.Begin(taskID); err != nil {
		return nil, err
	}
	return s.ctl.Drop(DragEvent{TaskID: taskID, Source: src, Destination: &Location{ColumnID: columnID, Index: index}})
}

// Close leaves the live scope and waits for queued persistence requests.
// Nothing in flight is cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		s.ctl.Close()
		return nil
	}
	s.open = false

	var err error
	if s.channel != nil {
		err = s.channel.Leave(ctx, s.board.ID)
		s.stopFollow()
		<-s.followDone
	}
	s.ctl.Close()
	return err
}
