package board

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// DragState is the state of the drag-and-drop controller.
type DragState int

const (
	Idle DragState = iota
	Dragging
)

func (s DragState) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// MovePolicy decides what happens to an optimistic move whose persistence
// request fails.
type MovePolicy int

const (
	// FireAndForget reports the failure and keeps the optimistic placement
	// until the next full refetch.
	FireAndForget MovePolicy = iota
	// RevertOnFailure restores the prior placement unless a newer write to
	// the task has superseded the failed move.
	RevertOnFailure
)

func (p MovePolicy) String() string {
	if p == RevertOnFailure {
		return "revert-on-failure"
	}
	return "fire-and-forget"
}

// ParseMovePolicy reads a policy name as used in configuration.
func ParseMovePolicy(s string) (MovePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fire-and-forget":
		return FireAndForget, nil
	case "revert-on-failure":
		return RevertOnFailure, nil
	}
	return FireAndForget, fmt.Errorf("unknown move policy %q", s)
}

// Move tracks one optimistic move and the outcome of its persistence request.
type Move struct {
	OpID   string
	TaskID string
	From   Location
	To     Location
	Update domain.TaskUpdate

	// prior placement, used by RevertOnFailure
	priorColumn string
	priorOrder  int
	priorStatus domain.Status

	done   chan struct{}
	result domain.Task
	err    error
}

// Done is closed once the persistence request has completed.
func (m *Move) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the request completes or ctx ends, and returns the
// server's copy of the task.
func (m *Move) Wait(ctx context.Context) (domain.Task, error) {
	select {
	case <-m.done:
		return m.result, m.err
	case <-ctx.Done():
		return domain.Task{}, ctx.Err()
	}
}

// Controller turns drop reports into optimistic store updates plus
// asynchronous persistence. It never waits for the server before accepting
// the next drag.
type Controller struct {
	store     *Store
	persister *Persister
	policy    MovePolicy
	logger    *log.Logger

	mu       sync.Mutex
	columns  []domain.Column
	state    DragState
	dragging string
	pending  map[string]*Move
}

func NewController(store *Store, columns []domain.Column, persister *Persister, policy MovePolicy, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{
		store:     store,
		persister: persister,
		policy:    policy,
		logger:    logger,
		columns:   append([]domain.Column(nil), columns...),
		pending:   make(map[string]*Move),
	}
}

// SetColumns replaces the board column set used to detect the Done column.
func (c *Controller) SetColumns(columns []domain.Column) {
	c.mu.Lock()
	c.columns = append([]domain.Column(nil), columns...)
	c.mu.Unlock()
}

func (c *Controller) State() DragState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin starts dragging a task card. It has no side effect on the store.
func (c *Controller) Begin(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dragging {
		return ErrAlreadyDragging
	}
	c.state = Dragging
	c.dragging = taskID
	return nil
}

// Cancel abandons the current drag.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.state = Idle
	c.dragging = ""
	c.mu.Unlock()
}

// Drop ends the drag. Invalid drops return an error and leave the store and
// the backend untouched. A valid drop moves the task locally at once and
// queues the persistence request; the returned Move reports its outcome.
// The controller is idle again when Drop returns, whatever the outcome.
func (c *Controller) Drop(ev DragEvent) (*Move, error) {
	m, err := c.drop(ev)
	if err != nil {
		return nil, err
	}
	c.persister.Submit(m.TaskID, m.Update, func(task domain.Task, err error) {
		c.complete(m, task, err)
	})
	return m, nil
}

func (c *Controller) drop(ev DragEvent) (*Move, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Dragging {
		return nil, ErrNotDragging
	}
	taskID := ev.TaskID
	if taskID == "" {
		taskID = c.dragging
	}
	c.state = Idle
	c.dragging = ""

	if ev.Destination == nil {
		return nil, ErrNoDestination
	}
	dest := *ev.Destination
	if dest.ColumnID == ev.Source.ColumnID && dest.Index == ev.Source.Index {
		return nil, ErrUnchangedPosition
	}
	if src, ok := c.column(ev.Source.ColumnID); ok && src.IsDone() {
		c.logger.WithField("task", taskID).Debug("record locked: finalized tasks cannot be moved")
		return nil, ErrTaskLocked
	}
	prior, ok := c.store.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	upd := domain.TaskUpdate{ColumnID: domain.Ptr(dest.ColumnID), Order: domain.Ptr(dest.Index)}
	if dst, ok := c.column(dest.ColumnID); ok && dst.IsDone() {
		upd.Status = domain.Ptr(domain.StatusDone)
	}

	c.store.MoveLocally(taskID, dest.ColumnID, dest.Index)

	m := &Move{
		OpID:        uuid.NewString(),
		TaskID:      taskID,
		From:        ev.Source,
		To:          dest,
		Update:      upd,
		priorColumn: prior.ColumnID,
		priorOrder:  prior.Order,
		priorStatus: prior.Status,
		done:        make(chan struct{}),
	}
	c.pending[taskID] = m
	c.logger.WithFields(log.Fields{"task": taskID, "op": m.OpID, "column": dest.ColumnID, "order": dest.Index}).Debug("task moved locally")
	return m, nil
}

func (c *Controller) column(id string) (domain.Column, bool) {
	for _, col := range c.columns {
		if col.ID == id {
			return col, true
		}
	}
	return domain.Column{}, false
}

func (c *Controller) complete(m *Move, task domain.Task, err error) {
	c.mu.Lock()
	latest := c.pending[m.TaskID] == m
	if latest {
		delete(c.pending, m.TaskID)
	}
	c.mu.Unlock()

	if err == nil {
		c.store.Upsert(task)
	} else if c.policy == RevertOnFailure && latest {
		c.revert(m)
	}

	m.result = task
	m.err = err
	close(m.done)
}

// revert restores the prior placement only while the store still shows the
// placement this move wrote; any later local or remote write wins.
func (c *Controller) revert(m *Move) {
	cur, ok := c.store.Get(m.TaskID)
	if !ok || cur.ColumnID != m.To.ColumnID || cur.Order != m.To.Index {
		return
	}
	c.store.MoveLocally(m.TaskID, m.priorColumn, m.priorOrder)
	c.logger.WithFields(log.Fields{"task": m.TaskID, "op": m.OpID, "status": m.priorStatus}).Info("reverted failed move")
}

// Pending reports whether a persistence request for the task is in flight.
func (c *Controller) Pending(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[taskID]
	return ok
}

// Close waits for queued persistence requests to finish.
func (c *Controller) Close() {
	c.persister.Close()
}
