package board

import (
	"sync"

	"taskmatrix/domain"
)

// Store is the normalized client-side task collection. Every mutation is a
// single locked step, so readers never observe a partial write. None of the
// mutations can fail; unknown identifiers make them no-ops.
type Store struct {
	mu      sync.RWMutex
	tasks   []domain.Task
	index   map[string]int
	version uint64

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
		subs:  make(map[chan struct{}]struct{}),
	}
}

// ReplaceAll swaps the whole working set. Nothing from the previous contents
// survives.
func (s *Store) ReplaceAll(tasks []domain.Task) {
	s.mu.Lock()
	s.tasks = make([]domain.Task, 0, len(tasks))
	s.index = make(map[string]int, len(tasks))
	for _, t := range tasks {
		if i, ok := s.index[t.ID]; ok {
			s.tasks[i] = t.Clone()
			continue
		}
		s.index[t.ID] = len(s.tasks)
		s.tasks = append(s.tasks, t.Clone())
	}
	s.version++
	s.mu.Unlock()
	s.notify()
}

// Upsert inserts an unseen task or overwrites the existing record in place.
func (s *Store) Upsert(t domain.Task) {
	s.mu.Lock()
	if i, ok := s.index[t.ID]; ok {
		s.tasks[i] = t.Clone()
	} else {
		s.index[t.ID] = len(s.tasks)
		s.tasks = append(s.tasks, t.Clone())
	}
	s.version++
	s.mu.Unlock()
	s.notify()
}

// Remove deletes the task if present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.tasks); j++ {
		s.index[s.tasks[j].ID] = j
	}
	s.version++
	s.mu.Unlock()
	s.notify()
}

// MoveLocally sets the column and order of a task without replacing the rest
// of the record. Tasks sharing the new order value keep their place relative
// to the moved one the way a drop reads: the moved task lands before them,
// except on a downward move within its own column, where it lands after.
// Projections break order ties by record position, so the local placement
// matches the drop whatever order the tasks were loaded in.
func (s *Store) MoveLocally(id, columnID string, order int) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	moved := s.tasks[i]
	after := moved.ColumnID == columnID && order > moved.Order
	moved.ColumnID = columnID
	moved.Order = order

	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	pos := i
	for j, t := range s.tasks {
		if t.ColumnID != columnID || t.Order != order {
			continue
		}
		if !after {
			pos = j
			break
		}
		pos = j + 1
	}
	s.tasks = append(s.tasks, domain.Task{})
	copy(s.tasks[pos+1:], s.tasks[pos:])
	s.tasks[pos] = moved
	for j, t := range s.tasks {
		s.index[t.ID] = j
	}
	s.version++
	s.mu.Unlock()
	s.notify()
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return s.tasks[i].Clone(), true
}

// Snapshot copies the current tasks in record order: insertion order, as
// adjusted by MoveLocally.
func (s *Store) Snapshot() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of tasks held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Version increases with every mutation and is used to memoize projections.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe returns a channel signalled after mutations. Signals coalesce:
// a slow reader sees at most one pending notification.
func (s *Store) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan struct{}) {
	s.subsMu.Lock()
	delete(s.subs, ch)
	s.subsMu.Unlock()
}

func (s *Store) notify() {
	s.subsMu.Lock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subsMu.Unlock()
}

// snapshotVersion reads tasks and version under one lock so memoized views
// never pair a snapshot with a stale version.
func (s *Store) snapshotVersion() ([]domain.Task, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out, s.version
}
