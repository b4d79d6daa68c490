package board

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// Merger folds push events from other sessions into the store. Created and
// updated events both upsert; there is no version check, the last write to
// reach the store wins.
type Merger struct {
	store  *Store
	logger *log.Logger
}

func NewMerger(store *Store, logger *log.Logger) *Merger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Merger{store: store, logger: logger}
}

// Apply merges a single event. It reports false for events it ignored.
func (m *Merger) Apply(ev domain.Event) bool {
	switch ev.Type {
	case domain.TaskCreated, domain.TaskUpdated:
		if ev.Task == nil || ev.Task.ID == "" {
			m.logger.Warnf("received %s without a task payload - ignoring it", ev.Type)
			return false
		}
		m.store.Upsert(*ev.Task)
	case domain.TaskDeleted:
		if ev.TaskID == "" {
			m.logger.Warn("received task_deleted without an id - ignoring it")
			return false
		}
		m.store.Remove(ev.TaskID)
	default:
		m.logger.Warnf("received unknown event of type %s - ignoring it", ev.Type)
		return false
	}
	m.logger.WithFields(log.Fields{"event": ev.Type, "task": ev.TaskID}).Debug("live update merged")
	return true
}

// Follow applies events until the channel closes or ctx ends.
func (m *Merger) Follow(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Apply(ev)
		}
	}
}
