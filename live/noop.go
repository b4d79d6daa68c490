package live

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// Noop is the deployed configuration: join and leave are announced but no
// event is ever delivered.
type Noop struct {
	logger *log.Logger
	events chan domain.Event
	once   sync.Once
}

func NewNoop(logger *log.Logger) *Noop {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Noop{logger: logger, events: make(chan domain.Event)}
}

func (n *Noop) Join(_ context.Context, boardID string) error {
	n.logger.WithField("board", boardID).Debug("join board scope (no live transport)")
	return nil
}

func (n *Noop) Leave(_ context.Context, boardID string) error {
	n.logger.WithField("board", boardID).Debug("leave board scope (no live transport)")
	return nil
}

func (n *Noop) Events() <-chan domain.Event { return n.events }

func (n *Noop) Close() error {
	n.once.Do(func() { close(n.events) })
	return nil
}
