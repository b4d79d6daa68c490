package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// ChannelName is the pub/sub channel carrying the events of a board.
func ChannelName(boardID string) string {
	return "board:" + boardID + ":tasks"
}

// Redis receives board events over redis pub/sub. Joining a board
// subscribes to its channel; leaving unsubscribes.
type Redis struct {
	pubsub *redis.PubSub
	logger *log.Logger
	events chan domain.Event

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewRedis(client *redis.Client, logger *log.Logger) *Redis {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Redis{
		pubsub: client.Subscribe(context.Background()),
		logger: logger,
		events: make(chan domain.Event, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Redis) Events() <-chan domain.Event { return r.events }

func (r *Redis) Join(ctx context.Context, boardID string) error {
	if err := r.pubsub.Subscribe(ctx, ChannelName(boardID)); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelName(boardID), err)
	}
	r.logger.WithField("board", boardID).Debug("subscribed to board channel")
	return nil
}

func (r *Redis) Leave(ctx context.Context, boardID string) error {
	if err := r.pubsub.Unsubscribe(ctx, ChannelName(boardID)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", ChannelName(boardID), err)
	}
	r.logger.WithField("board", boardID).Debug("unsubscribed from board channel")
	return nil
}

// Close ends the subscription and closes the events channel.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		err = r.pubsub.Close()
		<-r.done
	})
	return err
}

func (r *Redis) run() {
	defer close(r.done)
	defer close(r.events)
	for msg := range r.pubsub.Channel() {
		ev, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			r.logger.WithField("channel", msg.Channel).Errorf("unable to parse event: %v", err)
			continue
		}
		select {
		case r.events <- ev:
		case <-r.stop:
			return
		}
	}
}

// Publish sends an event to the subscribers of a board.
func Publish(ctx context.Context, client *redis.Client, boardID string, ev domain.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return client.Publish(ctx, ChannelName(boardID), payload).Err()
}
