// Package live delivers task events from other sessions working on the same
// board.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

const (
	ModeNone  = "none"
	ModeSSE   = "sse"
	ModeRedis = "redis"

	eventBuffer = 64
)

var ErrClosed = errors.New("live channel closed")

// Channel is the push transport. Events arrive only for joined boards; the
// events channel is closed by Close.
type Channel interface {
	Join(ctx context.Context, boardID string) error
	Leave(ctx context.Context, boardID string) error
	Events() <-chan domain.Event
	Close() error
}

// New selects a transport by mode. rc is only used by the redis mode.
func New(mode string, streamer Streamer, rc *redis.Client, logger *log.Logger) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeNone:
		return NewNoop(logger), nil
	case ModeSSE:
		if streamer == nil {
			return nil, errors.New("sse mode needs a streamer")
		}
		return NewSSE(streamer, logger), nil
	case ModeRedis:
		if rc == nil {
			return nil, errors.New("redis mode needs a redis client")
		}
		return NewRedis(rc, logger), nil
	}
	return nil, fmt.Errorf("unknown live mode %q", mode)
}

// envelope is the wire form shared by the redis channel and unnamed SSE
// frames.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(payload []byte) (domain.Event, error) {
	var env envelope
	if err := sonic.ConfigStd.Unmarshal(payload, &env); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return decodeEvent(env.Type, env.Data)
}

// decodeEvent turns a named payload into an event. Unknown kinds are passed
// through without a payload so the merger can report them.
func decodeEvent(kind string, data []byte) (domain.Event, error) {
	switch kind {
	case domain.TaskCreated, domain.TaskUpdated:
		var t domain.Task
		if err := sonic.ConfigStd.Unmarshal(data, &t); err != nil {
			return domain.Event{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return domain.Event{Type: kind, TaskID: t.ID, Task: &t}, nil
	case domain.TaskDeleted:
		var d domain.TaskDeletedEventData
		if err := sonic.ConfigStd.Unmarshal(data, &d); err != nil {
			return domain.Event{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return domain.Event{Type: kind, TaskID: d.ID}, nil
	}
	return domain.Event{Type: kind}, nil
}

// Encode renders an event in the envelope wire form.
func Encode(ev domain.Event) ([]byte, error) {
	var data any
	switch ev.Type {
	case domain.TaskDeleted:
		data = domain.TaskDeletedEventData{ID: ev.TaskID}
	default:
		data = ev.Task
	}
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return nil, err
	}
	return sonic.ConfigStd.Marshal(envelope{Type: ev.Type, Data: raw})
}
