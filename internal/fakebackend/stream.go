package fakebackend

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const keepAliveInterval = 15 * time.Second

type eventBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func newEventBroker() *eventBroker {
	return &eventBroker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *eventBroker) subscribe(boardID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan []byte]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	return ch
}

func (b *eventBroker) unsubscribe(boardID string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[boardID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, boardID)
		}
	}
}

func (b *eventBroker) count(boardID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[boardID])
}

// publish drops the frame for subscribers whose buffer is full.
func (b *eventBroker) publish(boardID, event string, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[boardID] {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (s *Server) stream(c echo.Context) error {
	boardID := c.QueryParam("board")
	if boardID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("board is required"))
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ch := s.broker.subscribe(boardID)
	defer s.broker.unsubscribe(boardID, ch)

	if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-ch:
			if _, err := c.Response().Write(frame); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}
