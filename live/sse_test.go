package live

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"taskmatrix/api"
	"taskmatrix/domain"
	"taskmatrix/internal/fakebackend"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSSEDeliversBoardEvents(t *testing.T) {
	backend := fakebackend.New()
	srv := httptest.NewServer(backend)
	defer srv.Close()
	user := backend.AddUser("ann@example.com", "pw", "Ann")
	token, refresh, err := backend.Tokens(user.ID)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	gw := api.NewGateway(api.GatewayConfig{BaseURL: srv.URL}, api.NewMemoryCredentials(api.Credentials{Token: token, RefreshToken: refresh}), quietLogger())

	s := NewSSE(gw, quietLogger())
	defer s.Close()
	if err := s.Join(context.Background(), "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return backend.Subscribers("b1") == 1 })

	tk := domain.Task{ID: "t1", Title: "Remote", ColumnID: "c1", Order: 3}
	backend.Publish("b1", domain.TaskUpdated, tk)
	backend.Publish("other", domain.TaskUpdated, domain.Task{ID: "x"})
	backend.Publish("b1", domain.TaskDeleted, domain.TaskDeletedEventData{ID: "t2"})

	ev := nextEvent(t, s.Events())
	if ev.Type != domain.TaskUpdated || ev.Task == nil || ev.Task.Title != "Remote" || ev.Task.Order != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}
	ev = nextEvent(t, s.Events())
	if ev.Type != domain.TaskDeleted || ev.TaskID != "t2" {
		t.Fatalf("expected delete of t2, got %+v", ev)
	}

	if err := s.Leave(context.Background(), "b1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	waitFor(t, func() bool { return backend.Subscribers("b1") == 0 })
}

// scriptedStreamer fails the first attempts and then serves a fixed stream.
type scriptedStreamer struct {
	failures int32
	attempts atomic.Int32
	body     string
}

func (s *scriptedStreamer) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	n := s.attempts.Add(1)
	if n <= s.failures {
		return nil, errors.New("connection refused")
	}
	if n > s.failures+1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func TestSSEReconnectsAndParsesFrames(t *testing.T) {
	streamer := &scriptedStreamer{
		failures: 2,
		body: ":ok\n\n" +
			"event: task_created\ndata: {\"_id\":\"t1\",\"title\":\"a\",\n" +
			"data: \"columnId\":\"c1\",\"order\":0}\n\n" +
			"data: {\"type\":\"task_deleted\",\"data\":{\"id\":\"t7\"}}\n\n" +
			"event: task_updated\ndata: not json\n\n",
	}
	s := NewSSE(streamer, quietLogger())
	s.minBackoff = time.Millisecond
	s.maxBackoff = 4 * time.Millisecond
	defer s.Close()

	if err := s.Join(context.Background(), "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ev := nextEvent(t, s.Events())
	if ev.Type != domain.TaskCreated || ev.TaskID != "t1" || ev.Task.ColumnID != "c1" {
		t.Fatalf("unexpected multi-line event %+v", ev)
	}
	ev = nextEvent(t, s.Events())
	if ev.Type != domain.TaskDeleted || ev.TaskID != "t7" {
		t.Fatalf("unexpected envelope event %+v", ev)
	}
	if got := streamer.attempts.Load(); got < 3 {
		t.Fatalf("expected reconnect attempts, got %d", got)
	}
}

func TestSSECloseClosesEvents(t *testing.T) {
	s := NewSSE(&scriptedStreamer{failures: 1000}, quietLogger())
	s.minBackoff = time.Millisecond
	if err := s.Join(context.Background(), "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("expected closed events channel")
	}
	if err := s.Join(context.Background(), "b2"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
