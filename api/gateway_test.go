package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
	"taskmatrix/internal/fakebackend"
)

type testEnv struct {
	backend  *fakebackend.Server
	server   *httptest.Server
	creds    *MemoryCredentials
	client   *Client
	user     domain.User
	signOuts atomic.Int32
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{backend: fakebackend.New()}
	env.server = httptest.NewServer(env.backend)
	t.Cleanup(env.server.Close)

	env.user = env.backend.AddUser("ann@example.com", "secret", "Ann")
	env.backend.SeedProject(
		domain.Project{ID: "p1", Name: "Apollo"},
		domain.Board{ID: "b1", Columns: []domain.Column{{ID: "c1", Title: "To Do"}, {ID: "c2", Title: "Done"}}},
		domain.Task{ID: "t1", Title: "First", ColumnID: "c1", Assignees: domain.Refs(env.user.ID)},
		domain.Task{ID: "t2", Title: "Second", ColumnID: "c1", Order: 1},
	)

	token, refresh, err := env.backend.Tokens(env.user.ID)
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	env.creds = NewMemoryCredentials(Credentials{Token: token, RefreshToken: refresh})
	gw := NewGateway(GatewayConfig{
		BaseURL:   env.server.URL,
		OnSignOut: func(error) { env.signOuts.Add(1) },
	}, env.creds, quietLogger())
	env.client = NewClient(gw)
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	c, err := e.creds.Load()
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	return c.Token
}

func TestGatewayRefreshesAndReplaysOnce(t *testing.T) {
	env := newTestEnv(t)
	stale := env.token(t)
	env.backend.RevokeToken(stale)

	tasks, err := env.client.FetchBoardTasks(context.Background(), "b1")
	if err != nil {
		t.Fatalf("expected replay to succeed, got %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if got := env.backend.RefreshCount(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if got := env.backend.Requests("GET /tasks/board/:id"); got != 2 {
		t.Fatalf("expected original request plus one replay, got %d", got)
	}
	if fresh := env.token(t); fresh == "" || fresh == stale {
		t.Fatalf("expected new token persisted, got %q", fresh)
	}
	if env.signOuts.Load() != 0 {
		t.Fatal("sign-out hook must not run on successful refresh")
	}
}

func TestGatewaySecondUnauthorizedClearsSession(t *testing.T) {
	env := newTestEnv(t)
	env.backend.RejectAllTokens(true)

	_, err := env.client.FetchBoardTasks(context.Background(), "b1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the replay's 401 unmodified, got %v", err)
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Fatal("second 401 must not be rewritten")
	}
	if got := env.backend.Requests("GET /tasks/board/:id"); got != 2 {
		t.Fatalf("expected no retry beyond the replay, got %d requests", got)
	}
	if got := env.backend.RefreshCount(); got != 1 {
		t.Fatalf("expected a single refresh, got %d", got)
	}
	c, _ := env.creds.Load()
	if !c.Empty() {
		t.Fatalf("expected credentials cleared, got %+v", c)
	}
	if env.signOuts.Load() != 1 {
		t.Fatalf("expected one sign-out, got %d", env.signOuts.Load())
	}
}

func TestGatewayRefreshFailureSignsOut(t *testing.T) {
	env := newTestEnv(t)
	env.backend.RevokeToken(env.token(t))
	env.backend.FailRefresh(true)

	_, err := env.client.FetchMyTasks(context.Background())

	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if got := env.backend.Requests("GET /tasks/my-tasks"); got != 1 {
		t.Fatalf("expected no replay after failed refresh, got %d", got)
	}
	c, _ := env.creds.Load()
	if !c.Empty() {
		t.Fatalf("expected credentials cleared, got %+v", c)
	}
	if env.signOuts.Load() != 1 {
		t.Fatalf("expected one sign-out, got %d", env.signOuts.Load())
	}
}

func TestGatewayWithoutRefreshTokenSignsOut(t *testing.T) {
	env := newTestEnv(t)
	stale := env.token(t)
	env.backend.RevokeToken(stale)
	_ = env.creds.Save(Credentials{Token: stale})

	_, err := env.client.FetchMyTasks(context.Background())

	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if env.backend.RefreshCount() != 0 {
		t.Fatal("refresh must not be attempted without a refresh token")
	}
}

func TestGatewayConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	env := newTestEnv(t)
	env.backend.RevokeToken(env.token(t))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.client.FetchBoardTasks(context.Background(), "b1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
	}
	if got := env.backend.RefreshCount(); got != 1 {
		t.Fatalf("expected a single refresh for concurrent 401s, got %d", got)
	}
}

func TestGatewaySurfacesValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	env.backend.FailNextUpdates(1, http.StatusUnprocessableEntity)

	_, err := env.client.UpdateTask(context.Background(), "t1", domain.TaskUpdate{Title: domain.Ptr("x")})

	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "update rejected" {
		t.Fatalf("expected backend message preserved, got %v", err)
	}
	if env.backend.RefreshCount() != 0 || env.backend.UpdateCount() != 1 {
		t.Fatal("validation errors must not be retried")
	}
}

func TestGatewaySurfacesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gw := NewGateway(GatewayConfig{BaseURL: url}, NewMemoryCredentials(Credentials{Token: "t"}), quietLogger())
	err := gw.Do(context.Background(), http.MethodGet, "/tasks/my-tasks", nil, nil)

	if err == nil {
		t.Fatal("expected transport error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("transport failure must not look like an API error: %v", err)
	}
}

func TestGatewaySetsHeaders(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"task":{"_id":"t1","title":"x","columnId":"c","order":0}}}`))
	}))
	defer srv.Close()

	gw := NewGateway(GatewayConfig{BaseURL: srv.URL + "/"}, NewMemoryCredentials(Credentials{Token: "abc"}), quietLogger())
	task, err := NewClient(gw).UpdateTask(context.Background(), "t1", domain.TaskUpdate{Order: domain.Ptr(0)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got.Get("Authorization") != "Bearer abc" {
		t.Fatalf("unexpected authorization %q", got.Get("Authorization"))
	}
	if got.Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	if got.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", got.Get("Content-Type"))
	}
	if string(body) != `{"order":0}` {
		t.Fatalf("unexpected body %s", body)
	}
	if task.ID != "t1" {
		t.Fatalf("unexpected task %+v", task)
	}
}
