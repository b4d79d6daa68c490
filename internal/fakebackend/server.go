// Package fakebackend is an in-memory TaskMatrix backend used by tests. It
// serves the REST endpoints the client calls, issues HS256 tokens and
// pushes task events over server-sent events.
package fakebackend

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"taskmatrix/domain"
)

type account struct {
	user     domain.User
	password string
}

// Server is safe for concurrent use. It implements http.Handler.
type Server struct {
	echo   *echo.Echo
	secret []byte
	broker *eventBroker

	mu        sync.Mutex
	accounts  map[string]account
	refresh   map[string]string
	revoked   map[string]bool
	rejectAll bool
	tokenTTL  time.Duration

	projects []domain.Project
	boards   []domain.Board
	tasks    []domain.Task

	failRefresh    bool
	failUpdates    int
	failStatus     int
	refreshCount   int
	updateCount    int
	requestsByPath map[string]int
}

func New() *Server {
	s := &Server{
		echo:           echo.New(),
		secret:         []byte(uuid.NewString()),
		broker:         newEventBroker(),
		accounts:       make(map[string]account),
		refresh:        make(map[string]string),
		revoked:        make(map[string]bool),
		tokenTTL:       time.Hour,
		requestsByPath: make(map[string]int),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.JSONSerializer = sonicSerializer{}
	s.echo.Use(s.countRequests)
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.echo.POST("/auth/login", s.login)
	s.echo.POST("/auth/refresh-token", s.refreshToken)

	s.echo.GET("/auth/me", s.me, s.requireAuth)
	s.echo.GET("/projects", s.listProjects, s.requireAuth)
	s.echo.GET("/projects/:id", s.getProject, s.requireAuth)
	s.echo.PATCH("/projects/:id", s.updateProject, s.requireAuth)
	s.echo.PATCH("/projects/:id/milestones/:mid", s.toggleMilestone, s.requireAuth)
	s.echo.GET("/boards/project/:id", s.listBoards, s.requireAuth)
	s.echo.GET("/tasks/board/:id", s.boardTasks, s.requireAuth)
	s.echo.GET("/tasks/my-tasks", s.myTasks, s.requireAuth)
	s.echo.POST("/tasks", s.createTask, s.requireAuth)
	s.echo.PATCH("/tasks/:id", s.updateTask, s.requireAuth)
	s.echo.DELETE("/tasks/:id", s.deleteTask, s.requireAuth)
	s.echo.GET("/stream", s.stream, s.requireAuth)
}

func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.requestsByPath[c.Request().Method+" "+c.Path()]++
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" && c.QueryParam("token") != "" {
			header = "Bearer " + c.QueryParam("token")
		}
		userID, err := s.userIDFromAuthHeader(header)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody(err.Error()))
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// AddUser registers an account that can sign in.
func (s *Server) AddUser(email, password, name string) domain.User {
	u := domain.User{ID: uuid.NewString(), Name: name, Email: email}
	s.mu.Lock()
	s.accounts[email] = account{user: u, password: password}
	s.mu.Unlock()
	return u
}

// SeedProject stores a project with one board and its tasks.
func (s *Server) SeedProject(p domain.Project, b domain.Board, tasks ...domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Project = domain.Ref{ID: p.ID, Name: p.Name}
	s.projects = append(s.projects, p)
	s.boards = append(s.boards, b)
	for _, t := range tasks {
		if t.Board == "" {
			t.Board = b.ID
		}
		if t.Project.IsZero() {
			t.Project = domain.Ref{ID: p.ID}
		}
		s.tasks = append(s.tasks, t.Clone())
	}
}

// Tokens issues a bearer and refresh token pair for a user.
func (s *Server) Tokens(userID string) (token, refresh string, err error) {
	s.mu.Lock()
	ttl := s.tokenTTL
	s.mu.Unlock()
	token, err = s.issueToken(userID, ttl)
	if err != nil {
		return "", "", err
	}
	refresh = uuid.NewString()
	s.mu.Lock()
	s.refresh[refresh] = userID
	s.mu.Unlock()
	return token, refresh, nil
}

// RevokeToken makes a bearer token fail with 401 from now on.
func (s *Server) RevokeToken(token string) {
	jti, err := tokenID(token)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.revoked[jti] = true
	s.mu.Unlock()
}

// RejectAllTokens makes every bearer token fail with 401 while on.
func (s *Server) RejectAllTokens(on bool) {
	s.mu.Lock()
	s.rejectAll = on
	s.mu.Unlock()
}

// FailRefresh makes the refresh endpoint answer 401 while on.
func (s *Server) FailRefresh(on bool) {
	s.mu.Lock()
	s.failRefresh = on
	s.mu.Unlock()
}

// FailNextUpdates makes the next n task updates fail with status.
func (s *Server) FailNextUpdates(n, status int) {
	s.mu.Lock()
	s.failUpdates = n
	s.failStatus = status
	s.mu.Unlock()
}

func (s *Server) RefreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCount
}

func (s *Server) UpdateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCount
}

// Requests returns how often a route was hit, keyed like "GET /tasks/:id".
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestsByPath[route]
}

// Project returns the backend copy of a project.
func (s *Server) Project(id string) (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.projectIndex(id); i >= 0 {
		p := s.projects[i]
		p.Milestones = append([]domain.Milestone(nil), p.Milestones...)
		return p, true
	}
	return domain.Project{}, false
}

// Task returns the backend copy of a task.
func (s *Server) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return domain.Task{}, false
}

// Publish pushes an event to the stream subscribers of a board.
func (s *Server) Publish(boardID, event string, data any) {
	s.broker.publish(boardID, event, data)
}

// Subscribers reports how many streams are open for a board.
func (s *Server) Subscribers(boardID string) int {
	return s.broker.count(boardID)
}

func errorBody(msg string) map[string]any {
	return map[string]any{"success": false, "message": msg}
}
