package fakebackend

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"taskmatrix/domain"
)

func (s *Server) login(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
	}
	s.mu.Lock()
	acc, ok := s.accounts[body.Email]
	s.mu.Unlock()
	if !ok || acc.password != body.Password {
		return c.JSON(http.StatusUnauthorized, errorBody("invalid email or password"))
	}
	token, refresh, err := s.Tokens(acc.user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"token":        token,
		"refreshToken": refresh,
		"data":         map[string]any{"user": acc.user},
	})
}

func (s *Server) refreshToken(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
	}
	s.mu.Lock()
	s.refreshCount++
	userID, ok := s.refresh[body.RefreshToken]
	failing := s.failRefresh
	ttl := s.tokenTTL
	s.mu.Unlock()
	if failing || !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("invalid refresh token"))
	}
	token, err := s.issueToken(userID, ttl)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "token": token})
}

func (s *Server) me(c echo.Context) error {
	userID := c.Get("userID").(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.user.ID == userID {
			return c.JSON(http.StatusOK, data("user", acc.user))
		}
	}
	return c.JSON(http.StatusNotFound, errorBody("user not found"))
}

func (s *Server) listProjects(c echo.Context) error {
	s.mu.Lock()
	projects := append([]domain.Project{}, s.projects...)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, data("projects", projects))
}

func (s *Server) getProject(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.projectIndex(c.Param("id")); i >= 0 {
		return c.JSON(http.StatusOK, data("project", s.projects[i]))
	}
	return c.JSON(http.StatusNotFound, errorBody("project not found"))
}

func (s *Server) updateProject(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil || body.Status == "" {
		return c.JSON(http.StatusBadRequest, errorBody("status is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.projectIndex(c.Param("id"))
	if i < 0 {
		return c.JSON(http.StatusNotFound, errorBody("project not found"))
	}
	p := &s.projects[i]
	if body.Status == domain.ProjectCompleted && !p.CanComplete() {
		return c.JSON(http.StatusUnprocessableEntity, errorBody("project budget is not fully paid"))
	}
	p.Status = body.Status
	return c.JSON(http.StatusOK, data("project", *p))
}

func (s *Server) toggleMilestone(c echo.Context) error {
	var body struct {
		Completed bool `json:"completed"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.projectIndex(c.Param("id"))
	if i < 0 {
		return c.JSON(http.StatusNotFound, errorBody("project not found"))
	}
	p := &s.projects[i]
	for j := range p.Milestones {
		if p.Milestones[j].ID == c.Param("mid") {
			p.Milestones[j].Completed = body.Completed
			return c.JSON(http.StatusOK, data("project", *p))
		}
	}
	return c.JSON(http.StatusNotFound, errorBody("milestone not found"))
}

func (s *Server) listBoards(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards := []domain.Board{}
	for _, b := range s.boards {
		if b.Project.ID == c.Param("id") {
			boards = append(boards, b)
		}
	}
	return c.JSON(http.StatusOK, data("boards", boards))
}

func (s *Server) boardTasks(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := []domain.Task{}
	for _, t := range s.tasks {
		if t.Board == c.Param("id") {
			tasks = append(tasks, t)
		}
	}
	return c.JSON(http.StatusOK, data("tasks", tasks))
}

func (s *Server) myTasks(c echo.Context) error {
	userID := c.Get("userID").(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := []domain.Task{}
	for _, t := range s.tasks {
		for _, a := range t.Assignees {
			if a.ID == userID {
				tasks = append(tasks, t)
				break
			}
		}
	}
	return c.JSON(http.StatusOK, data("tasks", tasks))
}

func (s *Server) createTask(c echo.Context) error {
	var body domain.NewTask
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
	}
	if body.Title == "" || body.ColumnID == "" || body.Board == "" {
		return c.JSON(http.StatusUnprocessableEntity, errorBody("title, board and columnId are required"))
	}
	priority := body.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	t := domain.Task{
		ID:          uuid.NewString(),
		Title:       body.Title,
		Description: body.Description,
		Priority:    priority,
		Status:      domain.StatusTodo,
		ColumnID:    body.ColumnID,
		Order:       body.Order,
		Project:     domain.Ref{ID: body.Project},
		Board:       body.Board,
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	s.broker.publish(t.Board, domain.TaskCreated, t)
	return c.JSON(http.StatusCreated, data("task", t))
}

func (s *Server) updateTask(c echo.Context) error {
	var upd domain.TaskUpdate
	if err := c.Bind(&upd); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
	}
	s.mu.Lock()
	s.updateCount++
	if s.failUpdates > 0 {
		s.failUpdates--
		status := s.failStatus
		s.mu.Unlock()
		return c.JSON(status, errorBody("update rejected"))
	}
	i := s.taskIndex(c.Param("id"))
	if i < 0 {
		s.mu.Unlock()
		return c.JSON(http.StatusNotFound, errorBody("task not found"))
	}
	if upd.Priority != nil && !upd.Priority.Valid() {
		s.mu.Unlock()
		return c.JSON(http.StatusUnprocessableEntity, errorBody("invalid priority"))
	}
	t := upd.ApplyTo(s.tasks[i])
	s.tasks[i] = t
	s.mu.Unlock()
	s.broker.publish(t.Board, domain.TaskUpdated, t)
	return c.JSON(http.StatusOK, data("task", t))
}

func (s *Server) deleteTask(c echo.Context) error {
	s.mu.Lock()
	i := s.taskIndex(c.Param("id"))
	if i < 0 {
		s.mu.Unlock()
		return c.JSON(http.StatusNotFound, errorBody("task not found"))
	}
	t := s.tasks[i]
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	s.mu.Unlock()
	s.broker.publish(t.Board, domain.TaskDeleted, domain.TaskDeletedEventData{ID: t.ID})
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (s *Server) projectIndex(id string) int {
	for i, p := range s.projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) taskIndex(id string) int {
	for i, t := range s.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func data(key string, v any) map[string]any {
	return map[string]any{"success": true, "data": map[string]any{key: v}}
}
