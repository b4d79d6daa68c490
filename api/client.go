package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"taskmatrix/domain"
)

// Client exposes the TaskMatrix endpoints used by the board.
type Client struct {
	gw *Gateway
}

func NewClient(gw *Gateway) *Client {
	return &Client{gw: gw}
}

func (c *Client) Gateway() *Gateway { return c.gw }

type tasksEnvelope struct {
	Data struct {
		Tasks []domain.Task `json:"tasks"`
	} `json:"data"`
}

type taskEnvelope struct {
	Data struct {
		Task domain.Task `json:"task"`
	} `json:"data"`
}

type boardsEnvelope struct {
	Data struct {
		Boards []domain.Board `json:"boards"`
	} `json:"data"`
}

type projectsEnvelope struct {
	Data struct {
		Projects []domain.Project `json:"projects"`
	} `json:"data"`
}

type projectEnvelope struct {
	Data struct {
		Project domain.Project `json:"project"`
	} `json:"data"`
}

type userEnvelope struct {
	Data struct {
		User domain.User `json:"user"`
	} `json:"data"`
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	Data         struct {
		User domain.User `json:"user"`
	} `json:"data"`
}

func (c *Client) FetchBoardTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	var env tasksEnvelope
	if err := c.gw.Do(ctx, http.MethodGet, "/tasks/board/"+url.PathEscape(boardID), nil, &env); err != nil {
		return nil, err
	}
	return nonNil(env.Data.Tasks), nil
}

// FetchMyTasks returns the tasks assigned to the signed-in user.
func (c *Client) FetchMyTasks(ctx context.Context) ([]domain.Task, error) {
	var env tasksEnvelope
	if err := c.gw.Do(ctx, http.MethodGet, "/tasks/my-tasks", nil, &env); err != nil {
		return nil, err
	}
	return nonNil(env.Data.Tasks), nil
}

func (c *Client) CreateTask(ctx context.Context, t domain.NewTask) (domain.Task, error) {
	var env taskEnvelope
	if err := c.gw.Do(ctx, http.MethodPost, "/tasks", t, &env); err != nil {
		return domain.Task{}, err
	}
	if env.Data.Task.ID == "" {
		return domain.Task{}, fmt.Errorf("create task: response carries no task")
	}
	return env.Data.Task, nil
}

// UpdateTask sends a partial update and returns the full updated task.
func (c *Client) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error) {
	var env taskEnvelope
	if err := c.gw.Do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), upd, &env); err != nil {
		return domain.Task{}, err
	}
	if env.Data.Task.ID == "" {
		return domain.Task{}, fmt.Errorf("update task %s: response carries no task", id)
	}
	return env.Data.Task, nil
}

func (c *Client) FetchProjects(ctx context.Context) ([]domain.Project, error) {
	var env projectsEnvelope
	if err := c.gw.Do(ctx, http.MethodGet, "/projects", nil, &env); err != nil {
		return nil, err
	}
	return env.Data.Projects, nil
}

func (c *Client) FetchProject(ctx context.Context, id string) (domain.Project, error) {
	var env projectEnvelope
	if err := c.gw.Do(ctx, http.MethodGet, "/projects/"+url.PathEscape(id), nil, &env); err != nil {
		return domain.Project{}, err
	}
	return env.Data.Project, nil
}

// FetchProjectBoards lists the boards of a project. The board view only
// ever uses the first one.
func (c *Client) FetchProjectBoards(ctx context.Context, projectID string) ([]domain.Board, error) {
	var env boardsEnvelope
	if err := c.gw.Do(ctx, http.MethodGet, "/boards/project/"+url.PathEscape(projectID), nil, &env); err != nil {
		return nil, err
	}
	return env.Data.Boards, nil
}

func (c *Client) ToggleMilestone(ctx context.Context, projectID, milestoneID string, completed bool) (domain.Project, error) {
	var env projectEnvelope
	path := "/projects/" + url.PathEscape(projectID) + "/milestones/" + url.PathEscape(milestoneID)
	if err := c.gw.Do(ctx, http.MethodPatch, path, map[string]bool{"completed": completed}, &env); err != nil {
		return domain.Project{}, err
	}
	return env.Data.Project, nil
}

// UpdateProjectStatus sets the status of a project. A project is only
// marked completed once its budget is paid in full.
func (c *Client) UpdateProjectStatus(ctx context.Context, projectID, status string) (domain.Project, error) {
	if status == domain.ProjectCompleted {
		p, err := c.FetchProject(ctx, projectID)
		if err != nil {
			return domain.Project{}, err
		}
		if !p.CanComplete() {
			return domain.Project{}, fmt.Errorf("%w: paid %.2f of %.2f", ErrOutstandingBalance, p.PaidAmount, p.Price)
		}
	}
	var env projectEnvelope
	if err := c.gw.Do(ctx, http.MethodPatch, "/projects/"+url.PathEscape(projectID), map[string]string{"status": status}, &env); err != nil {
		return domain.Project{}, err
	}
	return env.Data.Project, nil
}

// Login signs in and stores both tokens.
func (c *Client) Login(ctx context.Context, email, password string) (domain.User, error) {
	var resp loginResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.gw.DoAnonymous(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return domain.User{}, err
	}
	if resp.Token == "" {
		return domain.User{}, fmt.Errorf("login: response carries no token")
	}
	creds := Credentials{
		Token:        resp.Token,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.Data.User.ID,
		UserName:     resp.Data.User.Name,
	}
	if err := c.gw.Credentials().Save(creds); err != nil {
		return domain.User{}, err
	}
	return resp.Data.User, nil
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	creds, err := c.gw.Credentials().Load()
	if err != nil {
		return domain.User{}, err
	}
	if creds.Empty() {
		return domain.User{}, ErrNotSignedIn
	}
	var env userEnvelope
	if err := c.gw.Do(ctx, http.MethodGet, "/auth/me", nil, &env); err != nil {
		return domain.User{}, err
	}
	return env.Data.User, nil
}

// Logout forgets the stored credentials. The backend keeps no session.
func (c *Client) Logout() error {
	return c.gw.Credentials().Clear()
}

func nonNil(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	return tasks
}
