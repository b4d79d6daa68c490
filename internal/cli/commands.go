package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskmatrix/api"
	"taskmatrix/board"
	"taskmatrix/domain"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			user, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Fprintf(a.out, "Signed in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out.")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds, err := a.client.Gateway().Credentials().Load()
			if err != nil {
				return err
			}
			if creds.Empty() {
				return api.ErrNotSignedIn
			}
			user, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s <%s>\n", user.Name, user.Email)
			if user.Designation != "" {
				fmt.Fprintf(a.out, "designation: %s\n", user.Designation)
			}
			// The token may have been renewed by Me.
			if creds, err = a.client.Gateway().Credentials().Load(); err == nil {
				if claims, err := api.TokenClaims(creds.Token); err == nil && !claims.ExpiresAt.IsZero() {
					fmt.Fprintf(a.out, "token expires: %s\n", claims.ExpiresAt.Local().Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func (a *app) projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List your projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := a.client.FetchProjects(cmd.Context())
			if err != nil {
				return err
			}
			renderProjects(a.out, projects)
			return nil
		},
	}
}

func (a *app) projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage a project",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <project-id> <status>",
		Short: "Set the status of a project",
		Long: `Set the status of a project, for example active or completed. A project
cannot be completed while part of its budget is unpaid.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := strings.ToLower(strings.TrimSpace(args[1]))
			if status == "" {
				return errors.New("status must not be empty")
			}
			p, err := a.client.UpdateProjectStatus(cmd.Context(), args[0], status)
			if errors.Is(err, api.ErrOutstandingBalance) {
				return fmt.Errorf("financial lock: %w", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is now %s.\n", p.Name, p.Status)
			return nil
		},
	})
	return cmd
}

func (a *app) milestoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "milestone",
		Short: "Manage project milestones",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <project-id> <milestone-id>",
		Short: "Flip a milestone between open and completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.FetchProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			m, ok := p.Milestone(args[1])
			if !ok {
				return fmt.Errorf("project %s has no milestone %s", args[0], args[1])
			}
			if p, err = a.client.ToggleMilestone(cmd.Context(), args[0], m.ID, !m.Completed); err != nil {
				return err
			}
			state := "open"
			if !m.Completed {
				state = "completed"
			}
			done, total := p.Progress()
			fmt.Fprintf(a.out, "Marked %q %s. Milestones %d/%d.\n", m.Text, state, done, total)
			return nil
		},
	})
	return cmd
}

func (a *app) boardCmd() *cobra.Command {
	var (
		search   string
		priority string
		noCache  bool
	)
	cmd := &cobra.Command{
		Use:   "board <project-id>",
		Short: "Show the board of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilter(search, priority)
			if err != nil {
				return err
			}
			sess, cleanup, err := a.openSession(cmd.Context(), args[0], sessionOptions{noCache: noCache, allowStale: true})
			if err != nil {
				return err
			}
			defer cleanup()
			sess.View().SetFilter(f)
			renderBoard(a.out, sess.Board(), sess.View().Projection(), f)
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only tasks whose title or description contains this text")
	cmd.Flags().StringVar(&priority, "priority", "all", "only tasks of this priority (low, medium, high, urgent, all)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "drop the cached snapshot before loading")
	return cmd
}

func (a *app) moveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <project-id> <task-id> <column> [index]",
		Short: "Move a task to a column position",
		Long: `Move a task to a column, given by title or id. Without an index the
task goes to the end of the column. Tasks in the Done column cannot be moved.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, cleanup, err := a.openSession(cmd.Context(), args[0], sessionOptions{})
			if err != nil {
				return err
			}
			defer cleanup()

			col, err := resolveColumn(sess.Board(), args[2])
			if err != nil {
				return err
			}
			index := -1
			if len(args) == 4 {
				if index, err = strconv.Atoi(args[3]); err != nil || index < 0 {
					return fmt.Errorf("invalid index %q", args[3])
				}
			}
			if index < 0 {
				index = endIndex(sess, args[1], col.ID)
			}

			m, err := sess.Move(args[1], col.ID, index)
			switch {
			case errors.Is(err, board.ErrUnchangedPosition):
				fmt.Fprintln(a.out, "Task is already there.")
				return nil
			case errors.Is(err, board.ErrTaskLocked):
				return errors.New("task is in the Done column and cannot be moved")
			case err != nil:
				return err
			}
			task, err := m.Wait(cmd.Context())
			if err != nil {
				if a.cfg.SessionConfig().Policy == board.RevertOnFailure {
					return fmt.Errorf("move failed and was reverted: %w", err)
				}
				return fmt.Errorf("move failed, the board resyncs on the next refresh: %w", err)
			}
			fmt.Fprintf(a.out, "Moved %q to %s at position %d.\n", task.Title, col.Title, m.To.Index)
			return nil
		},
	}
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <project-id> <column> <title>...",
		Short: "Add a task at the end of a column",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, cleanup, err := a.openSession(cmd.Context(), args[0], sessionOptions{})
			if err != nil {
				return err
			}
			defer cleanup()
			task, err := sess.AddTask(cmd.Context(), args[1], strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %q (%s) at position %d.\n", task.Title, task.ID, task.Order)
			return nil
		},
	}
}

func (a *app) editCmd() *cobra.Command {
	var (
		title, description, priority, status, category, due string
	)
	cmd := &cobra.Command{
		Use:   "edit <project-id> <task-id>",
		Short: "Edit the details of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var upd domain.TaskUpdate
			if flags.Changed("title") {
				upd.Title = domain.Ptr(title)
			}
			if flags.Changed("description") {
				upd.Description = domain.Ptr(description)
			}
			if flags.Changed("category") {
				upd.Category = domain.Ptr(category)
			}
			if flags.Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil || p == domain.PriorityAll {
					return fmt.Errorf("invalid priority %q", priority)
				}
				upd.Priority = domain.Ptr(p)
			}
			if flags.Changed("status") {
				s := domain.Status(strings.ToLower(status))
				if !s.Valid() {
					return fmt.Errorf("invalid status %q", status)
				}
				upd.Status = domain.Ptr(s)
			}
			if flags.Changed("due") {
				d, err := time.Parse("2006-01-02", due)
				if err != nil {
					return fmt.Errorf("invalid due date %q, want YYYY-MM-DD", due)
				}
				upd.DueDate = domain.Ptr(d)
			}
			if upd.Empty() {
				return errors.New("nothing to change")
			}

			sess, cleanup, err := a.openSession(cmd.Context(), args[0], sessionOptions{})
			if err != nil {
				return err
			}
			defer cleanup()
			task, err := sess.EditTask(cmd.Context(), args[1], upd)
			if errors.Is(err, board.ErrTaskLocked) {
				return errors.New("completed tasks cannot be edited")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated %q.\n", task.Title)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&description, "description", "", "new description")
	f.StringVar(&category, "category", "", "new category")
	f.StringVar(&priority, "priority", "", "new priority (low, medium, high, urgent)")
	f.StringVar(&status, "status", "", "new status (todo, in-progress, done, backlog)")
	f.StringVar(&due, "due", "", "new due date (YYYY-MM-DD)")
	return cmd
}

func (a *app) myTasksCmd() *cobra.Command {
	var tab, search string
	cmd := &cobra.Command{
		Use:   "my-tasks",
		Short: "List the tasks assigned to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := board.ParseTab(tab)
			if err != nil {
				return err
			}
			store := board.NewStore()
			if err := board.LoadMyTasks(cmd.Context(), a.client, store); err != nil {
				return err
			}
			renderTaskList(a.out, board.FilterMyTasks(store.Snapshot(), t, search))
			return nil
		},
	}
	cmd.Flags().StringVar(&tab, "tab", "all", "all, upcoming or completed")
	cmd.Flags().StringVarP(&search, "search", "s", "", "only tasks whose title contains this text")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var (
		search, priority string
		duration         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Show a board and redraw it as tasks change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilter(search, priority)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			sess, cleanup, err := a.openSession(ctx, args[0], sessionOptions{live: true, allowStale: true})
			if err != nil {
				return err
			}
			defer cleanup()

			sess.View().SetFilter(f)
			updates := sess.Store().Subscribe()
			defer sess.Store().Unsubscribe(updates)

			renderBoard(a.out, sess.Board(), sess.View().Projection(), f)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-updates:
					fmt.Fprintln(a.out)
					renderBoard(a.out, sess.Board(), sess.View().Projection(), f)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only tasks whose title or description contains this text")
	cmd.Flags().StringVar(&priority, "priority", "all", "only tasks of this priority")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop watching after this long (default: until interrupted)")
	return cmd
}

func parseFilter(search, priority string) (board.Filter, error) {
	f := board.Filter{Search: search, Priority: domain.PriorityAll}
	if priority != "" {
		p, err := domain.ParsePriority(priority)
		if err != nil {
			return board.Filter{}, err
		}
		f.Priority = p
	}
	return f, nil
}

func resolveColumn(b domain.Board, arg string) (domain.Column, error) {
	if c, ok := b.Column(arg); ok {
		return c, nil
	}
	if c, ok := b.ColumnByTitle(arg); ok {
		return c, nil
	}
	return domain.Column{}, fmt.Errorf("%w: %s", board.ErrUnknownColumn, arg)
}

// endIndex is the last position of a column, as seen after taking the task
// out of its current column.
func endIndex(sess *board.Session, taskID, columnID string) int {
	p := board.Project(sess.Store().Snapshot(), sess.Board().Columns, board.Filter{})
	n := len(p.Bucket(columnID))
	if src, ok := p.Locate(taskID); ok && src.ColumnID == columnID {
		n--
	}
	return n
}
