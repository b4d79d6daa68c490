package board

import (
	"context"
	"fmt"
	"strings"

	"taskmatrix/domain"
)

// MyTasksTab selects a slice of the current user's tasks.
type MyTasksTab string

const (
	TabAll       MyTasksTab = "all"
	TabCompleted MyTasksTab = "completed"
	TabUpcoming  MyTasksTab = "upcoming"
)

// FilterMyTasks applies the My Tasks tab and a title search, keeping the
// input order.
func FilterMyTasks(tasks []domain.Task, tab MyTasksTab, search string) []domain.Task {
	query := strings.ToLower(search)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if !strings.Contains(strings.ToLower(t.Title), query) {
			continue
		}
		switch tab {
		case TabCompleted:
			if t.Status != domain.StatusDone {
				continue
			}
		case TabUpcoming:
			if t.Status == domain.StatusDone {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// ParseTab accepts a tab name; the empty string means all.
func ParseTab(s string) (MyTasksTab, error) {
	switch MyTasksTab(strings.ToLower(s)) {
	case "", TabAll:
		return TabAll, nil
	case TabCompleted:
		return TabCompleted, nil
	case TabUpcoming:
		return TabUpcoming, nil
	}
	return "", fmt.Errorf("unknown tab %q", s)
}

// LoadMyTasks replaces the store with the tasks assigned to the current user.
func LoadMyTasks(ctx context.Context, backend Backend, store *Store) error {
	tasks, err := backend.FetchMyTasks(ctx)
	if err != nil {
		return fmt.Errorf("fetch my tasks: %w", err)
	}
	store.ReplaceAll(tasks)
	return nil
}
