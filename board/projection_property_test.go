package board

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"taskmatrix/domain"
)

var (
	genPriority = rapid.SampledFrom([]domain.Priority{
		domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent,
	})
	genFilterPriority = rapid.SampledFrom([]domain.Priority{
		"", domain.PriorityAll, domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent,
	})
	genColumnID = rapid.SampledFrom([]string{"todo", "doing", "done", "stale"})
	genText     = rapid.StringMatching(`[a-cA-C ]{0,8}`)
)

func genTasks(t *rapid.T) []domain.Task {
	n := rapid.IntRange(0, 20).Draw(t, "n")
	tasks := make([]domain.Task, n)
	for i := range tasks {
		tasks[i] = domain.Task{
			ID:          fmt.Sprintf("t%d", i),
			Title:       genText.Draw(t, "title"),
			Description: genText.Draw(t, "description"),
			Priority:    genPriority.Draw(t, "priority"),
			ColumnID:    genColumnID.Draw(t, "column"),
			Order:       rapid.IntRange(0, 5).Draw(t, "order"),
		}
	}
	return tasks
}

func genFilter(t *rapid.T) Filter {
	return Filter{Search: genText.Draw(t, "search"), Priority: genFilterPriority.Draw(t, "filterPriority")}
}

func TestPropertyProjectionIsPure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)

		first := Project(tasks, testColumns, f)
		second := Project(tasks, testColumns, f)

		if !reflect.DeepEqual(first, second) {
			t.Fatalf("projection not pure:\n%+v\n%+v", first, second)
		}
		for _, c := range testColumns {
			if first.Buckets[c.ID] == nil {
				t.Fatalf("missing bucket for %s", c.ID)
			}
		}
	})
}

func TestPropertySearchExcludesNonMatching(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)
		query := strings.ToLower(strings.TrimSpace(f.Search))

		p := Project(tasks, testColumns, f)

		seen := 0
		for col, bucket := range p.Buckets {
			for _, tk := range bucket {
				seen++
				if query != "" && !strings.Contains(strings.ToLower(tk.Title), query) && !strings.Contains(strings.ToLower(tk.Description), query) {
					t.Fatalf("task %s does not match %q", tk.ID, query)
				}
				if tk.ColumnID != col {
					t.Fatalf("task %s of column %s placed in %s", tk.ID, tk.ColumnID, col)
				}
			}
		}

		if query == "" && (f.Priority == "" || f.Priority == domain.PriorityAll) {
			if seen+len(p.Orphans) != len(tasks) {
				t.Fatalf("blank search dropped tasks: %d placed, %d orphans, %d total", seen, len(p.Orphans), len(tasks))
			}
		}
	})
}

func TestPropertyPriorityFilterHolds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)

		p := Project(tasks, testColumns, f)

		for _, bucket := range p.Buckets {
			for i, tk := range bucket {
				if f.Priority != "" && f.Priority != domain.PriorityAll && tk.Priority != f.Priority {
					t.Fatalf("task %s has priority %s under filter %s", tk.ID, tk.Priority, f.Priority)
				}
				if i > 0 && bucket[i-1].Order > tk.Order {
					t.Fatalf("bucket not ordered: %v", ids(bucket))
				}
			}
		}
	})
}
