package board

import (
	"slices"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// Filter holds the active board search and priority filter.
type Filter struct {
	Search   string
	Priority domain.Priority
}

// Projection groups filtered tasks by column, each bucket ordered by Order.
// Projections returned by a View are shared and must be treated as read-only.
type Projection struct {
	Columns []domain.Column
	Buckets map[string][]domain.Task
	// Orphans holds matching tasks whose column is not on the board. They
	// never appear in a bucket.
	Orphans []domain.Task
}

// Bucket returns the ordered tasks of one column.
func (p Projection) Bucket(columnID string) []domain.Task {
	return p.Buckets[columnID]
}

// Locate returns the column and index of a task within the projection.
func (p Projection) Locate(taskID string) (Location, bool) {
	for colID, tasks := range p.Buckets {
		for i, t := range tasks {
			if t.ID == taskID {
				return Location{ColumnID: colID, Index: i}, true
			}
		}
	}
	return Location{}, false
}

// Project derives the per-column view of tasks. It is pure: equal inputs
// always give deeply equal projections.
func Project(tasks []domain.Task, columns []domain.Column, f Filter) Projection {
	p := Projection{
		Columns: append([]domain.Column(nil), columns...),
		Buckets: make(map[string][]domain.Task, len(columns)),
	}
	for _, c := range columns {
		p.Buckets[c.ID] = []domain.Task{}
	}

	query := strings.ToLower(strings.TrimSpace(f.Search))
	for _, t := range tasks {
		if query != "" && !matchesSearch(t, query) {
			continue
		}
		if f.Priority != "" && f.Priority != domain.PriorityAll && t.Priority != f.Priority {
			continue
		}
		bucket, ok := p.Buckets[t.ColumnID]
		if !ok {
			p.Orphans = append(p.Orphans, t)
			continue
		}
		p.Buckets[t.ColumnID] = append(bucket, t)
	}

	for id, bucket := range p.Buckets {
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Order < bucket[j].Order })
		p.Buckets[id] = bucket
	}
	return p
}

func matchesSearch(t domain.Task, query string) bool {
	return strings.Contains(strings.ToLower(t.Title), query) ||
		strings.Contains(strings.ToLower(t.Description), query)
}

// View projects a store onto a board's columns and memoizes the result on
// (store version, columns, filter). It never mutates the store.
type View struct {
	store  *Store
	logger *log.Logger

	mu      sync.Mutex
	columns []domain.Column
	filter  Filter
	cached  *Projection
	version uint64
}

func NewView(store *Store, columns []domain.Column, logger *log.Logger) *View {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &View{store: store, columns: append([]domain.Column(nil), columns...), logger: logger}
}

// SetFilter changes the active filter.
func (v *View) SetFilter(f Filter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f != v.filter {
		v.filter = f
		v.cached = nil
	}
}

func (v *View) Filter() Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter
}

// SetColumns replaces the board column set.
func (v *View) SetColumns(columns []domain.Column) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !slices.Equal(columns, v.columns) {
		v.columns = append([]domain.Column(nil), columns...)
		v.cached = nil
	}
}

// Projection returns the current projection, recomputing only when an input
// changed since the last call.
func (v *View) Projection() Projection {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cached != nil && v.version == v.store.Version() {
		return *v.cached
	}
	tasks, version := v.store.snapshotVersion()
	p := Project(tasks, v.columns, v.filter)
	for _, t := range p.Orphans {
		v.logger.WithFields(log.Fields{"task": t.ID, "column": t.ColumnID}).Warn("task references unknown column")
	}
	v.cached = &p
	v.version = version
	return p
}
