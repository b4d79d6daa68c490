package board

import (
	"errors"
	"reflect"
	"testing"

	"taskmatrix/domain"
)

func newDragFixture(t *testing.T, updater TaskUpdater, policy MovePolicy) (*Store, *Controller) {
	t.Helper()
	s := NewStore()
	s.ReplaceAll([]domain.Task{
		task("a0", "todo", 0),
		task("b0", "doing", 0),
		task("b1", "doing", 1),
		task("d0", "done", 0),
	})
	p := NewPersister(updater, PersistConfig{Workers: 2, Buffer: 4}, quietLogger())
	c := NewController(s, testColumns, p, policy, quietLogger())
	return s, c
}

func drop(t *testing.T, c *Controller, taskID string, src Location, dst *Location) (*Move, error) {
	t.Helper()
	if err := c.Begin(taskID); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	return c.Drop(DragEvent{TaskID: taskID, Source: src, Destination: dst})
}

func TestDropOnSamePositionIsNoop(t *testing.T) {
	backend := &stubBackend{}
	s, c := newDragFixture(t, backend, FireAndForget)
	before := s.Version()

	_, err := drop(t, c, "b0", Location{ColumnID: "doing", Index: 0}, &Location{ColumnID: "doing", Index: 0})
	c.Close()

	if !errors.Is(err, ErrUnchangedPosition) {
		t.Fatalf("expected ErrUnchangedPosition, got %v", err)
	}
	if s.Version() != before {
		t.Fatal("store mutated by no-op drop")
	}
	if calls := backend.updateCalls(); len(calls) != 0 {
		t.Fatalf("expected no persistence request, got %+v", calls)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle after drop, got %s", c.State())
	}
}

func TestDropWithoutDestinationIsNoop(t *testing.T) {
	backend := &stubBackend{}
	s, c := newDragFixture(t, backend, FireAndForget)
	before := s.Snapshot()

	_, err := drop(t, c, "a0", Location{ColumnID: "todo", Index: 0}, nil)
	c.Close()

	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("store mutated by drop outside any column")
	}
	if calls := backend.updateCalls(); len(calls) != 0 {
		t.Fatalf("expected no persistence request, got %+v", calls)
	}
}

func TestDropFromDoneColumnIsLocked(t *testing.T) {
	backend := &stubBackend{}
	s, c := newDragFixture(t, backend, FireAndForget)
	before := s.Snapshot()

	for _, dst := range []Location{{ColumnID: "todo", Index: 0}, {ColumnID: "doing", Index: 2}, {ColumnID: "done", Index: 1}} {
		dst := dst
		_, err := drop(t, c, "d0", Location{ColumnID: "done", Index: 0}, &dst)
		if !errors.Is(err, ErrTaskLocked) {
			t.Fatalf("expected ErrTaskLocked for %+v, got %v", dst, err)
		}
	}
	c.Close()

	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("store mutated by locked drop")
	}
	if calls := backend.updateCalls(); len(calls) != 0 {
		t.Fatalf("expected no persistence request, got %+v", calls)
	}
}

func TestDropIsOptimistic(t *testing.T) {
	gated := newGatedUpdater()
	s, c := newDragFixture(t, gated, FireAndForget)
	v := NewView(s, testColumns, quietLogger())

	m, err := drop(t, c, "a0", Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "doing", Index: 1})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}

	p := v.Projection()
	if got := ids(p.Bucket("doing")); len(got) != 3 || got[1] != "a0" {
		t.Fatalf("expected a0 at index 1 of doing before any response, got %v", got)
	}
	if _, ok := p.Locate("a0"); !ok || len(p.Bucket("todo")) != 0 {
		t.Fatalf("expected a0 gone from todo, got %v", ids(p.Bucket("todo")))
	}
	if c.State() != Idle {
		t.Fatal("controller must accept the next drag before the response arrives")
	}
	if !c.Pending("a0") {
		t.Fatal("expected move pending")
	}

	call := gated.next(t)
	if call.id != "a0" || *call.upd.ColumnID != "doing" || *call.upd.Order != 1 || call.upd.Status != nil {
		t.Fatalf("unexpected payload %+v", call.upd)
	}
	call.reply <- nil

	got, err := waitMove(t, m)
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if got.Title != "server a0" {
		t.Fatalf("expected server copy, got %+v", got)
	}
	stored, _ := s.Get("a0")
	if stored.Title != "server a0" {
		t.Fatalf("expected server response upserted, got %+v", stored)
	}
	if c.Pending("a0") {
		t.Fatal("expected move settled")
	}
	c.Close()
}

func TestDropPlacementIgnoresLoadOrder(t *testing.T) {
	loads := map[string][]domain.Task{
		"moved task first": {task("a0", "todo", 0), task("b0", "doing", 0), task("b1", "doing", 1)},
		"moved task last":  {task("b0", "doing", 0), task("b1", "doing", 1), task("a0", "todo", 0)},
		"reversed":         {task("b1", "doing", 1), task("a0", "todo", 0), task("b0", "doing", 0)},
	}
	for name, tasks := range loads {
		t.Run(name, func(t *testing.T) {
			s := NewStore()
			s.ReplaceAll(tasks)
			c := NewController(s, testColumns, NewPersister(&stubBackend{}, PersistConfig{Workers: 1, Buffer: 4}, quietLogger()), FireAndForget, quietLogger())
			defer c.Close()
			v := NewView(s, testColumns, quietLogger())

			if _, err := drop(t, c, "a0", Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "doing", Index: 1}); err != nil {
				t.Fatalf("drop: %v", err)
			}
			if got := ids(v.Projection().Bucket("doing")); !reflect.DeepEqual(got, []string{"b0", "a0", "b1"}) {
				t.Fatalf("expected a0 at index 1, got %v", got)
			}
		})
	}
}

func TestDropWithinColumnLandsOnTargetIndex(t *testing.T) {
	cases := []struct {
		name  string
		id    string
		from  int
		to    int
		order []string
	}{
		{name: "down to the end", id: "x0", from: 0, to: 2, order: []string{"x1", "x2", "x0"}},
		{name: "down one", id: "x0", from: 0, to: 1, order: []string{"x1", "x0", "x2"}},
		{name: "up to the top", id: "x2", from: 2, to: 0, order: []string{"x2", "x0", "x1"}},
		{name: "up one", id: "x2", from: 2, to: 1, order: []string{"x0", "x2", "x1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore()
			s.ReplaceAll([]domain.Task{task("x2", "doing", 2), task("x0", "doing", 0), task("x1", "doing", 1)})
			backend := &stubBackend{}
			c := NewController(s, testColumns, NewPersister(backend, PersistConfig{Workers: 1, Buffer: 4}, quietLogger()), FireAndForget, quietLogger())
			v := NewView(s, testColumns, quietLogger())

			if _, err := drop(t, c, tc.id, Location{ColumnID: "doing", Index: tc.from}, &Location{ColumnID: "doing", Index: tc.to}); err != nil {
				t.Fatalf("drop: %v", err)
			}
			if got := ids(v.Projection().Bucket("doing")); !reflect.DeepEqual(got, tc.order) {
				t.Fatalf("expected %v, got %v", tc.order, got)
			}
			c.Close()
			calls := backend.updateCalls()
			if len(calls) != 1 || *calls[0].upd.Order != tc.to {
				t.Fatalf("expected payload order %d, got %+v", tc.to, calls)
			}
		})
	}
}

func TestDropIntoDoneSetsStatus(t *testing.T) {
	gated := newGatedUpdater()
	_, c := newDragFixture(t, gated, FireAndForget)

	m, err := drop(t, c, "b1", Location{ColumnID: "doing", Index: 1}, &Location{ColumnID: "done", Index: 1})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}

	call := gated.next(t)
	if call.upd.Status == nil || *call.upd.Status != domain.StatusDone {
		t.Fatalf("expected status done in payload, got %+v", call.upd)
	}
	if *call.upd.ColumnID != "done" || *call.upd.Order != 1 {
		t.Fatalf("expected column and order in payload, got %+v", call.upd)
	}
	call.reply <- nil
	waitMove(t, m)
	c.Close()
}

func TestFireAndForgetKeepsPlacementOnFailure(t *testing.T) {
	gated := newGatedUpdater()
	s, c := newDragFixture(t, gated, FireAndForget)

	m, err := drop(t, c, "a0", Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "doing", Index: 2})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	gated.next(t).reply <- errors.New("validation failed")

	if _, err := waitMove(t, m); err == nil {
		t.Fatal("expected failure reported to the caller")
	}
	got, _ := s.Get("a0")
	if got.ColumnID != "doing" || got.Order != 2 {
		t.Fatalf("expected optimistic placement kept, got %+v", got)
	}
	c.Close()
}

func TestRevertOnFailureRestoresPriorPlacement(t *testing.T) {
	gated := newGatedUpdater()
	s, c := newDragFixture(t, gated, RevertOnFailure)

	m, err := drop(t, c, "a0", Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "doing", Index: 2})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	gated.next(t).reply <- errors.New("boom")
	waitMove(t, m)

	got, _ := s.Get("a0")
	if got.ColumnID != "todo" || got.Order != 0 {
		t.Fatalf("expected prior placement restored, got %+v", got)
	}
	c.Close()
}

func TestRevertSkippedWhenSuperseded(t *testing.T) {
	gated := newGatedUpdater()
	s, c := newDragFixture(t, gated, RevertOnFailure)

	m, err := drop(t, c, "a0", Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "doing", Index: 2})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	call := gated.next(t)

	remote := task("a0", "done", 4)
	s.Upsert(remote)
	call.reply <- errors.New("boom")
	waitMove(t, m)

	got, _ := s.Get("a0")
	if got.ColumnID != "done" || got.Order != 4 {
		t.Fatalf("expected remote write to win over revert, got %+v", got)
	}
	c.Close()
}

func TestRevertSkippedForOlderMove(t *testing.T) {
	gated := newGatedUpdater()
	s, c := newDragFixture(t, gated, RevertOnFailure)

	first, err := drop(t, c, "a0", Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "doing", Index: 2})
	if err != nil {
		t.Fatalf("first drop: %v", err)
	}
	firstCall := gated.next(t)
	second, err := drop(t, c, "a0", Location{ColumnID: "doing", Index: 2}, &Location{ColumnID: "doing", Index: 0})
	if err != nil {
		t.Fatalf("second drop: %v", err)
	}
	secondCall := gated.next(t)

	firstCall.reply <- errors.New("boom")
	waitMove(t, first)
	got, _ := s.Get("a0")
	if got.ColumnID != "doing" || got.Order != 0 {
		t.Fatalf("older failure must not revert the newer move, got %+v", got)
	}

	secondCall.reply <- nil
	waitMove(t, second)
	c.Close()
}

func TestDropWithoutBeginFails(t *testing.T) {
	_, c := newDragFixture(t, &stubBackend{}, FireAndForget)
	defer c.Close()

	_, err := c.Drop(DragEvent{TaskID: "a0", Destination: &Location{ColumnID: "doing"}})
	if !errors.Is(err, ErrNotDragging) {
		t.Fatalf("expected ErrNotDragging, got %v", err)
	}
}

func TestBeginTwiceFails(t *testing.T) {
	_, c := newDragFixture(t, &stubBackend{}, FireAndForget)
	defer c.Close()

	if err := c.Begin("a0"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := c.Begin("b0"); !errors.Is(err, ErrAlreadyDragging) {
		t.Fatalf("expected ErrAlreadyDragging, got %v", err)
	}
	c.Cancel()
	if c.State() != Idle {
		t.Fatal("expected idle after cancel")
	}
}

func TestParseMovePolicy(t *testing.T) {
	cases := map[string]MovePolicy{
		"":                  FireAndForget,
		"fire-and-forget":   FireAndForget,
		"Revert-On-Failure": RevertOnFailure,
	}
	for in, want := range cases {
		got, err := ParseMovePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseMovePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMovePolicy("retry"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
