package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// snapshotVersion is bumped whenever the cached layout changes. Entries with
// another version are treated as a miss.
const snapshotVersion = 2

type snapshot struct {
	Version  int          `json:"version"`
	CachedAt time.Time    `json:"cachedAt"`
	Tasks    []cachedTask `json:"tasks"`
}

// cachedRef keeps the populated form of a reference. domain.Ref encodes to
// the bare id for write payloads, which would drop names from the snapshot.
type cachedRef struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// cachedTask shadows the reference fields of domain.Task.
type cachedTask struct {
	domain.Task
	Assignees []cachedRef `json:"assignees,omitempty"`
	Project   *cachedRef  `json:"project,omitempty"`
}

func toCached(t domain.Task) cachedTask {
	ct := cachedTask{Task: t}
	ct.Task.Assignees = nil
	ct.Task.Project = domain.Ref{}
	if len(t.Assignees) > 0 {
		ct.Assignees = make([]cachedRef, 0, len(t.Assignees))
		for _, r := range t.Assignees {
			ct.Assignees = append(ct.Assignees, cachedRef{ID: r.ID, Name: r.Name})
		}
	}
	if !t.Project.IsZero() {
		ct.Project = &cachedRef{ID: t.Project.ID, Name: t.Project.Name}
	}
	return ct
}

func (ct cachedTask) task() domain.Task {
	t := ct.Task
	t.Assignees = nil
	if len(ct.Assignees) > 0 {
		t.Assignees = make([]domain.Ref, 0, len(ct.Assignees))
		for _, r := range ct.Assignees {
			t.Assignees = append(t.Assignees, domain.Ref{ID: r.ID, Name: r.Name})
		}
	}
	t.Project = domain.Ref{}
	if ct.Project != nil {
		t.Project = domain.Ref{ID: ct.Project.ID, Name: ct.Project.Name}
	}
	return t
}

// Cache keeps the last fetched task list of each board in redis so a board
// can render before the first fetch returns. A nil client disables it.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCache creates a snapshot cache with the given TTL; zero keeps entries
// until they are overwritten.
func NewCache(client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{redis: client, ttl: ttl, logger: logger}
}

func (c *Cache) LoadBoardTasks(ctx context.Context, boardID string) ([]domain.Task, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardTasksKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithField("board", boardID).Warnf("snapshot cache read failed: %v", err)
		}
		return nil, false
	}
	var snap snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil || snap.Version != snapshotVersion {
		c.logger.WithField("board", boardID).Debug("discarding unreadable snapshot")
		_ = c.redis.Del(ctx, boardTasksKey(boardID)).Err()
		return nil, false
	}
	tasks := make([]domain.Task, 0, len(snap.Tasks))
	for _, ct := range snap.Tasks {
		tasks = append(tasks, ct.task())
	}
	return tasks, true
}

func (c *Cache) StoreBoardTasks(ctx context.Context, boardID string, tasks []domain.Task) {
	if c == nil || c.redis == nil {
		return
	}
	snap := snapshot{Version: snapshotVersion, CachedAt: time.Now().UTC(), Tasks: make([]cachedTask, 0, len(tasks))}
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, toCached(t))
	}
	data, err := sonic.ConfigStd.Marshal(snap)
	if err != nil {
		c.logger.WithField("board", boardID).Errorf("encode snapshot: %v", err)
		return
	}
	if err := c.redis.Set(ctx, boardTasksKey(boardID), data, c.ttl).Err(); err != nil {
		c.logger.WithField("board", boardID).Warnf("snapshot cache write failed: %v", err)
	}
}

// Evict drops the snapshot of a board.
func (c *Cache) Evict(ctx context.Context, boardID string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, boardTasksKey(boardID)).Err(); err != nil {
		c.logger.WithField("board", boardID).Warnf("snapshot cache evict failed: %v", err)
	}
}

func boardTasksKey(boardID string) string {
	return "bt:" + boardID
}
