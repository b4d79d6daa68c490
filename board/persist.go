package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

// PersistConfig tunes the persistence worker pool.
type PersistConfig struct {
	Workers        int
	Buffer         int
	RequestTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c PersistConfig) withDefaults() PersistConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

type persistJob struct {
	taskID string
	update domain.TaskUpdate
	done   func(domain.Task, error)
}

// Persister sends task updates from a pool of workers so the caller never
// waits on the network. Jobs are independent; with more than one worker
// their responses may complete in any order.
type Persister struct {
	cfg     PersistConfig
	updater TaskUpdater
	logger  *log.Logger

	mu       sync.Mutex
	jobs     chan persistJob
	closed   bool
	workerWG sync.WaitGroup
	detached sync.WaitGroup
}

// NewPersister starts the worker pool.
func NewPersister(updater TaskUpdater, cfg PersistConfig, logger *log.Logger) *Persister {
	if updater == nil {
		panic("board.NewPersister: updater is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	p := &Persister{
		cfg:     cfg,
		updater: updater,
		logger:  logger,
		jobs:    make(chan persistJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workerWG.Add(1)
		go p.worker(i)
	}
	p.logger.Debugf("persister started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.RequestTimeout, cfg.HandoffTimeout)
	return p
}

func (p *Persister) worker(id int) {
	defer p.workerWG.Done()
	for j := range p.jobs {
		p.run(id, j)
	}
}

func (p *Persister) run(worker int, j persistJob) {
	// Requests are deliberately detached from any view context: leaving a
	// board does not cancel them.
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	task, err := p.updater.UpdateTask(ctx, j.taskID, j.update)
	cancel()
	if err != nil {
		p.logger.WithFields(log.Fields{"task": j.taskID, "worker": worker}).Errorf("persist task update failed: %v", err)
	}
	j.done(task, err)
}

// Submit hands a job to the pool. When the buffer stays full past the
// hand-off timeout the job runs on its own goroutine instead of blocking.
func (p *Persister) Submit(taskID string, upd domain.TaskUpdate, done func(domain.Task, error)) {
	j := persistJob{taskID: taskID, update: upd, done: done}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		done(domain.Task{}, ErrPersisterClosed)
		return
	}
	select {
	case p.jobs <- j:
		p.mu.Unlock()
		return
	default:
	}
	p.mu.Unlock()

	if p.cfg.HandoffTimeout > 0 && p.sendWithTimeout(j) {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		done(domain.Task{}, ErrPersisterClosed)
		return
	}
	p.detached.Add(1)
	p.mu.Unlock()

	p.logger.Warn("persist buffer saturated; running update detached")
	go func() {
		defer p.detached.Done()
		p.run(-1, j)
	}()
}

func (p *Persister) sendWithTimeout(j persistJob) bool {
	timer := time.NewTimer(p.cfg.HandoffTimeout)
	defer timer.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting jobs and waits for every queued and running update
// to finish. Nothing in flight is cancelled.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.workerWG.Wait()
	p.detached.Wait()
}
