package worker

import (
	"sync"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
)

// Pool runs fire-and-forget jobs on a fixed set of goroutines behind a bounded queue.
type Pool struct {
	workers  int
	jobs     chan func()
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < workers {
		queue = workers * 2
	}
	p := &Pool{
		workers: workers,
		jobs:    make(chan func(), queue),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error().Interface("panic", r).Str("component", "worker_pool").Msg("job panicked")
		}
	}()
	job()
}

// TrySubmit queues job without blocking. It reports false when the queue is full
// or the pool is stopped; the job is then dropped.
func (p *Pool) TrySubmit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop refuses new jobs, drains the queue and waits for the workers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
