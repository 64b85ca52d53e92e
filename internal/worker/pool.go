package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is a named unit of background work. Post-processing jobs run on
// the pool so sync and upload requests never wait on them.
type Task struct {
	Name    string
	Retries int
	Run     func(ctx context.Context) error
}

// Pool runs tasks on a fixed set of goroutines. Submissions after Stop
// are dropped.
type Pool struct {
	tasks   chan Task
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	log     *log.Logger
}

func NewPool(size int, logger *log.Logger) *Pool {
	if size <= 0 {
		size = 2
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{
		tasks: make(chan Task, size*8),
		log:   logger,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Printf("worker: task %s panic: %v", task.Name, r)
		}
	}()
	var err error
	for attempt := 0; attempt <= task.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		if err = task.Run(context.Background()); err == nil {
			return
		}
		p.log.Printf("worker: task %s attempt %d failed: %v", task.Name, attempt+1, err)
	}
	p.log.Printf("worker: task %s gave up: %v", task.Name, err)
}

// Submit queues a task. Returns false when the pool is stopped or the
// queue is full; callers treat background work as best effort.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		p.log.Printf("worker: queue full, dropping task %s", task.Name)
		return false
	}
}

// Stop drains queued tasks and waits for workers to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
