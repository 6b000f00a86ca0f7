package worker

import (
	"context"
	"log"
	"time"
)

// Job is one unit of work bound to a chat. Run must return promptly once ctx
// is cancelled.
type Job struct {
	ChatID string
	Run    func(ctx context.Context)
}

type task struct {
	job  Job
	ctx  context.Context
	done func()
}

type Worker struct {
	id     int
	pool   *workerPool
	taskCh chan task
	quit   chan struct{}

	// guarded by pool.mu
	lastUsed time.Time
	retired  bool
}

func newWorker(id int, pool *workerPool) *Worker {
	return &Worker{
		id:     id,
		pool:   pool,
		taskCh: make(chan task),
		quit:   make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			select {
			case t := <-w.taskCh:
				w.run(t)
				w.pool.release(w)
			case <-w.quit:
				debugLog("[worker-%d] stopped", w.id)
				return
			}
		}
	}()
}

func (w *Worker) run(t task) {
	defer t.done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker-%d: job for chat %s panicked: %v", w.id, t.job.ChatID, r)
		}
	}()
	t.job.Run(t.ctx)
}

func (w *Worker) Stop() {
	close(w.quit)
}
