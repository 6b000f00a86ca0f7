package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher queue is full")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type chatQueue struct {
	jobs    []Job
	running bool
	cancel  context.CancelFunc
	elem    *list.Element // position in the ready list, nil when not queued
}

// Dispatcher runs jobs on a worker pool. Jobs of one chat run one at a time
// in submission order; chats with pending work are served round-robin.
type Dispatcher struct {
	pool      *workerPool
	queueSize int

	mu      sync.Mutex
	queues  map[string]*chatQueue
	ready   *list.List // chat ids with a runnable job
	waiting int        // queued jobs not yet handed to a worker
	closed  bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wake      chan struct{}
	quit      chan struct{}
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		pool:      newWorkerPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout),
		queueSize: queueSize,
		queues:    make(map[string]*chatQueue),
		ready:     list.New(),
		baseCtx:   ctx,
		cancelAll: cancel,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}

	// Warm up workers.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job behind any earlier job of the same chat.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run func")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	if d.waiting >= d.queueSize {
		d.mu.Unlock()
		return ErrDispatcherBusy
	}
	q := d.queues[job.ChatID]
	if q == nil {
		q = &chatQueue{}
		d.queues[job.ChatID] = q
	}
	q.jobs = append(q.jobs, job)
	d.waiting++
	if !q.running && q.elem == nil {
		q.elem = d.ready.PushBack(job.ChatID)
	}
	d.mu.Unlock()

	d.signal()
	return nil
}

// CancelChat drops the queued jobs of chatID and cancels the context of its
// running job, if any.
func (d *Dispatcher) CancelChat(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[chatID]
	if q == nil {
		return
	}
	d.waiting -= len(q.jobs)
	q.jobs = nil
	if q.elem != nil {
		d.ready.Remove(q.elem)
		q.elem = nil
	}
	if q.cancel != nil {
		q.cancel()
	}
	if !q.running {
		delete(d.queues, chatID)
	}
	debugLog("[dispatcher] cancelled chat %s", chatID)
}

// Close cancels every job and stops the workers. Submit fails afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queues = make(map[string]*chatQueue)
	d.ready.Init()
	d.waiting = 0
	d.mu.Unlock()

	d.cancelAll()
	close(d.quit)
	d.pool.close()
}

// Waiting reports how many jobs are queued but not yet running.
func (d *Dispatcher) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
		}
		for d.dispatchOne() {
		}
	}
}

// dispatchOne hands the job at the front of the ready list to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if d.closed || elem == nil {
		d.mu.Unlock()
		return false
	}
	chatID := d.ready.Remove(elem).(string)
	q := d.queues[chatID]
	q.elem = nil
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.waiting--
	ctx, cancel := context.WithCancel(d.baseCtx)
	q.running = true
	q.cancel = cancel
	d.mu.Unlock()

	done := func() {
		cancel()
		d.finish(chatID, q)
	}

	w, err := d.pool.acquire()
	if err != nil {
		done()
		return false
	}
	debugLog("[dispatcher] assign job for chat %s to worker-%d", chatID, w.id)
	select {
	case w.taskCh <- task{job: job, ctx: ctx, done: done}:
		return true
	case <-d.quit:
		done()
		return false
	}
}

// finish marks the running job of q as done and requeues the chat if more
// jobs are waiting.
func (d *Dispatcher) finish(chatID string, q *chatQueue) {
	d.mu.Lock()
	q.running = false
	q.cancel = nil
	if d.queues[chatID] == q {
		if len(q.jobs) > 0 {
			if q.elem == nil {
				q.elem = d.ready.PushBack(chatID)
			}
		} else {
			delete(d.queues, chatID)
		}
	}
	d.mu.Unlock()
	d.signal()
}
