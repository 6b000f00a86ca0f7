package worker

import (
	"sync"
	"time"
)

type workerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*Worker
	workers map[*Worker]struct{}
	min     int
	max     int
	running int
	nextID  int
	expiry  time.Duration
	closed  bool
	quit    chan struct{}
}

const defaultWorkerIdle = 30 * time.Second

func newWorkerPool(minWorkers, maxWorkers int, idle time.Duration) *workerPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &workerPool{
		workers: make(map[*Worker]struct{}),
		min:     minWorkers,
		max:     maxWorkers,
		expiry:  idle,
		quit:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// spawnWorker adds an idle worker if the pool is below max.
func (p *workerPool) spawnWorker() {
	p.mu.Lock()
	if p.closed || p.running >= p.max {
		p.mu.Unlock()
		return
	}
	w := p.newWorkerLocked()
	w.lastUsed = time.Now()
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	w.Start()
}

func (p *workerPool) newWorkerLocked() *Worker {
	p.nextID++
	w := newWorker(p.nextID, p)
	p.workers[w] = struct{}{}
	p.running++
	return w
}

// acquire gets an idle worker, spawns one, or waits until one is released.
func (p *workerPool) acquire() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, ErrDispatcherClosed
		}
		if w := p.popIdleLocked(); w != nil {
			return w, nil
		}
		if p.running < p.max {
			w := p.newWorkerLocked()
			w.Start()
			return w, nil
		}
		p.cond.Wait()
	}
}

// release returns a worker to the idle list.
func (p *workerPool) release(w *Worker) {
	p.mu.Lock()
	if p.closed || w.retired {
		p.mu.Unlock()
		return
	}
	w.lastUsed = time.Now()
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *workerPool) popIdleLocked() *Worker {
	for len(p.idle) > 0 {
		w := p.idle[0]
		p.idle = p.idle[1:]
		if w.retired {
			continue
		}
		return w
	}
	return nil
}

func (p *workerPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.shutdownExpired(time.Now())
		}
	}
}

// shutdownExpired retires idle workers unused for longer than expiry while
// keeping at least min workers alive.
func (p *workerPool) shutdownExpired(now time.Time) {
	var stale []*Worker

	p.mu.Lock()
	if p.closed || len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, w := range p.idle {
		if now.Sub(w.lastUsed) >= p.expiry && p.running > p.min {
			w.retired = true
			delete(p.workers, w)
			p.running--
			stale = append(stale, w)
			continue
		}
		remaining = append(remaining, w)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, w := range stale {
		debugLog("[pool] retire idle worker-%d", w.id)
		w.Stop()
	}
	if len(stale) > 0 {
		p.cond.Broadcast()
	}
}

func (p *workerPool) size() (running, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.idle)
}

func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	workers := make([]*Worker, 0, len(p.workers))
	for w := range p.workers {
		w.retired = true
		workers = append(workers, w)
	}
	p.workers = make(map[*Worker]struct{})
	p.idle = nil
	p.running = 0
	p.mu.Unlock()

	close(p.quit)
	for _, w := range workers {
		w.Stop()
	}
	p.cond.Broadcast()
}
