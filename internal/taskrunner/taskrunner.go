// Package taskrunner implements the Background Task Runner (C8): a bounded
// worker pool that executes Folder Synchronizer runs and cache-preload
// jobs. Tasks queue by priority class, and submitting a higher-priority
// task preempts a running lower-priority one by cancelling its context
// rather than waiting for a free worker.
//
// The pool itself has no corpus-provided library to lean on (no example
// in the reference set ships a priority work queue); it is built on
// container/heap the way a bounded goroutine pool here is built on the
// same buffered-semaphore idiom the teacher uses for folder-status
// fan-out (internal/sync/engine.go's fetchFolderStatusParallel).
package taskrunner

import (
	"container/heap"
	"context"
	"runtime"
	"sync"

	"github.com/parlorsh/parlor/internal/logging"
	"github.com/rs/zerolog"
)

// Priority is a task's scheduling class. Higher values run first and may
// preempt a running task of a lower class.
type Priority int

const (
	// PriorityLow is prefetch/cache-warming work.
	PriorityLow Priority = iota
	// PriorityNormal is periodic (scheduled) sync.
	PriorityNormal
	// PriorityForeground is UI-initiated work, e.g. opening a folder.
	PriorityForeground
)

func (p Priority) String() string {
	switch p {
	case PriorityForeground:
		return "foreground"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// maxWorkers caps the pool even on very large machines: one sync
// connection per worker is already a lot of concurrent IMAP traffic.
const maxWorkers = 8

// DefaultWorkers returns the available core count capped at maxWorkers.
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > maxWorkers {
		return maxWorkers
	}
	if n < 1 {
		return 1
	}
	return n
}

// Func is the unit of work a task performs. It must check ctx for
// cancellation at every suspension point; the pool cancels ctx to preempt.
type Func func(ctx context.Context) error

// Handle is returned by Submit and lets the caller wait for completion or
// cancel the task directly (distinct from pool-driven preemption).
type Handle struct {
	id       uint64
	priority Priority
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// Wait blocks until the task finishes (successfully, with an error, or via
// cancellation) and returns its result.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Cancel preempts this specific task regardless of priority.
func (h *Handle) Cancel() { h.cancel() }

// Done reports whether the task has already finished.
func (h *Handle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type queuedTask struct {
	id       uint64
	priority Priority
	seq      uint64 // FIFO tiebreak within the same priority
	fn       Func
	handle   *Handle
	ctx      context.Context
}

// taskHeap is a max-heap on (priority, then oldest seq first).
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*queuedTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type runningTask struct {
	id       uint64
	priority Priority
	cancel   context.CancelFunc
}

// Pool is the C8 bounded worker pool. Zero value is not usable; build one
// with New or NewDefault.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	running map[uint64]*runningTask
	nextID  uint64
	nextSeq uint64
	closed  bool

	log zerolog.Logger
}

// New builds a pool with exactly workers goroutines. Panics if workers < 1.
func New(workers int) *Pool {
	if workers < 1 {
		panic("taskrunner: workers must be >= 1")
	}
	p := &Pool{
		running: make(map[uint64]*runningTask),
		log:     logging.WithComponent("taskrunner"),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// NewDefault builds a pool sized by DefaultWorkers.
func NewDefault() *Pool { return New(DefaultWorkers()) }

// Submit enqueues fn at the given priority, deriving a cancellable context
// from parent. If every worker is currently busy running a task of strictly
// lower priority, the oldest such running task is preempted (its context is
// cancelled) so a worker frees up for this one as soon as possible.
func (p *Pool) Submit(parent context.Context, priority Priority, fn Func) *Handle {
	ctx, cancel := context.WithCancel(parent)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	seq := p.nextSeq
	p.nextSeq++

	h := &Handle{id: id, priority: priority, cancel: cancel, done: make(chan struct{})}
	heap.Push(&p.queue, &queuedTask{id: id, priority: priority, seq: seq, fn: fn, handle: h, ctx: ctx})

	p.preemptForLocked(priority)
	p.mu.Unlock()

	p.cond.Signal()
	return h
}

// preemptForLocked cancels the lowest-priority currently running task if it
// is strictly lower priority than the newly queued one. Called with mu held.
func (p *Pool) preemptForLocked(priority Priority) {
	var victim *runningTask
	for _, r := range p.running {
		if r.priority < priority && (victim == nil || r.priority < victim.priority) {
			victim = r
		}
	}
	if victim != nil {
		p.log.Info().Uint64("task_id", victim.id).Str("victim_priority", victim.priority.String()).
			Str("new_priority", priority.String()).Msg("preempting lower-priority task")
		victim.cancel()
	}
}

// Close stops accepting new work and cancels every queued and running task.
// It does not wait for running tasks to observe cancellation; callers that
// need that should Wait() on the Handles they care about.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	for p.queue.Len() > 0 {
		t := heap.Pop(&p.queue).(*queuedTask)
		t.handle.cancel()
		t.handle.err = context.Canceled
		close(t.handle.done)
	}
	for _, r := range p.running {
		r.cancel()
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) worker() {
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && p.queue.Len() == 0 {
			p.mu.Unlock()
			return
		}
		t := heap.Pop(&p.queue).(*queuedTask)
		p.running[t.id] = &runningTask{id: t.id, priority: t.priority, cancel: t.handle.cancel}
		p.mu.Unlock()

		err := t.fn(t.ctx)

		p.mu.Lock()
		delete(p.running, t.id)
		p.mu.Unlock()

		t.handle.err = err
		close(t.handle.done)
	}
}

// Len reports the number of tasks currently queued (not yet started).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Running reports the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}
