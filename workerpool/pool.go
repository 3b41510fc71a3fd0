// Package workerpool runs tasks on a bounded set of goroutines fed by a
// bounded FIFO queue.
//
// A pool keeps between core and max workers. Execute starts a new worker
// while fewer than core are running, queues the task while the queue has
// room, starts workers up to max once the queue is full, and hands the
// task to the RejectionHandler when all of that fails. Workers above core
// exit after sitting idle for the keep-alive period. Core and max sizes can
// be changed while the pool is running.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrRejected    = errors.New("workerpool: task rejected")
	ErrShutdown    = errors.New("workerpool: pool is shut down")
	ErrInvalidSize = errors.New("workerpool: invalid pool size")
	ErrNilTask     = errors.New("workerpool: task cannot be nil")
)

// DefaultKeepAlive is how long a worker above core size waits for work
const DefaultKeepAlive = 60 * time.Second

// Task is a unit of work. The context is cancelled by ShutdownNow.
type Task interface {
	Run(ctx context.Context)
}

// TaskFunc is a function adapter for Task
type TaskFunc func(ctx context.Context)

// Run implements Task
func (f TaskFunc) Run(ctx context.Context) {
	f(ctx)
}

// RejectionHandler decides what happens to a task the pool cannot accept
type RejectionHandler interface {
	Rejected(task Task, pool *Pool)
}

// RejectionHandlerFunc is a function adapter for RejectionHandler
type RejectionHandlerFunc func(task Task, pool *Pool)

// Rejected implements RejectionHandler
func (f RejectionHandlerFunc) Rejected(task Task, pool *Pool) {
	f(task, pool)
}

// DiscardPolicy silently drops rejected tasks
var DiscardPolicy RejectionHandler = RejectionHandlerFunc(func(Task, *Pool) {})

// Stats is a snapshot of pool counters
type Stats struct {
	ActiveCount    int
	PoolSize       int
	LargestSize    int
	CoreSize       int
	MaxSize        int
	QueueCapacity  int
	PendingCount   int
	CompletedCount int64
}

type state int

const (
	stateRunning state = iota
	stateShutdown
	stateStopped
)

// Option configures a Pool
type Option func(*Pool)

// WithKeepAlive sets how long idle workers above core size live
func WithKeepAlive(d time.Duration) Option {
	return func(p *Pool) {
		p.keepAlive = d
	}
}

// WithRejectionHandler sets the handler for rejected tasks
func WithRejectionHandler(handler RejectionHandler) Option {
	return func(p *Pool) {
		p.handler = handler
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithName labels the pool in log output
func WithName(name string) Option {
	return func(p *Pool) {
		p.name = name
	}
}

// Pool is a resizable worker pool with a bounded queue
type Pool struct {
	name      string
	logger    *slog.Logger
	handler   RejectionHandler
	keepAlive time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	state     state
	queue     []Task
	queueCap  int
	core      int
	max       int
	workers   int
	active    int
	largest   int
	completed int64

	ctx        context.Context
	cancel     context.CancelFunc
	terminated chan struct{}
	termOnce   sync.Once
}

// New creates a pool. A queueCapacity of zero means unbounded.
func New(coreSize, maxSize, queueCapacity int, opts ...Option) (*Pool, error) {
	if coreSize < 0 || maxSize < 1 || maxSize < coreSize || queueCapacity < 0 {
		return nil, fmt.Errorf("%w: core=%d max=%d queue=%d", ErrInvalidSize, coreSize, maxSize, queueCapacity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:     slog.Default(),
		handler:    DiscardPolicy,
		keepAlive:  DefaultKeepAlive,
		queueCap:   queueCapacity,
		core:       coreSize,
		max:        maxSize,
		ctx:        ctx,
		cancel:     cancel,
		terminated: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Execute schedules task. It never blocks on a full pool: the task is
// handed to the rejection handler and ErrRejected (or ErrShutdown) is
// returned instead.
func (p *Pool) Execute(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		p.handler.Rejected(task, p)
		return ErrShutdown
	}

	if p.workers < p.core {
		p.startWorkerLocked(task)
		p.mu.Unlock()
		return nil
	}

	if p.queueCap == 0 || len(p.queue) < p.queueCap {
		p.queue = append(p.queue, task)
		if p.workers == 0 {
			p.startWorkerLocked(nil)
		}
		p.cond.Signal()
		p.mu.Unlock()
		return nil
	}

	if p.workers < p.max {
		p.startWorkerLocked(task)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.handler.Rejected(task, p)
	return ErrRejected
}

func (p *Pool) startWorkerLocked(first Task) {
	p.workers++
	if p.workers > p.largest {
		p.largest = p.workers
	}
	if first != nil {
		p.active++
	}
	go p.worker(first)
}

func (p *Pool) worker(task Task) {
	for {
		if task == nil {
			if task = p.take(); task == nil {
				return
			}
		}
		p.run(task)
		task = nil
	}
}

// run executes a task already counted as active
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", "pool", p.name, "panic", r)
		}
		p.mu.Lock()
		p.active--
		p.completed++
		p.mu.Unlock()
	}()

	task.Run(p.ctx)
}

// take blocks until a task is available or the worker should exit, in
// which case it returns nil after deregistering the worker.
func (p *Pool) take() Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		timer    *time.Timer
		deadline time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		switch {
		case p.state == stateStopped,
			p.state == stateShutdown && len(p.queue) == 0,
			p.workers > p.max && (p.workers > 1 || len(p.queue) == 0):
			p.exitLocked()
			return nil
		}

		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.active++
			return task
		}

		if p.workers > p.core {
			if deadline.IsZero() {
				deadline = time.Now().Add(p.keepAlive)
				timer = time.AfterFunc(p.keepAlive, p.cond.Broadcast)
			} else if !time.Now().Before(deadline) {
				p.exitLocked()
				return nil
			}
		} else if !deadline.IsZero() {
			deadline = time.Time{}
			timer.Stop()
			timer = nil
		}

		p.cond.Wait()
	}
}

func (p *Pool) exitLocked() {
	p.workers--
	if p.workers == 0 && p.state != stateRunning {
		p.terminate()
	}
}

func (p *Pool) terminate() {
	p.termOnce.Do(func() {
		close(p.terminated)
	})
}

// SetCoreSize changes the core size. Growing it starts workers for queued
// tasks right away; shrinking it lets idle workers time out.
func (p *Pool) SetCoreSize(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 0 || n > p.max {
		return fmt.Errorf("%w: core=%d max=%d", ErrInvalidSize, n, p.max)
	}

	delta := n - p.core
	p.core = n

	if p.state != stateRunning {
		return nil
	}
	if delta < 0 {
		p.cond.Broadcast()
		return nil
	}

	for k := min(delta, len(p.queue)); k > 0 && p.workers < p.core; k-- {
		p.startWorkerLocked(nil)
	}
	return nil
}

// SetMaxSize changes the maximum size. Shrinking it makes surplus workers
// exit once they are idle.
func (p *Pool) SetMaxSize(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 1 || n < p.core {
		return fmt.Errorf("%w: core=%d max=%d", ErrInvalidSize, p.core, n)
	}

	p.max = n
	if p.workers > n {
		p.cond.Broadcast()
	}
	return nil
}

// CoreSize returns the core size
func (p *Pool) CoreSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.core
}

// MaxSize returns the maximum size
func (p *Pool) MaxSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// Shutdown stops accepting tasks. Queued and running tasks complete.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateRunning {
		p.state = stateShutdown
	}
	p.cond.Broadcast()
	if p.workers == 0 {
		p.terminate()
	}
}

// ShutdownNow stops accepting tasks, cancels the context of running tasks
// and returns the tasks that never started.
func (p *Pool) ShutdownNow() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = stateStopped
	dropped := p.queue
	p.queue = nil
	p.cancel()
	p.cond.Broadcast()
	if p.workers == 0 {
		p.terminate()
	}
	return dropped
}

// AwaitTermination blocks until every worker has exited or ctx is done
func (p *Pool) AwaitTermination(ctx context.Context) error {
	select {
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown or ShutdownNow was called
func (p *Pool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != stateRunning
}

// IsTerminated reports whether the pool is shut down and all workers exited
func (p *Pool) IsTerminated() bool {
	select {
	case <-p.terminated:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		ActiveCount:    p.active,
		PoolSize:       p.workers,
		LargestSize:    p.largest,
		CoreSize:       p.core,
		MaxSize:        p.max,
		QueueCapacity:  p.queueCap,
		PendingCount:   len(p.queue),
		CompletedCount: p.completed,
	}
}
