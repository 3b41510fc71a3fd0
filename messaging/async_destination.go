package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glimte/mmate-bus/contracts"
	"github.com/glimte/mmate-bus/workerpool"
)

// dispatchFunc hands a message to the pool. Serial destinations submit one
// task per message; parallel destinations submit one task per listener,
// each with its own processor instances for the worker side hooks.
type dispatchFunc func(d *AsyncDestination, pool *workerpool.Pool, t deliveryTask) error

// AsyncDestination delivers on a worker pool owned by the destination.
// It backs both serial and parallel destinations.
type AsyncDestination struct {
	baseDestination
	dispatch dispatchFunc

	mu               sync.RWMutex
	pool             *workerpool.Pool
	coreSize         int
	maxSize          int
	maxQueueSize     int
	rejectionHandler contracts.RejectionHandler

	// pools replaced by a reopen; they may still be draining
	retired         []*workerpool.Pool
	completedBefore int64
}

// NewSerialDestination creates a destination that processes one message at
// a time in the order it was sent
func NewSerialDestination(cfg contracts.DestinationConfiguration, opts ...DestinationOption) *AsyncDestination {
	cfg.Type = contracts.DestinationTypeSerial
	return newAsyncDestination(cfg.Normalized(), dispatchSerial, opts...)
}

// NewParallelDestination creates a destination that delivers to each
// listener as a separate task
func NewParallelDestination(cfg contracts.DestinationConfiguration, opts ...DestinationOption) *AsyncDestination {
	cfg.Type = contracts.DestinationTypeParallel
	return newAsyncDestination(cfg.Normalized(), dispatchParallel, opts...)
}

func newAsyncDestination(cfg contracts.DestinationConfiguration, dispatch dispatchFunc, opts ...DestinationOption) *AsyncDestination {
	d := &AsyncDestination{
		baseDestination:  newBaseDestination(cfg.Name, cfg.Type, opts...),
		dispatch:         dispatch,
		coreSize:         cfg.WorkersCoreSize,
		maxSize:          cfg.WorkersMaxSize,
		maxQueueSize:     cfg.MaxQueueSize,
		rejectionHandler: cfg.RejectionHandler,
	}
	if d.rejectionHandler == nil {
		d.rejectionHandler = contracts.RejectionHandlerFunc(d.discard)
	}
	return d
}

func (d *AsyncDestination) discard(destinationName string, msg *contracts.Message) {
	d.logger.Warn("Discarding message because it exceeds the maximum queue size",
		"maxQueueSize", d.MaximumQueueSize(), "message", msg)
}

// Open starts the worker pool. Opening an open destination does nothing;
// opening a closed one starts a fresh pool.
func (d *AsyncDestination) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil && !d.pool.IsShutdown() {
		return nil
	}
	if d.pool != nil {
		d.retirePoolLocked(d.pool)
	}

	pool, err := workerpool.New(d.coreSize, d.maxSize, d.maxQueueSize,
		workerpool.WithName(d.name),
		workerpool.WithLogger(d.logger),
		workerpool.WithRejectionHandler(workerpool.RejectionHandlerFunc(d.rejected)),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", contracts.ErrInvalidConfiguration, d.name, err)
	}
	d.pool = pool
	return nil
}

// retirePoolLocked keeps counting the tasks a closed pool still completes.
// Pools that have terminated are folded into completedBefore.
func (d *AsyncDestination) retirePoolLocked(pool *workerpool.Pool) {
	draining := d.retired[:0]
	for _, p := range append(d.retired, pool) {
		if p.IsTerminated() {
			d.completedBefore += p.Stats().CompletedCount
			continue
		}
		draining = append(draining, p)
	}
	d.retired = draining
}

func (d *AsyncDestination) completedLocked() int64 {
	n := d.completedBefore
	for _, p := range d.retired {
		n += p.Stats().CompletedCount
	}
	return n
}

func (d *AsyncDestination) rejected(task workerpool.Task, _ *workerpool.Pool) {
	t, ok := task.(*deliveryTask)
	if !ok {
		return
	}

	d.mu.RLock()
	handler := d.rejectionHandler
	d.mu.RUnlock()

	handler.MessageRejected(d.name, t.msg)
}

// Close stops the pool. A graceful close lets queued messages finish; a
// forced close drops them and cancels the context of running listeners.
func (d *AsyncDestination) Close(force bool) {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()

	if pool == nil || pool.IsShutdown() {
		return
	}

	if force {
		dropped := pool.ShutdownNow()
		if len(dropped) > 0 {
			d.logger.Warn("Dropped queued messages on forced close", "count", len(dropped))
		}
		return
	}
	pool.Shutdown()
}

// AwaitTermination waits for the workers of a closed destination to exit
func (d *AsyncDestination) AwaitTermination(ctx context.Context) error {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()

	if pool == nil {
		return nil
	}
	return pool.AwaitTermination(ctx)
}

// IsOpen reports whether the pool is running
func (d *AsyncDestination) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pool != nil && !d.pool.IsShutdown()
}

// Send runs the BeforeReceive hooks, hands the message to the pool and runs
// the AfterReceive hooks, all on the calling goroutine. A message the pool
// cannot accept goes to the rejection handler and Send still returns nil.
func (d *AsyncDestination) Send(ctx context.Context, msg *contracts.Message) error {
	listeners := d.listeners.Values()
	if len(listeners) == 0 {
		d.logger.Debug("No message listeners for destination")
		return nil
	}

	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()

	if pool == nil || pool.IsShutdown() {
		return fmt.Errorf("%w: %s", contracts.ErrDestinationClosed, d.name)
	}

	processors := d.InboundMessageProcessors()
	msg = d.beforeReceive(ctx, processors, msg)
	defer d.afterReceive(ctx, processors, msg)

	return d.dispatch(d, pool, deliveryTask{
		dest:       d,
		sendCtx:    ctx,
		msg:        msg,
		processors: processors,
		listeners:  listeners,
	})
}

func dispatchSerial(d *AsyncDestination, pool *workerpool.Pool, t deliveryTask) error {
	return d.execute(pool, &t)
}

func dispatchParallel(d *AsyncDestination, pool *workerpool.Pool, t deliveryTask) error {
	for _, listener := range t.listeners {
		task := t
		task.listeners = []contracts.MessageListener{listener}
		task.processors = d.InboundMessageProcessors()
		if err := d.execute(pool, &task); err != nil {
			return err
		}
	}
	return nil
}

func (d *AsyncDestination) execute(pool *workerpool.Pool, task *deliveryTask) error {
	err := pool.Execute(task)
	switch {
	case err == nil, errors.Is(err, workerpool.ErrRejected):
		return nil
	case errors.Is(err, workerpool.ErrShutdown):
		return fmt.Errorf("%w: %s", contracts.ErrDestinationClosed, d.name)
	default:
		return err
	}
}

// SetWorkersCoreSize changes the core worker count of the live pool. Serial
// destinations always use a single worker and ignore this.
func (d *AsyncDestination) SetWorkersCoreSize(n int) error {
	if d.typ == contracts.DestinationTypeSerial {
		d.logger.Warn("Ignoring workers core size change for serial destination", "requested", n)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		if err := d.pool.SetCoreSize(n); err != nil {
			return err
		}
	}
	d.coreSize = n
	return nil
}

// SetWorkersMaxSize changes the maximum worker count of the live pool.
// Serial destinations always use a single worker and ignore this.
func (d *AsyncDestination) SetWorkersMaxSize(n int) error {
	if d.typ == contracts.DestinationTypeSerial {
		d.logger.Warn("Ignoring workers max size change for serial destination", "requested", n)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		if err := d.pool.SetMaxSize(n); err != nil {
			return err
		}
	}
	d.maxSize = n
	return nil
}

// SetMaximumQueueSize changes the queue bound. It applies the next time the
// destination is opened.
func (d *AsyncDestination) SetMaximumQueueSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxQueueSize = n
}

// MaximumQueueSize returns the configured queue bound, zero meaning unbounded
func (d *AsyncDestination) MaximumQueueSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.maxQueueSize
}

// SetRejectionHandler replaces the handler for messages the pool rejects
func (d *AsyncDestination) SetRejectionHandler(handler contracts.RejectionHandler) {
	if handler == nil {
		handler = contracts.RejectionHandlerFunc(d.discard)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejectionHandler = handler
}

// Statistics reports the pool counters
func (d *AsyncDestination) Statistics() contracts.DestinationStatistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.pool == nil {
		return contracts.DestinationStatistics{
			MaxThreadPoolSize: d.maxSize,
			MinThreadPoolSize: d.coreSize,
			SentMessageCount:  d.completedLocked(),
		}
	}

	s := d.pool.Stats()
	return contracts.DestinationStatistics{
		ActiveThreadCount:   s.ActiveCount,
		CurrentThreadCount:  s.PoolSize,
		LargestThreadCount:  s.LargestSize,
		MaxThreadPoolSize:   s.MaxSize,
		MinThreadPoolSize:   s.CoreSize,
		PendingMessageCount: int64(s.PendingCount),
		SentMessageCount:    d.completedLocked() + s.CompletedCount,
	}
}

// deliveryTask is one unit of pool work
type deliveryTask struct {
	dest       *AsyncDestination
	sendCtx    context.Context
	msg        *contracts.Message
	processors []contracts.InboundMessageProcessor
	listeners  []contracts.MessageListener
}

// Message returns the message the task delivers
func (t *deliveryTask) Message() *contracts.Message {
	return t.msg
}

// Run keeps the values of the sending context but takes cancellation from
// the pool, so a forced close reaches listeners and a finished caller does not.
func (t *deliveryTask) Run(poolCtx context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(t.sendCtx))
	stop := context.AfterFunc(poolCtx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	d := t.dest
	msg := d.beforeThread(ctx, t.processors, t.msg)
	defer d.afterThread(ctx, t.processors, msg)

	d.deliverAll(ctx, t.listeners, msg)
}
