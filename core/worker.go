package core

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"logwarden/metrics"
	"logwarden/util/goroutine"

	"go.uber.org/zap"
)

var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)

// defaultDrainTimeout bounds how long Stop waits for in-flight detection passes.
const defaultDrainTimeout = 30 * time.Second

var poolLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Task is a unit of background work. ctx is cancelled when the pool stops.
type Task func(ctx context.Context)

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolStopped
)

// WorkerPool runs detection passes and other background tasks on a fixed
// number of goroutines fed from a bounded queue.
type WorkerPool struct {
	workers      int
	queue        chan Task
	label        string
	drainTimeout time.Duration
	logger       *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	state     poolState
	processed atomic.Int64
	panicked  atomic.Int64
}

// NewWorkerPool creates a pool bound to parentCtx. Nothing runs until Start.
//
//	wp := NewWorkerPool(appCtx, 2, 16, "detection", logger)
//	if err := wp.Start(); err != nil {
//	    return err
//	}
//	defer wp.Stop()
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, label string, logger *zap.SugaredLogger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)
	if !poolLabelPattern.MatchString(label) {
		if label != "" {
			logger.Warnw("Invalid pool label, falling back to default", "label", label)
		}
		label = "default"
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:      workers,
		queue:        make(chan Task, queueSize),
		label:        label,
		drainTimeout: defaultDrainTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the workers. Calling it on a running pool is a no-op; a
// stopped pool cannot be restarted.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	switch {
	case wp.state == poolRunning:
		return nil
	case wp.state == poolStopped, wp.ctx.Err() != nil:
		return ErrWorkerPoolNotRunning
	}

	wp.state = poolRunning
	wp.logger.Infow("Starting worker pool", "pool", wp.label, "workers", wp.workers, "queue_size", cap(wp.queue))
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.label).Set(float64(wp.workers))

	wp.wg.Add(wp.workers)
	for id := range wp.workers {
		go wp.loop(id)
	}
	return nil
}

// Stop cancels the pool context and waits up to the drain timeout for
// running tasks. Tasks still queued are run with the cancelled context so
// they can report failure. Repeated calls are no-ops.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	prev := wp.state
	wp.state = poolStopped
	wp.cancel()
	if prev == poolRunning {
		close(wp.queue)
	}
	wp.mu.Unlock()

	if prev != poolRunning {
		return
	}

	wp.logger.Infow("Stopping worker pool", "pool", wp.label)
	drained := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.label).Set(0)
		wp.logger.Infow("Worker pool stopped", "pool", wp.label, "processed", wp.processed.Load())
	case <-time.After(wp.drainTimeout):
		wp.logger.Errorw("Worker pool did not drain in time", "pool", wp.label, "timeout", wp.drainTimeout)
	}

	// The queue is closed, so this only sees tasks no worker picked up.
	for task := range wp.queue {
		wp.execute(-1, task)
	}
}

// Submit enqueues task without blocking.
func (wp *WorkerPool) Submit(task Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.state != poolRunning || wp.ctx.Err() != nil {
		return ErrWorkerPoolNotRunning
	}
	select {
	case wp.queue <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.label).Set(float64(len(wp.queue)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// Done is closed once the pool has been stopped or its parent cancelled.
func (wp *WorkerPool) Done() <-chan struct{} {
	return wp.ctx.Done()
}

// WorkerPoolStats is a point-in-time view of a pool.
type WorkerPoolStats struct {
	Workers     int   `json:"workers"`
	QueueSize   int   `json:"queue_size"`
	QueuedTasks int   `json:"queued_tasks"`
	Running     bool  `json:"running"`
	Processed   int64 `json:"processed"`
	Panicked    int64 `json:"panicked"`
}

func (wp *WorkerPool) Stats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   cap(wp.queue),
		QueuedTasks: len(wp.queue),
		Running:     wp.state == poolRunning,
		Processed:   wp.processed.Load(),
		Panicked:    wp.panicked.Load(),
	}
}

func (wp *WorkerPool) loop(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.label, wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			wp.drain(id)
			return
		case task, ok := <-wp.queue:
			if !ok {
				return
			}
			wp.execute(id, task)
		}
	}
}

// drain runs whatever is queued right now with the cancelled context.
func (wp *WorkerPool) drain(id int) {
	for {
		select {
		case task, ok := <-wp.queue:
			if !ok {
				return
			}
			wp.execute(id, task)
		default:
			return
		}
	}
}

// execute runs one task, containing panics so the worker survives.
func (wp *WorkerPool) execute(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.panicked.Add(1)
			wp.logger.Errorw("Task panicked", "pool", wp.label, "worker_id", id, "panic", r)
		}
	}()
	task(wp.ctx)
	wp.processed.Add(1)
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.label).Inc()
}
