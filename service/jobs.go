package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"logwarden/core"
	"logwarden/metrics"
	"logwarden/util/goroutine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobKind names the work a job performs.
type JobKind string

const (
	JobRunRules     JobKind = "rules"
	JobRunAnomalies JobKind = "anomalies"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobFunc is the body of a job. progress publishes human-readable updates.
type JobFunc func(ctx context.Context, progress func(string)) (any, error)

// Job is a handle on background work. Done is closed when the job finishes;
// Progress delivers updates and is closed at the same time.
type Job struct {
	ID   string
	Kind JobKind

	mu          sync.RWMutex
	status      JobStatus
	result      any
	err         error
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time

	done     chan struct{}
	progress chan string
}

// JobSnapshot is a point-in-time copy of a job, safe to serialize.
type JobSnapshot struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Status      JobStatus  `json:"status"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Progress delivers progress updates. Updates are dropped when nobody reads.
func (j *Job) Progress() <-chan string { return j.progress }

// Result returns the job's outcome. It is only meaningful after Done.
func (j *Job) Result() (any, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result, j.err
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		return j.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := JobSnapshot{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.status,
		Result:      j.result,
		SubmittedAt: j.submittedAt,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

func (j *Job) publish(msg string) {
	select {
	case j.progress <- msg:
	default:
	}
}

func (j *Job) setRunning() {
	j.mu.Lock()
	j.status = JobRunning
	j.startedAt = time.Now()
	j.mu.Unlock()
}

func (j *Job) finish(result any, err error) {
	j.mu.Lock()
	if !j.finishedAt.IsZero() {
		j.mu.Unlock()
		return
	}
	j.result, j.err = result, err
	j.status = JobSucceeded
	if err != nil {
		j.status = JobFailed
	}
	j.finishedAt = time.Now()
	j.mu.Unlock()
	close(j.progress)
	close(j.done)
}

// Jobs runs jobs on a worker pool and keeps recent handles for lookup.
type Jobs struct {
	pool    *core.WorkerPool
	logger  *zap.SugaredLogger
	retain  int
	mu      sync.RWMutex
	entries map[string]*Job
}

// NewJobs creates a job runner over pool. It keeps at most retain finished
// jobs for lookup.
func NewJobs(pool *core.WorkerPool, retain int, logger *zap.SugaredLogger) *Jobs {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if retain <= 0 {
		retain = 100
	}
	return &Jobs{pool: pool, logger: logger, retain: retain, entries: make(map[string]*Job)}
}

// Submit queues fn and returns its handle. A panic in fn fails the job.
func (js *Jobs) Submit(kind JobKind, fn JobFunc) (*Job, error) {
	job := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		status:      JobQueued,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
		progress:    make(chan string, 16),
	}

	js.mu.Lock()
	js.entries[job.ID] = job
	js.pruneLocked()
	js.mu.Unlock()

	err := js.pool.Submit(func(ctx context.Context) {
		if err := ctx.Err(); err != nil {
			js.logger.Warnw("Job abandoned at shutdown", "job_id", job.ID, "kind", kind)
			job.finish(nil, fmt.Errorf("%s job not started: %w", kind, err))
			return
		}
		job.setRunning()
		result, err := js.run(ctx, job, fn)
		if err != nil {
			js.logger.Errorw("Job failed", "job_id", job.ID, "kind", kind, "error", err)
		} else {
			js.logger.Infow("Job finished", "job_id", job.ID, "kind", kind)
		}
		job.finish(result, err)
	})
	if err != nil {
		js.mu.Lock()
		delete(js.entries, job.ID)
		js.mu.Unlock()
		return nil, fmt.Errorf("submit %s job: %w", kind, err)
	}

	metrics.JobsSubmitted.WithLabelValues(string(kind)).Inc()
	return job, nil
}

func (js *Jobs) run(ctx context.Context, job *Job, fn JobFunc) (result any, err error) {
	defer goroutine.RecoverInto("job-"+string(job.Kind), js.logger, &err)
	return fn(ctx, job.publish)
}

// Get returns the job with id.
func (js *Jobs) Get(id string) (*Job, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	job, ok := js.entries[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// pruneLocked drops the oldest finished jobs beyond the retention limit.
func (js *Jobs) pruneLocked() {
	if len(js.entries) <= js.retain {
		return
	}
	var finished []*Job
	for _, j := range js.entries {
		select {
		case <-j.done:
			finished = append(finished, j)
		default:
		}
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].submittedAt.Before(finished[b].submittedAt)
	})
	for _, j := range finished {
		if len(js.entries) <= js.retain {
			return
		}
		delete(js.entries, j.ID)
	}
}
