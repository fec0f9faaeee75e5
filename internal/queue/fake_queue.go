package queue

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"
)

// FakeQueue is an in-process, mutex-guarded stand-in for RedisQueue,
// used by tests that exercise worker/API logic without a live Redis.
// It implements the same state machine (waiting/active/delayed/dead)
// but holds everything in memory.
type FakeQueue struct {
	mu     sync.Mutex
	jobs   map[string]map[string]*Job // queue -> jobID -> job
	dead   map[string][]Job           // queue -> dead-lettered jobs
	paused map[string]bool
	seq    int
}

// NewFakeQueue returns an empty FakeQueue.
func NewFakeQueue() *FakeQueue {
	return &FakeQueue{
		jobs:   make(map[string]map[string]*Job),
		dead:   make(map[string][]Job),
		paused: make(map[string]bool),
	}
}

func (f *FakeQueue) queueMap(queue string) map[string]*Job {
	m, ok := f.jobs[queue]
	if !ok {
		m = make(map[string]*Job)
		f.jobs[queue] = m
	}
	return m
}

func (f *FakeQueue) Enqueue(ctx context.Context, queue string, payload interface{}, opts EnqueueOptions) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	jobID := opts.JobID
	if jobID == "" {
		jobID = "job-" + time.Now().Format("150405.000000") + "-" + strconv.Itoa(f.seq)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	now := time.Now()
	status := StatusWaiting
	runAt := now
	if opts.Delay > 0 {
		status = StatusDelayed
		runAt = now.Add(opts.Delay)
	}

	job := &Job{
		ID:          jobID,
		Queue:       queue,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		Timeout:     timeout,
		Priority:    opts.Priority,
		Status:      status,
		CreatedAt:   now,
		EnqueuedAt:  runAt,
	}
	f.queueMap(queue)[jobID] = job
	return cloneJob(job), nil
}

// Dequeue returns the highest-priority, earliest-enqueued waiting job
// whose runAt (for delayed jobs) has passed.
func (f *FakeQueue) Dequeue(ctx context.Context, queue string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused[queue] {
		return nil, nil
	}

	now := time.Now()
	var candidates []*Job
	for _, j := range f.queueMap(queue) {
		if j.Status == StatusWaiting && !j.EnqueuedAt.After(now) {
			candidates = append(candidates, j)
		}
		if j.Status == StatusDelayed && !j.EnqueuedAt.After(now) {
			j.Status = StatusWaiting
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].EnqueuedAt.Before(candidates[k].EnqueuedAt)
	})

	job := candidates[0]
	job.Attempts++
	job.Status = StatusActive
	return cloneJob(job), nil
}

func (f *FakeQueue) Heartbeat(ctx context.Context, queue, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queueMap(queue)[jobID]; !ok {
		return ErrNotFound
	}
	return nil
}

func (f *FakeQueue) Complete(ctx context.Context, queue, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.queueMap(queue)
	if _, ok := m[jobID]; !ok {
		return ErrNotFound
	}
	delete(m, jobID)
	return nil
}

func (f *FakeQueue) Fail(ctx context.Context, queue, jobID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.queueMap(queue)
	job, ok := m[jobID]
	if !ok {
		return ErrNotFound
	}
	job.FailReason = reason

	if job.Attempts >= job.MaxAttempts {
		dlID := "dl-" + jobID + "-" + strconv.Itoa(int(time.Now().UnixNano()%1_000_000))
		dead := *job
		dead.ID = dlID
		dead.Status = StatusDead
		f.dead[queue] = append(f.dead[queue], dead)
		delete(m, jobID)
		return nil
	}

	job.Status = StatusDelayed
	job.EnqueuedAt = time.Now().Add(Backoff(job.BackoffBase, job.Attempts))
	return nil
}

func (f *FakeQueue) SetProgress(ctx context.Context, queue, jobID string, pct int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.queueMap(queue)[jobID]
	if !ok {
		return ErrNotFound
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	job.Progress = pct
	return nil
}

func (f *FakeQueue) GetJob(ctx context.Context, queue, jobID string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.queueMap(queue)[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// CheckStalled is a no-op for FakeQueue: tests that exercise stall
// recovery drive it explicitly via Fail, since there is no real lease
// clock to expire in-process.
func (f *FakeQueue) CheckStalled(ctx context.Context, queue string) (int, error) {
	return 0, nil
}

func (f *FakeQueue) ListDeadLetters(ctx context.Context, queue string, limit int) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dead := f.dead[queue]
	if limit > 0 && limit < len(dead) {
		dead = dead[len(dead)-limit:]
	}
	out := make([]Job, len(dead))
	copy(out, dead)
	return out, nil
}

func (f *FakeQueue) Pause(ctx context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[queue] = true
	return nil
}

func (f *FakeQueue) Resume(ctx context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[queue] = false
	return nil
}

func (f *FakeQueue) Metrics(ctx context.Context, queue string) (*Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &Metrics{Queue: queue, Paused: f.paused[queue]}
	for _, j := range f.queueMap(queue) {
		switch j.Status {
		case StatusWaiting:
			m.Waiting++
		case StatusActive:
			m.Active++
		case StatusDelayed:
			m.Delayed++
		}
	}
	return m, nil
}

func (f *FakeQueue) Health(ctx context.Context) error { return nil }

func (f *FakeQueue) Close() error { return nil }

func cloneJob(j *Job) *Job {
	cp := *j
	return &cp
}
