// Package queue implements the durable, Redis-backed job queue that
// connects the API gateway to the render and analyze workers: two
// logically separate queues (scan-queue, analysis-queue) sharing one
// backing store, with retries, exponential backoff, delayed jobs,
// stalled-job detection, a dead-letter queue, and per-job progress.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	ScanQueueName     = "scan-queue"
	AnalysisQueueName = "analysis-queue"
)

// JobStatus is the closed set of lifecycle states a Job may be in.
type JobStatus string

const (
	StatusWaiting JobStatus = "waiting"
	StatusActive  JobStatus = "active"
	StatusDelayed JobStatus = "delayed"
	StatusStalled JobStatus = "stalled"
	StatusDone    JobStatus = "completed"
	StatusFailed  JobStatus = "failed"
	StatusDead    JobStatus = "dead"
)

var (
	ErrNotFound    = errors.New("job not found")
	ErrQueuePaused = errors.New("queue is paused")
)

// Job is a unit of work on a queue. ID equals the scanId for primary
// jobs; dead-lettered copies are reassigned "dl-{scanId}-{ts}".
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	BackoffBase time.Duration   `json:"backoffBase"`
	Timeout     time.Duration   `json:"timeout"`
	Priority    int             `json:"priority"`
	Progress    int             `json:"progress"`
	Status      JobStatus       `json:"status"`
	StalledCount int            `json:"stalledCount"`
	CreatedAt   time.Time       `json:"createdAt"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	FailReason  string          `json:"failReason,omitempty"`
}

// EnqueueOptions customizes a single Enqueue call. Zero values fall
// back to the queue's configured defaults.
type EnqueueOptions struct {
	JobID       string
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
	Priority    int
	Delay       time.Duration
}

// Backoff computes the exponential retry delay for attempt n (1-based):
// D * 2^(n-1), per spec.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Metrics is a point-in-time snapshot of one queue's state.
type Metrics struct {
	Queue             string  `json:"queue"`
	Waiting           int64   `json:"waiting"`
	Active            int64   `json:"active"`
	Delayed           int64   `json:"delayed"`
	Completed         int64   `json:"completed"`
	Failed            int64   `json:"failed"`
	Paused            bool    `json:"paused"`
	AvgProcessingMs    float64 `json:"avgProcessingMs"`
	ThroughputLastHour int64   `json:"throughputLastHour"`
	ErrorRateLastHour  float64 `json:"errorRateLastHour"`
	RetryRateLastHour  float64 `json:"retryRateLastHour"`
}

// Queue is the interface workers, the API gateway, and tests program
// against. RedisQueue is the production implementation; FakeQueue is
// an in-process stand-in for tests that don't want a live Redis.
type Queue interface {
	Enqueue(ctx context.Context, queue string, payload interface{}, opts EnqueueOptions) (*Job, error)

	// Dequeue reserves the next eligible job on queue, if any, holding
	// a lease for the queue's visibility timeout. Returns (nil, nil)
	// when the queue is empty.
	Dequeue(ctx context.Context, queue string) (*Job, error)

	// Heartbeat extends a held job's lease; workers call this
	// periodically during long-running processing.
	Heartbeat(ctx context.Context, queue, jobID string) error

	Complete(ctx context.Context, queue, jobID string) error
	Fail(ctx context.Context, queue, jobID string, reason string) error
	SetProgress(ctx context.Context, queue, jobID string, pct int) error
	GetJob(ctx context.Context, queue, jobID string) (*Job, error)

	// CheckStalled scans for jobs whose lease has expired without a
	// heartbeat and requeues or dead-letters them. Intended to run on
	// a ticker at the queue's StalledCheckEvery interval.
	CheckStalled(ctx context.Context, queue string) (int, error)

	ListDeadLetters(ctx context.Context, queue string, limit int) ([]Job, error)

	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error

	Metrics(ctx context.Context, queue string) (*Metrics, error)
	Health(ctx context.Context) error
	Close() error
}
