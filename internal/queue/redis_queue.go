package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"surfacescan/internal/config"
)

// maxStalledCount bounds how many times a job may be recovered from a
// stalled lease before it is treated as a hard failure, per spec §4.2.
const maxStalledCount = 3

// RedisQueue is the production Queue backed by Redis sorted sets and
// hashes. Layout per logical queue `q` under key prefix `p`:
//
//	p:q:waiting   zset  member=jobID score=priority-weighted enqueue time
//	p:q:delayed   zset  member=jobID score=runAt (unix millis)
//	p:q:active    zset  member=jobID score=lease expiry (unix millis)
//	p:q:dlq       zset  member=jobID score=failedAt (unix millis)
//	p:q:job:{id}  hash  full Job, JSON-encoded under field "data"
//	p:q:paused    string "1" when paused
//	p:q:stats:*   counters for completed/failed/processing-time ring
type RedisQueue struct {
	client *redis.Client
	prefix string
	cfg    *config.QueueConfig
	logger *zap.Logger

	metricsAlive atomic.Bool
	stopOnce     sync.Once
	stopCh       chan struct{}
}

// NewRedisQueue dials Redis and starts the background metrics-liveness
// heartbeat the health check reports on.
func NewRedisQueue(cfg *config.QueueConfig, logger *zap.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	q := &RedisQueue{
		client: client,
		prefix: cfg.KeyPrefix,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	q.metricsAlive.Store(true)
	go q.metricsLoop()
	return q, nil
}

func (q *RedisQueue) metricsLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.metricsAlive.Store(true)
		case <-q.stopCh:
			return
		}
	}
}

func (q *RedisQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stopCh) })
	return q.client.Close()
}

func (q *RedisQueue) key(queue, suffix string) string {
	if q.prefix == "" {
		return fmt.Sprintf("%s:%s", queue, suffix)
	}
	return fmt.Sprintf("%s:%s:%s", q.prefix, queue, suffix)
}

func (q *RedisQueue) jobKey(queue, jobID string) string {
	return q.key(queue, "job:"+jobID)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (q *RedisQueue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.HSet(ctx, q.jobKey(job.Queue, job.ID), "data", data).Err()
}

func (q *RedisQueue) loadJob(ctx context.Context, queue, jobID string) (*Job, error) {
	data, err := q.client.HGet(ctx, q.jobKey(queue, jobID), "data").Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Enqueue adds a job to the waiting set (or the delayed set, if
// opts.Delay is set). Priority is folded into the waiting-set score so
// higher-priority jobs pop first; equal priority is FIFO by enqueue
// time, per spec §4.2 ordering guarantees.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts EnqueueOptions) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxRetries
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = q.cfg.BaseBackoff
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	now := time.Now()
	job := &Job{
		ID:          jobID,
		Queue:       queueName,
		Payload:     raw,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		Timeout:     timeout,
		Priority:    opts.Priority,
		Status:      StatusWaiting,
		CreatedAt:   now,
		EnqueuedAt:  now,
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	if opts.Delay > 0 {
		job.Status = StatusDelayed
		if err := q.saveJob(ctx, job); err != nil {
			return nil, err
		}
		runAt := now.Add(opts.Delay).UnixMilli()
		if err := q.client.ZAdd(ctx, q.key(queueName, "delayed"), redis.Z{Score: float64(runAt), Member: jobID}).Err(); err != nil {
			return nil, err
		}
		return job, nil
	}

	score := waitingScore(opts.Priority, now)
	if err := q.client.ZAdd(ctx, q.key(queueName, "waiting"), redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// waitingScore folds priority into the FIFO ordering: higher priority
// subtracts a large offset so it sorts before lower-priority jobs
// enqueued earlier, while same-priority jobs remain ordered by time.
func waitingScore(priority int, t time.Time) float64 {
	const priorityWeight = 1e13
	return float64(t.UnixMilli()) - float64(priority)*priorityWeight
}

func (q *RedisQueue) promoteDueDelayed(ctx context.Context, queueName string) error {
	due, err := q.client.ZRangeByScore(ctx, q.key(queueName, "delayed"), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(nowMillis(), 10),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}
	for _, jobID := range due {
		job, err := q.loadJob(ctx, queueName, jobID)
		if err != nil {
			continue
		}
		job.Status = StatusWaiting
		if err := q.saveJob(ctx, job); err != nil {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key(queueName, "delayed"), jobID)
		pipe.ZAdd(ctx, q.key(queueName, "waiting"), redis.Z{Score: waitingScore(job.Priority, time.Now()), Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	paused, err := q.client.Exists(ctx, q.key(queueName, "paused")).Result()
	if err != nil {
		return nil, err
	}
	if paused > 0 {
		return nil, nil
	}

	if err := q.promoteDueDelayed(ctx, queueName); err != nil {
		q.logger.Warn("promote delayed jobs failed", zap.String("queue", queueName), zap.Error(err))
	}

	popped, err := q.client.ZPopMin(ctx, q.key(queueName, "waiting"), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(popped) == 0 {
		return nil, nil
	}
	jobID, _ := popped[0].Member.(string)

	job, err := q.loadJob(ctx, queueName, jobID)
	if err != nil {
		return nil, err
	}
	job.Attempts++
	job.Status = StatusActive
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	lease := nowMillis() + q.cfg.VisibilityTimeout.Milliseconds()
	if err := q.client.ZAdd(ctx, q.key(queueName, "active"), redis.Z{Score: float64(lease), Member: jobID}).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *RedisQueue) Heartbeat(ctx context.Context, queueName, jobID string) error {
	lease := nowMillis() + q.cfg.VisibilityTimeout.Milliseconds()
	return q.client.ZAdd(ctx, q.key(queueName, "active"), redis.Z{Score: float64(lease), Member: jobID}).Err()
}

func (q *RedisQueue) Complete(ctx context.Context, queueName, jobID string) error {
	job, err := q.loadJob(ctx, queueName, jobID)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key(queueName, "active"), jobID)
	pipe.Incr(ctx, q.key(queueName, "stats:completed"))
	pipe.Incr(ctx, q.hourlyKey(queueName, "throughput"))
	if !job.EnqueuedAt.IsZero() {
		elapsedMs := time.Since(job.EnqueuedAt).Milliseconds()
		pipe.LPush(ctx, q.key(queueName, "stats:processing_ms"), elapsedMs)
		pipe.LTrim(ctx, q.key(queueName, "stats:processing_ms"), 0, 499)
	}
	pipe.Del(ctx, q.jobKey(queueName, jobID))
	_, err = pipe.Exec(ctx)
	return err
}

// Fail handles one failed attempt: requeue with exponential backoff
// until MaxAttempts is reached, then dead-letter the job.
func (q *RedisQueue) Fail(ctx context.Context, queueName, jobID string, reason string) error {
	job, err := q.loadJob(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	job.FailReason = reason

	q.client.ZRem(ctx, q.key(queueName, "active"), jobID)
	q.client.Incr(ctx, q.key(queueName, "stats:failed"))
	q.client.Incr(ctx, q.hourlyKey(queueName, "errors"))

	if job.Attempts >= job.MaxAttempts {
		return q.deadLetter(ctx, job)
	}

	q.client.Incr(ctx, q.hourlyKey(queueName, "retries"))
	delay := Backoff(job.BackoffBase, job.Attempts)
	job.Status = StatusDelayed
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	runAt := time.Now().Add(delay).UnixMilli()
	return q.client.ZAdd(ctx, q.key(queueName, "delayed"), redis.Z{Score: float64(runAt), Member: job.ID}).Err()
}

func (q *RedisQueue) deadLetter(ctx context.Context, job *Job) error {
	dlID := fmt.Sprintf("dl-%s-%d", job.ID, time.Now().UnixNano()/int64(time.Millisecond))
	dead := *job
	dead.ID = dlID
	dead.Status = StatusDead
	if err := q.saveJob(ctx, &dead); err != nil {
		return err
	}
	q.client.Del(ctx, q.jobKey(job.Queue, job.ID))
	return q.client.ZAdd(ctx, q.key(job.Queue, "dlq"), redis.Z{Score: float64(nowMillis()), Member: dlID}).Err()
}

func (q *RedisQueue) SetProgress(ctx context.Context, queueName, jobID string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	job, err := q.loadJob(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	job.Progress = pct
	return q.saveJob(ctx, job)
}

func (q *RedisQueue) GetJob(ctx context.Context, queueName, jobID string) (*Job, error) {
	return q.loadJob(ctx, queueName, jobID)
}

// CheckStalled scans the active set for leases that have expired
// without a heartbeat. A job is requeued up to maxStalledCount times
// before being treated as a failure (and, eventually, dead-lettered).
func (q *RedisQueue) CheckStalled(ctx context.Context, queueName string) (int, error) {
	expired, err := q.client.ZRangeByScore(ctx, q.key(queueName, "active"), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(nowMillis(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, jobID := range expired {
		job, err := q.loadJob(ctx, queueName, jobID)
		if err != nil {
			q.client.ZRem(ctx, q.key(queueName, "active"), jobID)
			continue
		}
		q.client.ZRem(ctx, q.key(queueName, "active"), jobID)

		job.StalledCount++
		if job.StalledCount > maxStalledCount {
			// Fail re-reads the job from Redis, so the incremented count
			// must be persisted first or the dead-lettered record would
			// carry a StalledCount one less than what actually triggered
			// dead-lettering.
			if err := q.saveJob(ctx, job); err != nil {
				return recovered, err
			}
			if err := q.Fail(ctx, queueName, job.ID, "stalled: exceeded max stalled count"); err != nil {
				return recovered, err
			}
			recovered++
			continue
		}

		job.Status = StatusWaiting
		if err := q.saveJob(ctx, job); err != nil {
			return recovered, err
		}
		if err := q.client.ZAdd(ctx, q.key(queueName, "waiting"), redis.Z{
			Score: waitingScore(job.Priority, time.Now()), Member: job.ID,
		}).Err(); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *RedisQueue) ListDeadLetters(ctx context.Context, queueName string, limit int) ([]Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ids, err := q.client.ZRevRange(ctx, q.key(queueName, "dlq"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.loadJob(ctx, queueName, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (q *RedisQueue) Pause(ctx context.Context, queueName string) error {
	return q.client.Set(ctx, q.key(queueName, "paused"), "1", 0).Err()
}

func (q *RedisQueue) Resume(ctx context.Context, queueName string) error {
	return q.client.Del(ctx, q.key(queueName, "paused")).Err()
}

func (q *RedisQueue) hourlyKey(queueName, stat string) string {
	bucket := time.Now().UTC().Format("2006010215")
	return q.key(queueName, fmt.Sprintf("stats:%s:%s", stat, bucket))
}

func (q *RedisQueue) Metrics(ctx context.Context, queueName string) (*Metrics, error) {
	waiting, err := q.client.ZCard(ctx, q.key(queueName, "waiting")).Result()
	if err != nil {
		return nil, err
	}
	active, err := q.client.ZCard(ctx, q.key(queueName, "active")).Result()
	if err != nil {
		return nil, err
	}
	delayed, err := q.client.ZCard(ctx, q.key(queueName, "delayed")).Result()
	if err != nil {
		return nil, err
	}
	completed, _ := q.client.Get(ctx, q.key(queueName, "stats:completed")).Int64()
	failed, _ := q.client.Get(ctx, q.key(queueName, "stats:failed")).Int64()
	paused, err := q.client.Exists(ctx, q.key(queueName, "paused")).Result()
	if err != nil {
		return nil, err
	}

	processingTimes, err := q.client.LRange(ctx, q.key(queueName, "stats:processing_ms"), 0, 499).Result()
	if err != nil {
		return nil, err
	}
	var avg float64
	if len(processingTimes) > 0 {
		var sum float64
		for _, v := range processingTimes {
			f, _ := strconv.ParseFloat(v, 64)
			sum += f
		}
		avg = sum / float64(len(processingTimes))
	}

	throughput, _ := q.client.Get(ctx, q.hourlyKey(queueName, "throughput")).Int64()
	errors, _ := q.client.Get(ctx, q.hourlyKey(queueName, "errors")).Int64()
	retries, _ := q.client.Get(ctx, q.hourlyKey(queueName, "retries")).Int64()

	var errorRate, retryRate float64
	if throughput+errors > 0 {
		errorRate = float64(errors) / float64(throughput+errors)
		retryRate = float64(retries) / float64(throughput+errors)
	}

	return &Metrics{
		Queue:              queueName,
		Waiting:            waiting,
		Active:             active,
		Delayed:            delayed,
		Completed:          completed,
		Failed:             failed,
		Paused:             paused > 0,
		AvgProcessingMs:    avg,
		ThroughputLastHour: throughput,
		ErrorRateLastHour:  errorRate,
		RetryRateLastHour:  retryRate,
	}, nil
}

// Health pings Redis, lists waiting jobs for each well-known queue,
// and confirms the metrics-liveness loop has ticked recently, each
// bounded by a 5s timeout per spec §4.2.
func (q *RedisQueue) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	for _, qn := range []string{ScanQueueName, AnalysisQueueName} {
		if err := q.client.ZCard(ctx, q.key(qn, "waiting")).Err(); err != nil {
			return fmt.Errorf("list waiting for %s failed: %w", qn, err)
		}
	}
	if !q.metricsAlive.Load() {
		return fmt.Errorf("metrics loop not alive")
	}
	return nil
}
