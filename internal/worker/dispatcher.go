package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"surfacescan/internal/queue"
)

// Dispatcher polls a single queue, handing each dequeued job to a
// processing function and reporting the outcome back to the queue.
// Grounded on the teacher's ticker/stop-channel background-loop shape
// (internal/cache's MemoryCacheImpl cleanup loop), generalized from a
// fixed interval to "poll immediately, back off only when the queue
// is empty".
type Dispatcher struct {
	queue      queue.Queue
	queueName  string
	logger     *zap.Logger
	concurrency int
	emptyBackoff time.Duration
	heartbeat  time.Duration

	process func(ctx context.Context, job *queue.Job) error

	stop chan struct{}
	done chan struct{}
}

// NewDispatcher builds a Dispatcher for queueName. process is called
// once per dequeued job; returning an error fails the job (triggering
// the queue's own backoff/dead-letter policy), returning nil completes
// it.
func NewDispatcher(q queue.Queue, queueName string, concurrency int, heartbeat, emptyBackoff time.Duration, logger *zap.Logger, process func(ctx context.Context, job *queue.Job) error) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		queue:        q,
		queueName:    queueName,
		logger:       logger,
		concurrency:  concurrency,
		emptyBackoff: emptyBackoff,
		heartbeat:    heartbeat,
		process:      process,
		stop:         make(chan struct{}),
		done:         make(chan struct{}, concurrency),
	}
}

// Start launches the configured number of worker goroutines, each
// running its own dequeue loop.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.concurrency; i++ {
		go d.loop(ctx)
	}
}

// Stop signals every worker goroutine to exit after its current job,
// blocking until all have returned.
func (d *Dispatcher) Stop() {
	close(d.stop)
	for i := 0; i < d.concurrency; i++ {
		<-d.done
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer func() { d.done <- struct{}{} }()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.queue.Dequeue(ctx, d.queueName)
		if err != nil {
			d.logger.Error("dequeue failed", zap.String("queue", d.queueName), zap.Error(err))
			d.sleep(d.emptyBackoff)
			continue
		}
		if job == nil {
			d.sleep(d.emptyBackoff)
			continue
		}

		d.run(ctx, job)
	}
}

func (d *Dispatcher) run(ctx context.Context, job *queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	heartbeatStop := make(chan struct{})
	if d.heartbeat > 0 {
		go d.heartbeatLoop(jobCtx, job.ID, heartbeatStop)
		defer close(heartbeatStop)
	}

	err := d.process(jobCtx, job)
	if err != nil {
		d.logger.Warn("job failed", zap.String("queue", d.queueName), zap.String("jobId", job.ID), zap.Error(err))
		if failErr := d.queue.Fail(ctx, d.queueName, job.ID, err.Error()); failErr != nil {
			d.logger.Error("failed to mark job failed", zap.String("queue", d.queueName), zap.String("jobId", job.ID), zap.Error(failErr))
		}
		return
	}
	if completeErr := d.queue.Complete(ctx, d.queueName, job.ID); completeErr != nil {
		d.logger.Error("failed to mark job complete", zap.String("queue", d.queueName), zap.String("jobId", job.ID), zap.Error(completeErr))
	}
}

func (d *Dispatcher) heartbeatLoop(ctx context.Context, jobID string, stop <-chan struct{}) {
	ticker := time.NewTicker(d.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.queue.Heartbeat(ctx, d.queueName, jobID); err != nil {
				d.logger.Warn("heartbeat failed", zap.String("queue", d.queueName), zap.String("jobId", jobID), zap.Error(err))
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) sleep(dur time.Duration) {
	if dur <= 0 {
		return
	}
	select {
	case <-time.After(dur):
	case <-d.stop:
	}
}

// UnmarshalScanTask decodes a scan-queue job's payload.
func UnmarshalScanTask(job *queue.Job) (ScanTask, error) {
	var task ScanTask
	err := json.Unmarshal(job.Payload, &task)
	return task, err
}

// UnmarshalAnalysisTask decodes an analysis-queue job's payload.
func UnmarshalAnalysisTask(job *queue.Job) (AnalysisTask, error) {
	var task AnalysisTask
	err := json.Unmarshal(job.Payload, &task)
	return task, err
}
