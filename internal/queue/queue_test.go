package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, 3))
	assert.Equal(t, 16*time.Second, Backoff(base, 4))
	// attempt 0 clamps to attempt 1.
	assert.Equal(t, base, Backoff(base, 0))
}

func TestFakeQueueEnqueueDequeueComplete(t *testing.T) {
	ctx := context.Background()
	q := NewFakeQueue()

	job, err := q.Enqueue(ctx, ScanQueueName, map[string]string{"scanId": "s1"}, EnqueueOptions{
		JobID: "s1", MaxAttempts: 3, BackoffBase: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, job.Status)

	got, err := q.Dequeue(ctx, ScanQueueName)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// A second dequeue sees no further waiting jobs: at-most-one-active
	// per jobId holds even for a single in-flight job.
	none, err := q.Dequeue(ctx, ScanQueueName)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, q.SetProgress(ctx, ScanQueueName, "s1", 150))
	current, err := q.GetJob(ctx, ScanQueueName, "s1")
	require.NoError(t, err)
	assert.Equal(t, 100, current.Progress) // clamped

	require.NoError(t, q.Complete(ctx, ScanQueueName, "s1"))
	_, err = q.GetJob(ctx, ScanQueueName, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFakeQueueRetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := NewFakeQueue()

	_, err := q.Enqueue(ctx, AnalysisQueueName, "payload", EnqueueOptions{
		JobID: "a1", MaxAttempts: 2, BackoffBase: time.Millisecond,
	})
	require.NoError(t, err)

	// First attempt fails; job should be retried (requeued), not dead-lettered.
	job, err := q.Dequeue(ctx, AnalysisQueueName)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Fail(ctx, AnalysisQueueName, job.ID, "boom"))

	dead, err := q.ListDeadLetters(ctx, AnalysisQueueName, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)

	time.Sleep(5 * time.Millisecond)

	// Second attempt also fails; attempts now equals maxAttempts, so
	// the job is moved to the dead-letter queue.
	job, err = q.Dequeue(ctx, AnalysisQueueName)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Fail(ctx, AnalysisQueueName, job.ID, "boom again"))

	dead, err = q.ListDeadLetters(ctx, AnalysisQueueName, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, StatusDead, dead[0].Status)
	assert.Equal(t, "boom again", dead[0].FailReason)
}

func TestFakeQueuePauseResume(t *testing.T) {
	ctx := context.Background()
	q := NewFakeQueue()

	_, err := q.Enqueue(ctx, ScanQueueName, "x", EnqueueOptions{JobID: "p1"})
	require.NoError(t, err)

	require.NoError(t, q.Pause(ctx, ScanQueueName))
	job, err := q.Dequeue(ctx, ScanQueueName)
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, q.Resume(ctx, ScanQueueName))
	job, err = q.Dequeue(ctx, ScanQueueName)
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestFakeQueuePriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q := NewFakeQueue()

	_, err := q.Enqueue(ctx, ScanQueueName, "low", EnqueueOptions{JobID: "low-1", Priority: 0})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, ScanQueueName, "high", EnqueueOptions{JobID: "high-1", Priority: 5})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, ScanQueueName)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "high-1", job.ID)
}
