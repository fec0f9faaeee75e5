package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surfacescan/internal/queue"
)

func TestDispatcher_ProcessesEnqueuedJob(t *testing.T) {
	q := queue.NewFakeQueue()
	var processed atomic.Bool
	var gotPayload []byte

	d := NewDispatcher(q, "demo-queue", 1, 0, 5*time.Millisecond, zap.NewNop(), func(ctx context.Context, job *queue.Job) error {
		gotPayload = job.Payload
		processed.Store(true)
		return nil
	})

	_, err := q.Enqueue(context.Background(), "demo-queue", map[string]string{"hello": "world"}, queue.EnqueueOptions{JobID: "job-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	defer cancel()

	require.Eventually(t, processed.Load, time.Second, 5*time.Millisecond)
	assert.Contains(t, string(gotPayload), "world")

	d.Stop()

	_, err = q.GetJob(context.Background(), "demo-queue", "job-1")
	assert.ErrorIs(t, err, queue.ErrNotFound, "a successfully processed job should be completed and removed from the queue")
}

func TestDispatcher_FailedJobIsDeadLetteredOnFinalAttempt(t *testing.T) {
	q := queue.NewFakeQueue()
	var attempts atomic.Int32

	d := NewDispatcher(q, "demo-queue", 1, 0, time.Millisecond, zap.NewNop(), func(ctx context.Context, job *queue.Job) error {
		attempts.Add(1)
		return errors.New("boom")
	})

	_, err := q.Enqueue(context.Background(), "demo-queue", map[string]string{}, queue.EnqueueOptions{JobID: "job-2", MaxAttempts: 1, BackoffBase: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	defer cancel()

	require.Eventually(t, func() bool { return attempts.Load() >= 1 }, time.Second, 5*time.Millisecond)
	d.Stop()

	dead, err := q.ListDeadLetters(context.Background(), "demo-queue", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "boom", dead[0].FailReason)
}

func TestDispatcher_StopWaitsForInFlightJob(t *testing.T) {
	q := queue.NewFakeQueue()
	started := make(chan struct{})
	release := make(chan struct{})

	d := NewDispatcher(q, "demo-queue", 1, 0, time.Millisecond, zap.NewNop(), func(ctx context.Context, job *queue.Job) error {
		close(started)
		<-release
		return nil
	})

	_, err := q.Enqueue(context.Background(), "demo-queue", map[string]string{}, queue.EnqueueOptions{JobID: "job-3"})
	require.NoError(t, err)

	d.Start(context.Background())

	<-started
	var wg sync.WaitGroup
	wg.Add(1)
	stopReturned := make(chan struct{})
	go func() {
		defer wg.Done()
		d.Stop()
		close(stopReturned)
	}()

	// Stop must still be blocked on the in-flight job.
	select {
	case <-stopReturned:
		t.Fatal("Stop returned before the in-flight job finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	wg.Wait()
}

func TestDispatcher_EmptyQueueBacksOffWithoutError(t *testing.T) {
	q := queue.NewFakeQueue()
	var calls atomic.Int32
	d := NewDispatcher(q, "empty-queue", 2, 0, 5*time.Millisecond, zap.NewNop(), func(ctx context.Context, job *queue.Job) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	d.Stop()

	assert.Equal(t, int32(0), calls.Load())
}
