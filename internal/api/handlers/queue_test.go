package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surfacescan/internal/apierror"
	"surfacescan/internal/queue"
)

func TestQueueHandler_DeadLetters_DefaultLimit(t *testing.T) {
	q := queue.NewFakeQueue()
	_, err := q.Enqueue(context.Background(), queue.ScanQueueName, map[string]string{}, queue.EnqueueOptions{JobID: "job-1", MaxAttempts: 1})
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background(), queue.ScanQueueName)
	require.NoError(t, err)
	require.NoError(t, q.Fail(context.Background(), queue.ScanQueueName, "job-1", "boom"))

	h := NewQueueHandler(q, apierror.NewHandler(zap.NewNop()), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/queue/dlq", nil)
	rec := httptest.NewRecorder()
	h.DeadLetters(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view deadLetterView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.ScanQueue, 1)
	assert.Equal(t, "boom", view.ScanQueue[0].FailReason)
	assert.Empty(t, view.AnalysisQueue)
}

func TestQueueHandler_DeadLetters_RejectsOutOfRangeLimit(t *testing.T) {
	q := queue.NewFakeQueue()
	h := NewQueueHandler(q, apierror.NewHandler(zap.NewNop()), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/queue/dlq?limit=99999", nil)
	rec := httptest.NewRecorder()
	h.DeadLetters(rec, req)

	// an out-of-range limit falls back to the default rather than erroring.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueueHandler_Metrics(t *testing.T) {
	q := queue.NewFakeQueue()
	_, err := q.Enqueue(context.Background(), queue.AnalysisQueueName, map[string]string{}, queue.EnqueueOptions{JobID: "a-1"})
	require.NoError(t, err)

	h := NewQueueHandler(q, apierror.NewHandler(zap.NewNop()), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/queue/metrics", nil)
	rec := httptest.NewRecorder()
	h.Metrics(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var metrics map[string]*queue.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	require.Contains(t, metrics, "analysisQueue")
	assert.Equal(t, int64(1), metrics["analysisQueue"].Waiting)
}
