package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
)

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueueWithClient(nil, tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_delayed", JobDelayedKey)
	assert.Equal(t, "job_stats", JobStatsKey)
	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	return NewQueueWithClient(client, 1), client
}

// runNext dequeues and processes one job synchronously.
func runNext(t *testing.T, q *Queue) *Job {
	t.Helper()
	job, err := q.dequeueJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	q.processJob(context.Background(), job)
	return job
}

func TestProcessJobCompletesAndRemoves(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var got *PushJobPayload
	q.Handle(JobTypeSendPush, func(_ context.Context, job *Job) error {
		p, err := PushJobPayloadFromMap(job.Payload)
		got = p
		return err
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendPush, PushJobPayload{UserID: 42, Title: "t", Body: "b"}.ToMap())
	require.NoError(t, err)
	runNext(t, q)

	require.NotNil(t, got)
	assert.Equal(t, uint(42), got.UserID)

	_, err = q.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, redis.Nil)
	size, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestProcessJobSchedulesBackoffRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.Handle(JobTypeSendPush, func(context.Context, *Job) error {
		return errors.New("fcm unavailable")
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendPush, PushJobPayload{UserID: 1}.ToMap())
	require.NoError(t, err)
	before := time.Now()
	runNext(t, q)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.RetryAt)
	assert.WithinDuration(t, before.Add(60*time.Second), *stored.RetryAt, 5*time.Second)

	delayed, err := q.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)

	n, err := q.PromoteDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "backoff not elapsed yet")

	n, err = q.PromoteDue(ctx, time.Now().Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestProcessJobStopsAfterMaxRetries(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	attempts := 0
	q.Handle(JobTypeSendEmail, func(context.Context, *Job) error {
		attempts++
		return errors.New("smtp down")
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendEmail, EmailJobPayload{UserID: 1}.ToMap())
	require.NoError(t, err)
	for i := 0; i < DefaultMaxRetries+1; i++ {
		runNext(t, q)
		_, err := q.PromoteDue(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultMaxRetries+1, attempts)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestProcessJobSkipsRetryForPermanentErrors(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.Handle(JobTypeSendPush, func(context.Context, *Job) error {
		return &apperrors.NotificationDeliveryError{Channel: "push", Permanent: true, Err: errors.New("unregistered")}
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendPush, PushJobPayload{UserID: 1}.ToMap())
	require.NoError(t, err)
	runNext(t, q)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	delayed, err := q.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestCallJobsAreAttemptedOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.Handle(JobTypeSendCall, func(context.Context, *Job) error {
		return errors.New("twilio 500")
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendCall, CallJobPayload{UserID: 1, Message: "m"}.ToMap())
	require.NoError(t, err)
	runNext(t, q)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	delayed, err := q.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestUnknownJobTypeFailsPermanently(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobType("resize_image"), map[string]interface{}{})
	require.NoError(t, err)
	runNext(t, q)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")
}

func TestRecoverStuckRequeuesOldProcessingJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypeSendPush, PushJobPayload{UserID: 1}.ToMap())
	require.NoError(t, err)
	dequeued, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	dequeued.MarkAsProcessing()
	old := time.Now().Add(-time.Hour)
	dequeued.ProcessedAt = &old
	q.updateJob(ctx, dequeued)

	n, err := q.RecoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}
