package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

func newTestQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	if opts.GracePeriod == 0 {
		opts.GracePeriod = 5 * time.Second
	}
	return New(rdb, "push-send-test", opts, logger.NewTestLogger(t)), mr
}

func testJob(id string) *models.Job {
	return &models.Job{
		ID:     id,
		Locale: "en",
		Tokens: []string{"tok-1", "tok-2"},
		Content: models.LocaleContent{
			Title: "hello",
			Body:  "world",
		},
	}
}

// consumeFor runs Consume in the background and cancels it when the test is
// done waiting.
func consumeFor(t *testing.T, q *Queue, handler Handler, concurrency int, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Consume(ctx, handler, concurrency)
	}()
	wg.Wait()
}

func TestEnqueueAndConsume(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 3, BackoffBase: 10 * time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), testJob("job-1")))
	require.NoError(t, q.Enqueue(context.Background(), testJob("job-2")))

	var mu sync.Mutex
	var seen []string
	consumeFor(t, q, func(ctx context.Context, job *models.Job) error {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		return nil
	}, 2, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, seen)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth.Completed)
	assert.EqualValues(t, 0, depth.Waiting)
}

func TestRetryableFailureIsRetriedWithBackoff(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 3, BackoffBase: 50 * time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), testJob("flaky")))

	var attempts atomic.Int32
	consumeFor(t, q, func(ctx context.Context, job *models.Job) error {
		n := attempts.Add(1)
		if n < 3 {
			return errors.NewAllBatchesFailedError(job.ID, 1)
		}
		return nil
	}, 1, 4*time.Second)

	assert.EqualValues(t, 3, attempts.Load())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth.Completed)
	assert.EqualValues(t, 0, depth.Dead)
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 2, BackoffBase: 20 * time.Millisecond, RetainedFailed: 10})

	require.NoError(t, q.Enqueue(context.Background(), testJob("doomed")))

	var attempts atomic.Int32
	var deadCalls atomic.Int32
	q.OnDeadLetter(func(ctx context.Context, job *models.Job, cause error) {
		deadCalls.Add(1)
	})

	consumeFor(t, q, func(ctx context.Context, job *models.Job) error {
		attempts.Add(1)
		return errors.NewAllBatchesFailedError(job.ID, 2)
	}, 1, 3*time.Second)

	// attempt limit bounds total tries
	assert.EqualValues(t, 2, attempts.Load())
	assert.EqualValues(t, 1, deadCalls.Load())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth.Dead)
	assert.EqualValues(t, 1, depth.Failed)

	dead, err := q.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "doomed", dead[0].ID)
}

func TestNonRetryableFailureSkipsRetry(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 5, BackoffBase: 10 * time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), testJob("malformed")))

	var attempts atomic.Int32
	consumeFor(t, q, func(ctx context.Context, job *models.Job) error {
		attempts.Add(1)
		return errors.NewMalformedJobError(job.ID, "tokens list empty")
	}, 1, 2*time.Second)

	assert.EqualValues(t, 1, attempts.Load(), "malformed jobs must not be retried")

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth.Dead)
}

func TestHandlerPanicFailsOnlyThatJob(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 1, BackoffBase: 10 * time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), testJob("boom")))
	require.NoError(t, q.Enqueue(context.Background(), testJob("fine")))

	var completed atomic.Int32
	consumeFor(t, q, func(ctx context.Context, job *models.Job) error {
		if job.ID == "boom" {
			panic("unexpected")
		}
		completed.Add(1)
		return nil
	}, 1, 2*time.Second)

	assert.EqualValues(t, 1, completed.Load())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth.Completed)
	assert.EqualValues(t, 1, depth.Dead)
}

func TestShutdownPersistsInFlightRetry(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 3, BackoffBase: time.Minute, GracePeriod: 5 * time.Second})

	require.NoError(t, q.Enqueue(context.Background(), testJob("in-flight")))

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(ctx context.Context, job *models.Job) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			return errors.NewAllBatchesFailedError(job.ID, 1)
		}, 1)
	}()

	// Cancel while the handler is mid-job; the outcome must still land.
	<-started
	cancel()
	require.NoError(t, <-done)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth.Delayed, "retry must be scheduled despite shutdown")
	assert.EqualValues(t, 0, depth.Dead)
	assert.EqualValues(t, 0, depth.Waiting)
	assert.EqualValues(t, 0, depth.Active, "claim must be released after the write")
}

func TestShutdownCompletesInFlightJob(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 3, BackoffBase: 10 * time.Millisecond, GracePeriod: 5 * time.Second})

	require.NoError(t, q.Enqueue(context.Background(), testJob("in-flight")))

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(ctx context.Context, job *models.Job) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			return nil
		}, 1)
	}()

	<-started
	cancel()
	require.NoError(t, <-done)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth.Completed)
	assert.EqualValues(t, 0, depth.Active)
	assert.EqualValues(t, 0, depth.Waiting)
}

func TestOrphanedClaimsRequeuedOnStart(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 3, BackoffBase: 10 * time.Millisecond})

	// A worker that died between claim and terminal write leaves its copy on
	// the processing list and nothing on pending.
	data, err := json.Marshal(testJob("orphan"))
	require.NoError(t, err)
	require.NoError(t, q.rdb.LPush(context.Background(), q.key("processing"), data).Err())

	var processed atomic.Int32
	consumeFor(t, q, func(ctx context.Context, job *models.Job) error {
		assert.Equal(t, "orphan", job.ID)
		processed.Add(1)
		return nil
	}, 1, 2*time.Second)

	assert.EqualValues(t, 1, processed.Load())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth.Completed)
	assert.EqualValues(t, 0, depth.Active)
	assert.EqualValues(t, 0, depth.Waiting)
}

func TestDeadLetterRetentionIsBounded(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 1, BackoffBase: 10 * time.Millisecond, RetainedFailed: 3})

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Enqueue(context.Background(), testJob("dead")))
	}

	consumeFor(t, q, func(ctx context.Context, job *models.Job) error {
		return errors.NewMalformedJobError(job.ID, "bad")
	}, 1, 2*time.Second)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth.Dead, "dead list trimmed to retained count")
	assert.EqualValues(t, 6, depth.Failed, "failure counter keeps the full total")
}
