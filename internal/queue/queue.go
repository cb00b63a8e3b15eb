// Package queue implements the durable job queue on Redis: FIFO delivery
// with a claim list for at-least-once handoff, exponential-backoff retries
// for whole-job failures, and a bounded dead-letter list retained for
// inspection.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/common/metrics"
	"push-dispatch/internal/models"
)

// Handler processes one dequeued job. A retryable error schedules another
// attempt with backoff; a non-retryable error dead-letters the job.
type Handler func(ctx context.Context, job *models.Job) error

// DeadLetterFunc is invoked after a job is moved to the dead-letter list.
type DeadLetterFunc func(ctx context.Context, job *models.Job, cause error)

// Options are the queue-level knobs consumed from configuration.
type Options struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	RetainedFailed int
	GracePeriod    time.Duration
}

// deadLetterEntry is what lands on the dead list: the job plus its last error.
type deadLetterEntry struct {
	Job      models.Job `json:"job"`
	Error    string     `json:"error"`
	Code     string     `json:"code"`
	FailedAt time.Time  `json:"failedAt"`
}

// Queue is a named job queue on a shared Redis instance.
type Queue struct {
	rdb     *redis.Client
	name    string
	opts    Options
	logger  logger.Logger
	active  atomic.Int64
	onDead  DeadLetterFunc
}

func New(rdb *redis.Client, name string, opts Options, log logger.Logger) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.RetainedFailed <= 0 {
		opts.RetainedFailed = 500
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * time.Second
	}
	return &Queue{
		rdb:    rdb,
		name:   name,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"queue": name}),
	}
}

// OnDeadLetter registers a callback fired after a job dead-letters. Must be
// set before Consume.
func (q *Queue) OnDeadLetter(fn DeadLetterFunc) {
	q.onDead = fn
}

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("%s:%s", q.name, suffix)
}

// Enqueue inserts one job at the tail of the pending list.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}

	data, err := json.Marshal(job)
	if err != nil {
		return errors.NewEnqueueFailedError(q.name, err)
	}
	if err := q.rdb.LPush(ctx, q.key("pending"), data).Err(); err != nil {
		return errors.NewEnqueueFailedError(q.name, err)
	}
	return nil
}

// Consume runs concurrency workers against the pending list plus one
// promoter goroutine that moves due retries back to pending. It blocks until
// ctx is cancelled, then waits up to the grace period for in-flight jobs.
func (q *Queue) Consume(ctx context.Context, handler Handler, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	q.recoverClaims(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.promoteRetries(ctx)
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx, handler)
		}()
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(q.opts.GracePeriod):
		return fmt.Errorf("queue %s: %d jobs still in flight after grace period", q.name, q.active.Load())
	}
}

// recoverClaims moves leftover processing entries back to pending. Entries
// survive there only when a previous process died between its claim and the
// terminal write; at startup no worker of this queue holds a claim, so every
// entry is an orphan.
func (q *Queue) recoverClaims(ctx context.Context) {
	recovered := 0
	for {
		_, err := q.rdb.LMove(ctx, q.key("processing"), q.key("pending"), "RIGHT", "LEFT").Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				q.logger.WithError(err).Warn("claim recovery failed", nil)
			}
			break
		}
		recovered++
	}
	if recovered > 0 {
		q.logger.Info("requeued orphaned claims", map[string]interface{}{"count": recovered})
	}
}

func (q *Queue) workerLoop(ctx context.Context, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		raw, err := q.rdb.BLMove(ctx, q.key("pending"), q.key("processing"), "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			q.logger.WithError(err).Warn("dequeue failed", nil)
			time.Sleep(time.Second)
			continue
		}

		q.process(ctx, handler, raw)
	}
}

// process runs a single claimed job to its terminal write. The handler and
// every state-transition write run on a context detached from the consume
// context and bounded by the grace period, so a shutdown mid-job still lands
// the outcome in exactly one of completed, retry, or dead before the claim
// is released.
func (q *Queue) process(ctx context.Context, handler Handler, raw string) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.opts.GracePeriod)
	defer cancel()

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.WithError(err).Error("dropping undecodable job payload", nil)
		q.deadLetter(opCtx, &models.Job{}, errors.NewMalformedJobError("", err.Error()))
		q.unclaim(opCtx, raw)
		return
	}

	q.active.Add(1)
	defer q.active.Add(-1)

	err := q.runHandler(opCtx, handler, &job)
	switch {
	case err == nil:
		q.rdb.Incr(opCtx, q.key("completed"))
	case errors.IsRetryable(err) && job.Attempt < q.opts.MaxAttempts:
		q.scheduleRetry(opCtx, &job, err)
	default:
		q.deadLetter(opCtx, &job, err)
	}

	q.unclaim(opCtx, raw)
}

// unclaim drops the claim copy once the job's outcome is persisted.
func (q *Queue) unclaim(ctx context.Context, raw string) {
	if err := q.rdb.LRem(ctx, q.key("processing"), 1, raw).Err(); err != nil {
		q.logger.WithError(err).Warn("claim cleanup failed", nil)
	}
}

func (q *Queue) runHandler(ctx context.Context, handler Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// scheduleRetry parks the job on the retry set, scored by its due time.
// Backoff doubles per attempt: base, 2*base, 4*base, ...
func (q *Queue) scheduleRetry(ctx context.Context, job *models.Job, cause error) {
	job.Attempt++
	delay := q.opts.BackoffBase << (job.Attempt - 2)
	due := time.Now().Add(delay)

	q.logger.Info("scheduling retry", map[string]interface{}{
		"jobId":   job.ID,
		"attempt": job.Attempt,
		"delay":   delay.String(),
		"cause":   cause.Error(),
	})

	data, err := json.Marshal(job)
	if err != nil {
		q.deadLetter(ctx, job, err)
		return
	}
	if err := q.rdb.ZAdd(ctx, q.key("retry"), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		q.logger.WithError(err).Error("retry scheduling failed, dead-lettering", map[string]interface{}{"jobId": job.ID})
		q.deadLetter(ctx, job, err)
	}
}

func (q *Queue) deadLetter(ctx context.Context, job *models.Job, cause error) {
	entry := deadLetterEntry{
		Job:      *job,
		Error:    cause.Error(),
		Code:     string(errors.CodeOf(cause)),
		FailedAt: time.Now().UTC(),
	}

	q.logger.Error("job dead-lettered", map[string]interface{}{
		"jobId":   job.ID,
		"attempt": job.Attempt,
		"code":    entry.Code,
		"cause":   cause.Error(),
	})

	data, err := json.Marshal(entry)
	if err == nil {
		pipe := q.rdb.TxPipeline()
		pipe.LPush(ctx, q.key("dead"), data)
		pipe.LTrim(ctx, q.key("dead"), 0, int64(q.opts.RetainedFailed-1))
		pipe.Incr(ctx, q.key("failed"))
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.WithError(err).Error("dead-letter write failed", map[string]interface{}{"jobId": job.ID})
		}
	}

	if q.onDead != nil {
		q.onDead(ctx, job, cause)
	}
}

// promoteRetries moves due entries from the retry set back to pending once a
// second. ZRem acts as the claim: only the mover that removed the member may
// re-enqueue it.
func (q *Queue) promoteRetries(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := float64(time.Now().UnixMilli())
		due, err := q.rdb.ZRangeByScore(ctx, q.key("retry"), &redis.ZRangeBy{
			Min:   "0",
			Max:   fmt.Sprintf("%f", now),
			Count: 100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.logger.WithError(err).Warn("retry promotion scan failed", nil)
			}
			continue
		}

		for _, member := range due {
			removed, err := q.rdb.ZRem(ctx, q.key("retry"), member).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := q.rdb.LPush(ctx, q.key("pending"), member).Err(); err != nil {
				q.logger.WithError(err).Error("retry promotion enqueue failed", nil)
			}
		}
	}
}

// Depth reports per-state job counts and refreshes the queue gauges.
func (q *Queue) Depth(ctx context.Context) (*models.QueueDepth, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.key("pending"))
	active := pipe.LLen(ctx, q.key("processing"))
	delayed := pipe.ZCard(ctx, q.key("retry"))
	dead := pipe.LLen(ctx, q.key("dead"))
	completed := pipe.Get(ctx, q.key("completed"))
	failed := pipe.Get(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}

	depth := &models.QueueDepth{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
	}
	if v, err := completed.Int64(); err == nil {
		depth.Completed = v
	}
	if v, err := failed.Int64(); err == nil {
		depth.Failed = v
	}

	metrics.QueueDepth.WithLabelValues(q.name, "waiting").Set(float64(depth.Waiting))
	metrics.QueueDepth.WithLabelValues(q.name, "active").Set(float64(depth.Active))
	metrics.QueueDepth.WithLabelValues(q.name, "delayed").Set(float64(depth.Delayed))
	metrics.QueueDepth.WithLabelValues(q.name, "dead").Set(float64(depth.Dead))

	return depth, nil
}

// DeadLetters returns up to limit entries from the dead-letter list, newest
// first, without removing them.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]models.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	raw, err := q.rdb.LRange(ctx, q.key("dead"), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}

	jobs := make([]models.Job, 0, len(raw))
	for _, item := range raw {
		var entry deadLetterEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		jobs = append(jobs, entry.Job)
	}
	return jobs, nil
}
