package pushsend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/common/metrics"
	"push-dispatch/internal/gateway"
	"push-dispatch/internal/models"
)

const (
	TaskType = "push-send"
)

// Reconciler prunes permanently invalid tokens after a job finishes.
type Reconciler interface {
	RemoveTokens(ctx context.Context, tokens []string)
}

// AuditSink records the delivery summary of a processed job.
type AuditSink interface {
	RecordDelivery(ctx context.Context, summary models.JobSummary)
}

// Handler processes one queued job: it partitions the token list into
// fixed-size batches, fans them out to the push gateway under a shared
// concurrency cap, and folds the per-batch outcomes into a JobSummary.
type Handler struct {
	config     *Config
	gateway    gateway.Client
	reconciler Reconciler
	audit      AuditSink
	sem        *semaphore.Weighted
	logger     logger.Logger
}

// NewHandler builds the job handler. The semaphore is owned by the handler,
// so the send-concurrency cap applies across every worker goroutine feeding
// it, not per job. audit may be nil.
func NewHandler(config *Config, gw gateway.Client, reconciler Reconciler, audit AuditSink, log logger.Logger) *Handler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.SendConcurrency <= 0 {
		config.SendConcurrency = 10
	}
	return &Handler{
		config:     config,
		gateway:    gw,
		reconciler: reconciler,
		audit:      audit,
		sem:        semaphore.NewWeighted(config.SendConcurrency),
		logger:     log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Handle is the queue handler for push-send jobs. A structurally invalid job
// fails without retry; a job whose batches all fail returns a retryable
// error; everything else completes with a summary, partial failures
// included.
func (h *Handler) Handle(ctx context.Context, job *models.Job) error {
	start := time.Now()

	if err := validateJob(job); err != nil {
		metrics.JobsFailed.WithLabelValues(string(errors.CodeOf(err))).Inc()
		h.logger.WithError(err).Error("rejecting malformed job", map[string]interface{}{
			"jobId": job.ID,
		})
		return err
	}

	h.logger.Info("processing job", map[string]interface{}{
		"jobId":   job.ID,
		"locale":  job.Locale,
		"tokens":  len(job.Tokens),
		"attempt": job.Attempt,
	})

	batches := partition(job.Tokens, h.config.BatchSize)
	outcomes := h.sendBatches(ctx, job, batches)

	summary := models.JobSummary{
		JobID:       job.ID,
		Locale:      job.Locale,
		TotalTokens: len(job.Tokens),
	}
	var invalid []string
	for _, out := range outcomes {
		if out.err != nil {
			summary.FailedBatches++
			metrics.BatchesSent.WithLabelValues(h.gateway.Name(), "failed").Inc()
			h.logger.WithError(out.err).Warn("batch send failed", map[string]interface{}{
				"jobId": job.ID,
				"batch": out.index,
				"size":  out.size,
			})
			continue
		}
		summary.SuccessfulBatches++
		metrics.BatchesSent.WithLabelValues(h.gateway.Name(), "ok").Inc()
		invalid = append(invalid, out.invalidTokens...)
	}
	summary.InvalidTokenCount = len(invalid)
	if len(invalid) > 0 {
		metrics.InvalidTokens.Add(float64(len(invalid)))
	}

	// Reconciliation and auditing are best-effort and run regardless of the
	// job outcome.
	h.reconciler.RemoveTokens(ctx, invalid)
	if h.audit != nil {
		h.audit.RecordDelivery(ctx, summary)
	}

	if summary.FailedBatches == len(batches) {
		err := errors.NewAllBatchesFailedError(job.ID, summary.FailedBatches)
		metrics.JobsFailed.WithLabelValues(string(errors.ErrCodeAllBatchesFailed)).Inc()
		return err
	}

	metrics.JobsCompleted.Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())
	h.logger.Info("job completed", map[string]interface{}{
		"jobId":             job.ID,
		"locale":            job.Locale,
		"successfulBatches": summary.SuccessfulBatches,
		"failedBatches":     summary.FailedBatches,
		"invalidTokens":     summary.InvalidTokenCount,
	})
	return nil
}

// sendBatches fans the batches out concurrently. Each goroutine waits its
// turn on the shared semaphore and gets its own bounded-timeout context, so
// one slow or failing batch never takes its siblings down with it.
func (h *Handler) sendBatches(ctx context.Context, job *models.Job, batches [][]string) []batchOutcome {
	outcomes := make([]batchOutcome, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(index int, tokens []string) {
			defer wg.Done()

			if err := h.sem.Acquire(ctx, 1); err != nil {
				outcomes[index] = batchOutcome{index: index, size: len(tokens), err: err}
				return
			}
			defer h.sem.Release(1)

			batchCtx := ctx
			var cancel context.CancelFunc
			if h.config.GatewayTimeout > 0 {
				batchCtx, cancel = context.WithTimeout(ctx, h.config.GatewayTimeout)
				defer cancel()
			}

			result, err := h.gateway.SendBatch(batchCtx, tokens, job.Content)
			if err != nil {
				outcomes[index] = batchOutcome{index: index, size: len(tokens), err: err}
				return
			}
			outcomes[index] = batchOutcome{
				index:         index,
				size:          len(tokens),
				invalidTokens: result.InvalidTokens,
			}
		}(i, batch)
	}

	wg.Wait()
	return outcomes
}

func validateJob(job *models.Job) error {
	switch {
	case job.ID == "":
		return errors.NewMalformedJobError(job.ID, "job id is missing")
	case len(job.Tokens) == 0:
		return errors.NewMalformedJobError(job.ID, "job has no tokens")
	case job.Content.Title == "" || job.Content.Body == "":
		return errors.NewMalformedJobError(job.ID, fmt.Sprintf("job content for locale %q is incomplete", job.Locale))
	}
	for _, tok := range job.Tokens {
		if tok == "" {
			return errors.NewMalformedJobError(job.ID, "job contains an empty token")
		}
	}
	return nil
}

// partition splits tokens into consecutive slices of at most size elements.
func partition(tokens []string, size int) [][]string {
	batches := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		batches = append(batches, tokens[start:end])
	}
	return batches
}
