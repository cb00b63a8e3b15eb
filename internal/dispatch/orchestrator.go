package dispatch

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/common/metrics"
	"push-dispatch/internal/models"
)

// Registry is the device lookup capability the orchestrator depends on.
type Registry interface {
	FindByMatchingTags(ctx context.Context, tags []string) ([]models.DeviceRecord, error)
}

// Enqueuer is the queue insertion capability the orchestrator depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Config holds the orchestrator policy knobs.
type Config struct {
	// FallbackLocale, when non-empty, serves devices whose locale has no
	// content entry with this locale's content instead of dropping them.
	FallbackLocale string
	// DedupeTokens removes duplicate tokens from each locale group before a
	// job is created.
	DedupeTokens bool
}

// Result is the caller-facing dispatch summary. The field shape round-trips
// unchanged through the transport layer.
type Result struct {
	Message    string   `json:"message"`
	TotalUsers int      `json:"totalUsers"`
	JobsAdded  int      `json:"jobsAdded"`
	Locales    []string `json:"locales"`
}

// Orchestrator fans a broadcast request out into one queued job per locale
// that has both matched devices and content.
type Orchestrator struct {
	registry Registry
	queue    Enqueuer
	config   Config
	logger   logger.Logger
}

func NewOrchestrator(registry Registry, queue Enqueuer, cfg Config, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		queue:    queue,
		config:   cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "dispatch"}),
	}
}

// Dispatch validates the request, snapshots the matching devices, and
// enqueues per-locale jobs. Queue insertions are not transactional: on a
// partial failure the already-queued jobs stay queued and the error is
// returned.
func (o *Orchestrator) Dispatch(ctx context.Context, tags []string, localesContent map[string]models.LocaleContent, data map[string]string) (*Result, error) {
	if len(tags) == 0 {
		metrics.DispatchRequests.WithLabelValues("rejected").Inc()
		return nil, errors.NewValidationError("tags must be a non-empty list")
	}
	for _, tag := range tags {
		if tag == "" {
			metrics.DispatchRequests.WithLabelValues("rejected").Inc()
			return nil, errors.NewValidationError("tags must not contain empty strings")
		}
	}

	// All validation happens before any I/O.
	payload, err := BuildPayload(localesContent, data)
	if err != nil {
		metrics.DispatchRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	records, err := o.registry.FindByMatchingTags(ctx, tags)
	if err != nil {
		metrics.DispatchRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(records) == 0 {
		metrics.DispatchRequests.WithLabelValues("empty").Inc()
		return &Result{
			Message:    "no devices matched the given tags",
			TotalUsers: 0,
			JobsAdded:  0,
			Locales:    []string{},
		}, nil
	}

	groups, skipped := GroupByLocale(records)
	if skipped > 0 {
		o.logger.Warn("skipped records without token", map[string]interface{}{"count": skipped})
	}

	// The locale set counts every matched locale, including ones that end up
	// with no job because no content was provided for them.
	locales := localeSet(records)

	jobsAdded := 0
	for _, locale := range locales {
		tokens, ok := groups[locale]
		if !ok {
			continue
		}

		content, ok := payload[locale]
		if !ok && o.config.FallbackLocale != "" {
			content, ok = payload[o.config.FallbackLocale]
		}
		if !ok {
			// Documented behavior: devices in a locale without content
			// receive nothing for this dispatch.
			o.logger.Debug("no content for locale, skipping", map[string]interface{}{
				"locale":  locale,
				"devices": len(tokens),
			})
			continue
		}

		if o.config.DedupeTokens {
			tokens = dedupe(tokens)
		}

		job := &models.Job{
			ID:      uuid.New().String(),
			Locale:  locale,
			Tokens:  tokens,
			Content: content,
		}
		if err := o.queue.Enqueue(ctx, job); err != nil {
			metrics.DispatchRequests.WithLabelValues("error").Inc()
			o.logger.WithError(err).Error("enqueue failed, earlier jobs stay queued", map[string]interface{}{
				"locale":    locale,
				"jobsAdded": jobsAdded,
			})
			return nil, err
		}

		jobsAdded++
		metrics.JobsEnqueued.Inc()
		o.logger.Info("job enqueued", map[string]interface{}{
			"jobId":  job.ID,
			"locale": locale,
			"tokens": len(tokens),
		})
	}

	metrics.DispatchRequests.WithLabelValues("ok").Inc()
	return &Result{
		Message:    "notifications queued for delivery",
		TotalUsers: len(records),
		JobsAdded:  jobsAdded,
		Locales:    locales,
	}, nil
}

// localeSet returns the sorted distinct locales across all matched devices.
func localeSet(records []models.DeviceRecord) []string {
	set := make(map[string]struct{})
	for _, rec := range records {
		locale := rec.Locale
		if locale == "" {
			locale = models.DefaultLocale
		}
		set[locale] = struct{}{}
	}

	locales := make([]string, 0, len(set))
	for locale := range set {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	return locales
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
