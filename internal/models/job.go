// internal/models/job.go
package models

import "time"

// LocaleContent is the notification content variant for one locale.
type LocaleContent struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// DispatchPayload maps locale -> validated content for one dispatch request.
type DispatchPayload map[string]LocaleContent

// Job is one unit of queued work: send this content to this token list.
// Tokens keep their order and any duplicates from the originating tag query.
type Job struct {
	ID         string        `json:"id"`
	Locale     string        `json:"locale"`
	Tokens     []string      `json:"tokens"`
	Content    LocaleContent `json:"content"`
	Attempt    int           `json:"attempt"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
}

// BatchResult is the outcome of one gateway batch call.
type BatchResult struct {
	InvalidTokens []string `json:"invalidTokens"`
}

// JobSummary aggregates per-batch outcomes for one processed job.
type JobSummary struct {
	JobID             string `json:"jobId"`
	Locale            string `json:"locale"`
	TotalTokens       int    `json:"totalTokens"`
	SuccessfulBatches int    `json:"successfulBatches"`
	FailedBatches     int    `json:"failedBatches"`
	InvalidTokenCount int    `json:"invalidTokenCount"`
}

// QueueDepth reports per-state job counts for health endpoints.
type QueueDepth struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Dead      int64 `json:"dead"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
