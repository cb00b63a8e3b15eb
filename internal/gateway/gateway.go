// Package gateway wraps the third-party push services. Every provider
// classifies per-token failures into permanently invalid (token gone or
// malformed, caller should prune it) and transient (token kept, batch may be
// retried at the job level).
package gateway

import (
	"context"

	"push-dispatch/internal/models"
)

// Client is the collaborator contract the worker pool sends batches through.
type Client interface {
	// SendBatch delivers one content payload to a non-empty token batch and
	// returns the subset of tokens the gateway rejected permanently. A
	// non-nil error means the batch as a whole failed (transient).
	SendBatch(ctx context.Context, tokens []string, content models.LocaleContent) (*models.BatchResult, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
