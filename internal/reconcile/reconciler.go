package reconcile

import (
	"context"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/common/metrics"
)

// TokenRemover deletes device rows by token.
type TokenRemover interface {
	RemoveByTokens(ctx context.Context, tokens []string) error
}

// Reconciler prunes tokens the push provider reported as permanently
// invalid. Reconciliation is best-effort: a failure is logged and counted
// but never surfaces to the caller, so a delivery outcome is never undone
// by registry trouble.
type Reconciler struct {
	registry TokenRemover
	logger   logger.Logger
}

func New(registry TokenRemover, log logger.Logger) *Reconciler {
	return &Reconciler{
		registry: registry,
		logger:   log.WithFields(map[string]interface{}{"component": "reconcile"}),
	}
}

// RemoveTokens deduplicates and filters the token list, then deletes the
// survivors from the registry. An empty list is a no-op.
func (r *Reconciler) RemoveTokens(ctx context.Context, tokens []string) {
	cleaned := dedupe(tokens)
	if len(cleaned) == 0 {
		return
	}

	if err := r.registry.RemoveByTokens(ctx, cleaned); err != nil {
		r.logger.WithError(errors.NewReconciliationError(err)).Error("token reconciliation failed", map[string]interface{}{
			"tokens": len(cleaned),
		})
		return
	}

	metrics.TokensReconciled.Add(float64(len(cleaned)))
	r.logger.Info("invalid tokens removed from registry", map[string]interface{}{
		"tokens": len(cleaned),
	})
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
