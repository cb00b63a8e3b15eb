package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"push-dispatch/internal/common/logger"
)

type MockTokenRemover struct {
	RemoveByTokensFunc func(ctx context.Context, tokens []string) error
	Calls              [][]string
}

func (m *MockTokenRemover) RemoveByTokens(ctx context.Context, tokens []string) error {
	m.Calls = append(m.Calls, tokens)
	if m.RemoveByTokensFunc != nil {
		return m.RemoveByTokensFunc(ctx, tokens)
	}
	return nil
}

func TestRemoveTokensDedupesAndFilters(t *testing.T) {
	registry := &MockTokenRemover{}
	r := New(registry, logger.NewNoOpLogger())

	r.RemoveTokens(context.Background(), []string{"a", "", "b", "a", "b", ""})

	assert.Equal(t, [][]string{{"a", "b"}}, registry.Calls)
}

func TestRemoveTokensEmptyIsNoOp(t *testing.T) {
	registry := &MockTokenRemover{}
	r := New(registry, logger.NewNoOpLogger())

	r.RemoveTokens(context.Background(), nil)
	r.RemoveTokens(context.Background(), []string{"", ""})

	assert.Empty(t, registry.Calls)
}

func TestRemoveTokensSwallowsRegistryError(t *testing.T) {
	registry := &MockTokenRemover{
		RemoveByTokensFunc: func(ctx context.Context, tokens []string) error {
			return assert.AnError
		},
	}
	r := New(registry, logger.NewNoOpLogger())

	// Must not panic or propagate anything.
	r.RemoveTokens(context.Background(), []string{"a"})
	assert.Len(t, registry.Calls, 1)
}
