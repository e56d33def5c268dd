package providers

import (
	"context"

	"github.com/haasonsaas/agentrun/internal/backoff"
)

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.BackoffPolicy
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, policy backoff.BackoffPolicy) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if policy == (backoff.BackoffPolicy{}) {
		policy = backoff.DefaultPolicy()
	}
	return BaseProvider{name: name, maxRetries: maxRetries, policy: policy}
}

// Retry executes op, retrying with exponential backoff while isRetryable
// returns true for the error op produced. It is a thin wrapper around
// backoff.RetryWithBackoffIf's generic attempt loop, adapted to op's
// signature (no success value to carry, just an error).
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	_, err := backoff.RetryWithBackoffIf(ctx, b.policy, b.maxRetries, isRetryable, func(_ int) (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
