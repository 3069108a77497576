package item

import (
	"context"
	"fmt"
	"time"

	"github.com/spineflow/engine/internal/backoff"
)

// RetryingDBProxy wraps a DBProxy so that Open retries on a transient
// error (a locked or busy database file is the common case for the
// SQLite-backed proxies items use) instead of failing the whole solid.
type RetryingDBProxy struct {
	DBProxy
	Policy backoff.RetryPolicy
}

// NewRetryingDBProxy wraps proxy with the given retry policy. A nil policy
// falls back to exponential backoff starting at 100ms, capped at 3 retries.
func NewRetryingDBProxy(proxy DBProxy, policy backoff.RetryPolicy) *RetryingDBProxy {
	if policy == nil {
		p := backoff.NewExponentialBackoffPolicy(100 * time.Millisecond)
		p.MaxRetries = 3
		policy = p
	}
	return &RetryingDBProxy{DBProxy: proxy, Policy: policy}
}

// Open retries the wrapped proxy's Open according to Policy, giving up and
// returning the last error once the policy reports retries exhausted or
// the context is canceled.
func (p *RetryingDBProxy) Open(ctx context.Context, url string, memory bool, ordering map[string]any) (string, func(), error) {
	retrier := backoff.NewRetrier(p.Policy)
	var lastErr error
	for {
		localURL, checkout, err := p.DBProxy.Open(ctx, url, memory, ordering)
		if err == nil {
			return localURL, checkout, nil
		}
		lastErr = err
		if waitErr := retrier.Next(ctx, err); waitErr != nil {
			return "", nil, fmt.Errorf("open %s: %w (last attempt: %v)", url, waitErr, lastErr)
		}
	}
}
