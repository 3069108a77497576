package item

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spineflow/engine/internal/backoff"
)

type flakyProxy struct {
	failures int
	calls    int
}

func (f *flakyProxy) Open(ctx context.Context, url string, memory bool, ordering map[string]any) (string, func(), error) {
	f.calls++
	if f.calls <= f.failures {
		return "", nil, errors.New("database is locked")
	}
	return "local://" + url, func() {}, nil
}
func (f *flakyProxy) QuickCheckout(ctx context.Context, url string) error { return nil }
func (f *flakyProxy) Purge(ctx context.Context, url string, settings map[string]any) error {
	return nil
}

func TestRetryingDBProxyRetriesUntilSuccess(t *testing.T) {
	flaky := &flakyProxy{failures: 2}
	policy := backoff.NewConstantBackoffPolicy(time.Millisecond)
	proxy := NewRetryingDBProxy(flaky, policy)

	localURL, checkout, err := proxy.Open(context.Background(), "sqlite:///x.sqlite", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "local://sqlite:///x.sqlite", localURL)
	assert.NotNil(t, checkout)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingDBProxyGivesUpAfterMaxRetries(t *testing.T) {
	flaky := &flakyProxy{failures: 100}
	policy := &backoff.ConstantBackoffPolicy{Interval: time.Millisecond, MaxRetries: 2}
	proxy := NewRetryingDBProxy(flaky, policy)

	_, _, err := proxy.Open(context.Background(), "sqlite:///x.sqlite", false, nil)
	assert.Error(t, err)
	assert.Equal(t, 3, flaky.calls) // initial attempt + 2 retries
}
