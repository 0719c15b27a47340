package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bt-bridge/voice-repo-agent/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) policy(p Policy) Policy {
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		r.sleeps = append(r.sleeps, d)
		return ctx.Err()
	}
	return p
}

func TestRetriesServerErrorsWithBackoff(t *testing.T) {
	rec := &recorder{}
	calls := 0
	res, err := Execute(context.Background(), rec.policy(DefaultPolicy()), func(context.Context) (github.Result[string], error) {
		calls++
		return github.Failure[string](500, "boom"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 500, res.StatusCode())
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.sleeps)
}

func TestDelayIsCappedAtMaxDelay(t *testing.T) {
	rec := &recorder{}
	p := rec.policy(Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second, Factor: 2})
	_, err := Execute(context.Background(), p, func(context.Context) (github.Result[int], error) {
		return github.Failure[int](503, "unavailable"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, rec.sleeps)
}

func TestNonRetryableStatusReturnsImmediately(t *testing.T) {
	rec := &recorder{}
	calls := 0
	res, err := Execute(context.Background(), rec.policy(DefaultPolicy()), func(context.Context) (github.Result[string], error) {
		calls++
		return github.Failure[string](404, "Not Found"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 404, res.StatusCode())
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.sleeps)
}

func TestSucceedsAfterTransientFailure(t *testing.T) {
	rec := &recorder{}
	calls := 0
	var retried []int
	p := rec.policy(DefaultPolicy())
	p.OnRetry = func(attempt int, _ time.Duration, _ string) { retried = append(retried, attempt) }

	res, err := Execute(context.Background(), p, func(context.Context) (github.Result[string], error) {
		calls++
		if calls == 1 {
			return github.Failure[string](429, "slow down"), nil
		}
		return github.Success("ok"), nil
	})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "ok", res.Data)
	assert.Equal(t, []int{1}, retried)
}

func TestTransientErrorsAreRetriedThenReturned(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_, err := Execute(context.Background(), rec.policy(DefaultPolicy()), func(context.Context) (github.Result[string], error) {
		calls++
		return github.Result[string]{}, errors.New("dial tcp: connection refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.sleeps, 2)
}

func TestPermanentErrorPropagatesImmediately(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_, err := Execute(context.Background(), rec.policy(DefaultPolicy()), func(context.Context) (github.Result[string], error) {
		calls++
		return github.Result[string]{}, errors.New("decoding repository: invalid character")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.sleeps)
}

func TestCancelledContextStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	res, err := Execute(ctx, p, func(context.Context) (github.Result[string], error) {
		calls++
		return github.Failure[string](500, "boom"), nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 500, res.StatusCode())
	assert.Equal(t, 1, calls)
}

func TestClassification(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 599} {
		assert.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{0, 200, 400, 401, 404, 422, 600} {
		assert.False(t, IsRetryableStatus(code), code)
	}
	assert.True(t, IsRetryableError(errors.New("read: Socket closed")))
	assert.True(t, IsRetryableError(errors.New("Rate limit exceeded")))
	assert.True(t, IsRetryableError(errors.New("i/o timeout")))
	assert.False(t, IsRetryableError(errors.New("bad request")))
	assert.False(t, IsRetryableError(nil))
}
