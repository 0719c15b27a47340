// Package retry runs GitHub operations with capped exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/bt-bridge/voice-repo-agent/github"
)

// Policy configures Execute. The zero value is not usable; start from
// DefaultPolicy and override fields.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Sleep waits between attempts. Defaults to a context aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before every backoff with the attempt that just
	// failed, the delay about to be slept and the reason.
	OnRetry func(attempt int, delay time.Duration, reason string)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// NextDelay returns delay*factor capped at MaxDelay.
func (p Policy) NextDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * p.Factor)
	if next > p.MaxDelay || next <= 0 {
		return p.MaxDelay
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute calls op until it succeeds, fails terminally or runs out of
// attempts.
//
// A failed Result with a retryable status is retried; any other Result is
// returned as is. An error whose message looks transient is retried and,
// once attempts are exhausted, the last error is returned. Non-transient
// errors are returned immediately.
func Execute[T any](ctx context.Context, p Policy, op func(ctx context.Context) (github.Result[T], error)) (github.Result[T], error) {
	p = p.normalized()
	delay := p.InitialDelay
	for attempt := 1; ; attempt++ {
		res, err := op(ctx)

		var reason string
		switch {
		case err != nil:
			if ctx.Err() != nil || !IsRetryableError(err) || attempt >= p.MaxAttempts {
				return res, err
			}
			reason = err.Error()
		case res.OK():
			return res, nil
		default:
			if !IsRetryableStatus(res.StatusCode()) || attempt >= p.MaxAttempts {
				return res, nil
			}
			reason = res.Err.Error()
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, reason)
		}
		if serr := p.Sleep(ctx, delay); serr != nil {
			if err != nil {
				return res, err
			}
			return res, serr
		}
		delay = p.NextDelay(delay)
	}
}
