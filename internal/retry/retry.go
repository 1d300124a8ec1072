// Package retry runs an operation under a bounded, linearly growing backoff
// and reports every failed attempt as a RetryEvent instead of invoking an
// arbitrary callback.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forPelevin/reelplan/internal/types"
)

const (
	DefaultMaxRetries = 2
	DefaultDelay      = 500 * time.Millisecond
)

type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Delay is multiplied by the attempt number before each retry.
	Delay time.Duration
}

// Label identifies what is being retried in the emitted events.
type Label struct {
	Step     string
	Subject  string
	Provider string
}

func Default() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Delay: DefaultDelay}
}

// linearBackOff yields delay, 2*delay, 3*delay, ...
type linearBackOff struct {
	delay   time.Duration
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return l.delay * time.Duration(l.attempt)
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, the retry budget is spent or ctx ends.
// The returned events describe each failed attempt that was followed by a retry.
func (p Policy) Do(ctx context.Context, label Label, op func(ctx context.Context) error) ([]types.RetryEvent, error) {
	if ctx == nil {
		return nil, errors.New("retry: nil context")
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := p.Delay
	if delay < 0 {
		delay = 0
	}

	var (
		events  []types.RetryEvent
		attempt int
	)
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{delay: delay}, uint64(maxRetries)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, b, func(err error, next time.Duration) {
		events = append(events, types.RetryEvent{
			Step:     label.Step,
			Subject:  label.Subject,
			Provider: label.Provider,
			Attempt:  attempt,
			DelayMs:  next.Milliseconds(),
			Error:    err.Error(),
			At:       time.Now().UTC(),
		})
	})
	return events, err
}
