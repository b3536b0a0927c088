// Package retryx provides the one retry policy shared by the generation
// adapter's incomplete-response and schema-validation recovery paths.
// Parameterizing attempts and backoff per error kind keeps the retry
// behavior in one place instead of ad hoc loops at each call site.
package retryx

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries of one operation.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
}

// DefaultPolicy retries twice with a short exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
	}
}

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy. attempt is 0-based. Retries stop when op
// succeeds, when the attempt budget is exhausted (last error returned), when
// op returns a Permanent error, or when ctx is done.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	var policy backoff.BackOff = backoff.WithMaxRetries(b, uint64(attempts-1))
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		err := op(attempt)
		attempt++
		return err
	}, policy)
}

// IsPermanent reports whether err carries a backoff.PermanentError.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
