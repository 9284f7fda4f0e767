package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxRetries bounds how often a transient store failure is retried
// before it surfaces to the caller.
const DefaultMaxRetries = 5

// RetryTransient runs op, retrying with exponential backoff as long as the
// returned error is transient (see IsTransient). Any other error stops the
// retry loop immediately and is returned as-is.
func RetryTransient(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if IsTransient(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(DefaultMaxRetries))
	return err
}
