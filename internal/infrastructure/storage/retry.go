package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"

	"KnowledgeScanner/internal/domain"
)

// Postgres error codes that signal transient lock contention.
var contentionCodes = map[pq.ErrorCode]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

func isContention(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	_, ok := contentionCodes[pqErr.Code]
	return ok
}

type retryPolicy struct {
	attempts   uint
	newBackOff func() backoff.BackOff
}

func defaultRetryPolicy(attempts int) retryPolicy {
	if attempts <= 0 {
		attempts = 5
	}
	return retryPolicy{
		attempts: uint(attempts),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// run executes one single-statement mutation, retrying only on contention.
func (p retryPolicy) run(ctx context.Context, op string, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		switch {
		case err == nil:
			return struct{}{}, nil
		case isContention(err):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(p.attempts))

	if err != nil && isContention(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrRecordStoreContention, op, err)
	}
	return err
}
