package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatcore/internal/logger"
)

// RetryPolicy bounds automatic retries.
//
// Transactions and batches are retried on ErrConflict only: a conflicting
// attempt was aborted before commit, so nothing was applied. ErrUnavailable
// on a write is returned as is since its outcome is unknown. Reads are
// idempotent and are retried on ErrUnavailable with exponential backoff.
type RetryPolicy struct {
	TxnAttempts  int
	ReadAttempts int
	ReadBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{TxnAttempts: 3, ReadAttempts: 3, ReadBackoff: 50 * time.Millisecond}
}

type Retrying struct {
	inner  Store
	policy RetryPolicy
}

func WithRetry(inner Store, policy RetryPolicy) *Retrying {
	if policy.TxnAttempts < 1 {
		policy.TxnAttempts = 1
	}
	if policy.ReadAttempts < 1 {
		policy.ReadAttempts = 1
	}
	return &Retrying{inner: inner, policy: policy}
}

func (r *Retrying) Get(ctx context.Context, path, id string) (Document, error) {
	var doc Document
	err := r.retryRead(ctx, "get "+path, func() error {
		var err error
		doc, err = r.inner.Get(ctx, path, id)
		return err
	})
	return doc, err
}

func (r *Retrying) Query(ctx context.Context, q Query) ([]Document, error) {
	var docs []Document
	err := r.retryRead(ctx, "query "+q.String(), func() error {
		var err error
		docs, err = r.inner.Query(ctx, q)
		return err
	})
	return docs, err
}

func (r *Retrying) retryRead(ctx context.Context, what string, fn func() error) error {
	backoff := r.policy.ReadBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrUnavailable) || attempt >= r.policy.ReadAttempts {
			return err
		}
		logger.Warnf("docstore: %s unavailable (attempt %d/%d), retry in %v: %v", what, attempt, r.policy.ReadAttempts, backoff, err)
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (r *Retrying) Batch(ctx context.Context, ops ...Op) error {
	return r.retryConflict(ctx, "batch", func() error { return r.inner.Batch(ctx, ops...) })
}

func (r *Retrying) RunTransaction(ctx context.Context, fn TxnFunc) error {
	return r.retryConflict(ctx, "transaction", func() error { return r.inner.RunTransaction(ctx, fn) })
}

func (r *Retrying) retryConflict(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.policy.TxnAttempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		logger.Debugf("docstore: %s conflict (attempt %d/%d)", what, attempt, r.policy.TxnAttempts)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", err, r.policy.TxnAttempts)
}

func (r *Retrying) Close() error { return r.inner.Close() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
