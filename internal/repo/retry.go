package repo

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// RetryingStore retries operations that fail with ErrUnavailable under an
// exponential backoff starting at delay. Not-found, duplicate and conflict
// errors are returned immediately.
type RetryingStore struct {
	next    Store
	retries uint
	delay   time.Duration
}

// NewRetryingStore wraps next. retries is the number of extra attempts.
func NewRetryingStore(next Store, retries int, delay time.Duration) *RetryingStore {
	if retries < 0 {
		retries = 0
	}
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &RetryingStore{next: next, retries: uint(retries), delay: delay}
}

func (r *RetryingStore) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.delay
	b.MaxInterval = 20 * r.delay
	return b
}

// retry runs fn until it succeeds, fails permanently, runs out of attempts
// or ctx is done.
func retry[T any](ctx context.Context, r *RetryingStore, op string, fn func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(r.retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Warn().Err(err).Str("op", op).Dur("backoff", next).Msg("store unavailable, retrying")
		}),
	)
}

func (r *RetryingStore) FindOne(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error) {
	return retry(ctx, r, "find_one", func() (*domain.Submission, error) {
		return r.next.FindOne(ctx, key)
	})
}

func (r *RetryingStore) Head(ctx context.Context, key domain.SubmissionKey) (string, int, error) {
	type head struct {
		id   string
		last int
	}
	h, err := retry(ctx, r, "head", func() (head, error) {
		id, last, err := r.next.Head(ctx, key)
		return head{id, last}, err
	})
	return h.id, h.last, err
}

func (r *RetryingStore) DistinctTitles(ctx context.Context, userID string) ([]string, error) {
	return retry(ctx, r, "distinct_titles", func() ([]string, error) {
		return r.next.DistinctTitles(ctx, userID)
	})
}

// Insert retries like the other operations. An attempt can commit and still
// report a transient failure, so a duplicate on a later attempt is checked
// against the stored id before it is returned.
func (r *RetryingStore) Insert(ctx context.Context, sub *domain.Submission) error {
	attempts := 0
	_, err := retry(ctx, r, "insert", func() (struct{}, error) {
		attempts++
		return struct{}{}, r.next.Insert(ctx, sub)
	})
	if attempts > 1 && errors.Is(err, ErrDuplicate) && sub.ID != "" {
		stored, ferr := r.next.FindOne(ctx, sub.Key())
		if ferr == nil && stored.ID == sub.ID {
			log.Ctx(ctx).Info().Str("submission_id", sub.ID).Msg("insert committed on an earlier attempt")
			return nil
		}
	}
	return err
}

func (r *RetryingStore) PushVersion(ctx context.Context, key domain.SubmissionKey, expectedLast int, v domain.Version) error {
	_, err := retry(ctx, r, "push_version", func() (struct{}, error) {
		return struct{}{}, r.next.PushVersion(ctx, key, expectedLast, v)
	})
	return err
}

func (r *RetryingStore) Delete(ctx context.Context, key domain.SubmissionKey) (int64, error) {
	return retry(ctx, r, "delete", func() (int64, error) {
		return r.next.Delete(ctx, key)
	})
}

func (r *RetryingStore) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	type stats struct {
		n   int64
		max *time.Time
	}
	s, err := retry(ctx, r, "stats", func() (stats, error) {
		n, max, err := r.next.Stats(ctx, userID)
		return stats{n, max}, err
	})
	return s.n, s.max, err
}

func (r *RetryingStore) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}
