package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// flakyStore fails the first n calls of every method with err.
type flakyStore struct {
	Store
	fails int
	err   error
	calls int
}

func (f *flakyStore) FindOne(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, f.err
	}
	return &domain.Submission{Title: key.Title, UserID: key.UserID}, nil
}

func (f *flakyStore) PushVersion(ctx context.Context, key domain.SubmissionKey, expectedLast int, v domain.Version) error {
	f.calls++
	if f.calls <= f.fails {
		return f.err
	}
	return nil
}

func TestRetryingStore_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyStore{fails: 2, err: unavailable(errors.New("database is locked"))}
	s := NewRetryingStore(inner, 3, time.Millisecond)

	sub, err := s.FindOne(context.Background(), domain.SubmissionKey{Title: "T", UserID: "u"})
	if err != nil || sub == nil {
		t.Fatalf("FindOne = %v, %v", sub, err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingStore_ExhaustedSurfacesUnavailable(t *testing.T) {
	inner := &flakyStore{fails: 10, err: unavailable(errors.New("connection refused"))}
	s := NewRetryingStore(inner, 2, time.Millisecond)

	err := s.PushVersion(context.Background(), domain.SubmissionKey{}, 0, domain.Version{Number: 1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 1 try + 2 retries, got %d", inner.calls)
	}
}

func TestRetryingStore_DoesNotRetryConflicts(t *testing.T) {
	for _, e := range []error{ErrVersionConflict, ErrDuplicate, ErrNotFound} {
		inner := &flakyStore{fails: 10, err: e}
		s := NewRetryingStore(inner, 5, time.Millisecond)
		if err := s.PushVersion(context.Background(), domain.SubmissionKey{}, 0, domain.Version{Number: 1}); !errors.Is(err, e) {
			t.Fatalf("expected %v, got %v", e, err)
		}
		if inner.calls != 1 {
			t.Fatalf("%v retried %d times", e, inner.calls-1)
		}
	}
}

func TestRetryingStore_StopsOnContextCancel(t *testing.T) {
	inner := &flakyStore{fails: 10, err: unavailable(errors.New("timeout"))}
	s := NewRetryingStore(inner, 5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.FindOne(ctx, domain.SubmissionKey{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single call before cancellation, got %d", inner.calls)
	}
}

// committedButLostStore commits the first Insert and then reports a
// transient failure, as a dropped connection after commit would.
type committedButLostStore struct {
	Store
	lost bool
}

func (c *committedButLostStore) Insert(ctx context.Context, sub *domain.Submission) error {
	if err := c.Store.Insert(ctx, sub); err != nil {
		return err
	}
	if !c.lost {
		c.lost = true
		return unavailable(errors.New("connection reset by peer"))
	}
	return nil
}

func TestRetryingStore_InsertCommittedOnEarlierAttempt(t *testing.T) {
	base, _ := openTestStore(t)
	s := NewRetryingStore(&committedButLostStore{Store: base}, 3, time.Millisecond)
	ctx := context.Background()

	sub := sampleSubmission("u1", "Paper")
	sub.ID = "sub-1"
	if err := s.Insert(ctx, sub); err != nil {
		t.Fatalf("Insert must reconcile with the committed attempt, got %v", err)
	}

	other := sampleSubmission("u1", "Paper")
	other.ID = "sub-2"
	if err := s.Insert(ctx, other); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("a different submission under the same key must stay a duplicate, got %v", err)
	}
	got, err := base.FindOne(ctx, sub.Key())
	if err != nil || got.ID != "sub-1" {
		t.Fatalf("stored = %+v, %v", got, err)
	}
}

func TestRetryingStore_InsertDuplicateWithoutRetryIsReturned(t *testing.T) {
	base, _ := openTestStore(t)
	s := NewRetryingStore(base, 3, time.Millisecond)
	ctx := context.Background()

	first := sampleSubmission("u1", "Paper")
	if err := s.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	again := sampleSubmission("u1", "Paper")
	again.ID = first.ID
	if err := s.Insert(ctx, again); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("a first-attempt duplicate is a real duplicate, got %v", err)
	}
}
