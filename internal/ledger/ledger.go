// Package ledger maintains the version history of submissions.
//
// Version numbers are contiguous from 1 and assigned from persisted state.
// Appends for the same (title, user) are serialized through a Locker and
// committed with a conditional push, so concurrent uploads of the same
// submission each get a distinct number and none is lost. Versions are
// never modified or removed except by purging the whole submission.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tbourn/go-review-backend/internal/domain"
	"github.com/tbourn/go-review-backend/internal/repo"
)

var (
	// ErrNotFound is returned when no submission exists for a key.
	ErrNotFound = errors.New("submission not found")
	// ErrVersionNotFound is returned when the submission has no such version.
	ErrVersionNotFound = errors.New("version not found")
	// ErrDuplicate is returned by Create when the key is taken.
	ErrDuplicate = errors.New("submission already exists")
	// ErrUnavailable wraps transient store failures that outlived retries.
	ErrUnavailable = errors.New("store unavailable")
	// ErrContention is returned when an append kept losing conditional pushes.
	ErrContention = errors.New("too many concurrent version conflicts")
)

var versionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "review_version_conflicts_total",
	Help: "Conditional version appends that lost against a concurrent append.",
})

// Entry is the content of a new version.
type Entry struct {
	DocumentID string
	Checklist  string
	Results    domain.Results
}

// Ledger assigns version numbers and persists versions through a repo.Store.
type Ledger struct {
	store        repo.Store
	locker       Locker
	cache        *VersionCache
	now          func() time.Time
	maxConflicts int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocker replaces the default in-process MemoryLocker.
func WithLocker(l Locker) Option { return func(lg *Ledger) { lg.locker = l } }

// WithCache enables the version cache.
func WithCache(c *VersionCache) Option { return func(lg *Ledger) { lg.cache = c } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(lg *Ledger) { lg.now = now } }

// WithMaxConflicts bounds re-reads after a lost conditional push.
func WithMaxConflicts(n int) Option { return func(lg *Ledger) { lg.maxConflicts = n } }

// New returns a Ledger over store.
func New(store repo.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		locker:       NewMemoryLocker(),
		now:          time.Now,
		maxConflicts: 5,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// mapErr translates store errors into ledger errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return ErrDuplicate
	case errors.Is(err, repo.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// AppendVersion returns a copy of sub with a new version appended. It does
// not touch sub or any store.
func AppendVersion(sub domain.Submission, number int, ts time.Time, e Entry) domain.Submission {
	versions := make([]domain.Version, len(sub.Versions), len(sub.Versions)+1)
	copy(versions, sub.Versions)
	sub.Versions = append(versions, domain.Version{
		Number:     number,
		Timestamp:  ts,
		DocumentID: e.DocumentID,
		Checklist:  e.Checklist,
		Results:    e.Results,
	})
	return sub
}

// versionTime returns now at second precision, moved past the latest
// existing timestamp so versions stay strictly ordered in time.
func versionTime(sub domain.Submission, now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Second)
	for _, v := range sub.Versions {
		if !ts.After(v.Timestamp) {
			ts = v.Timestamp.UTC().Truncate(time.Second).Add(time.Second)
		}
	}
	return ts
}

// Get returns the full submission.
func (l *Ledger) Get(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error) {
	sub, err := l.store.FindOne(ctx, key)
	return sub, mapErr(err)
}

// Exists reports whether a submission exists for key.
func (l *Ledger) Exists(ctx context.Context, key domain.SubmissionKey) (bool, error) {
	_, err := l.store.FindOne(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repo.ErrNotFound):
		return false, nil
	}
	return false, mapErr(err)
}

// NextVersionNumber returns one more than the highest persisted version,
// or 1 when the submission does not exist yet.
func (l *Ledger) NextVersionNumber(ctx context.Context, key domain.SubmissionKey) (int, error) {
	sub, err := l.store.FindOne(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, mapErr(err)
	}
	return sub.LastVersion() + 1, nil
}

// FindVersion returns version n of the submission. The submission is
// resolved in the store on every call, so a purge by another process is
// seen immediately; only the version body comes from the cache.
func (l *Ledger) FindVersion(ctx context.Context, key domain.SubmissionKey, n int) (domain.Version, error) {
	id, last, err := l.store.Head(ctx, key)
	if err != nil {
		return domain.Version{}, mapErr(err)
	}
	if n < 1 || n > last {
		return domain.Version{}, ErrVersionNotFound
	}
	if v, ok := l.cache.Get(id, n); ok {
		return v, nil
	}
	sub, err := l.store.FindOne(ctx, key)
	if err != nil {
		return domain.Version{}, mapErr(err)
	}
	v, ok := sub.Version(n)
	if !ok {
		return domain.Version{}, ErrVersionNotFound
	}
	l.cache.Add(sub.ID, v)
	return v, nil
}

// ListVersionNumbers returns the submission's version numbers, ascending.
func (l *Ledger) ListVersionNumbers(ctx context.Context, key domain.SubmissionKey) ([]int, error) {
	sub, err := l.store.FindOne(ctx, key)
	if err != nil {
		return nil, mapErr(err)
	}
	return sub.Numbers(), nil
}

// ListTitles returns the user's distinct submission titles, sorted.
func (l *Ledger) ListTitles(ctx context.Context, userID string) ([]string, error) {
	titles, err := l.store.DistinctTitles(ctx, userID)
	return titles, mapErr(err)
}

// Create persists a new submission whose only version is number 1.
func (l *Ledger) Create(ctx context.Context, key domain.SubmissionKey, e Entry) (domain.Submission, error) {
	ts := versionTime(domain.Submission{}, l.now())
	sub := AppendVersion(domain.Submission{
		ID:         uuid.NewString(),
		UserID:     key.UserID,
		Title:      key.Title,
		DocumentID: e.DocumentID,
		CreatedAt:  ts,
	}, 1, ts, e)

	if err := l.store.Insert(ctx, &sub); err != nil {
		return domain.Submission{}, mapErr(err)
	}
	return sub, nil
}

// Append adds the next version to an existing submission and returns it.
//
// The per-key lock is held from the read of the latest number to the
// conditional push. A lost push (another replica, or a lock that expired)
// re-reads and retries a bounded number of times. If a retried push turns
// out to have already landed, the stored version is returned instead of
// appending the same document twice.
func (l *Ledger) Append(ctx context.Context, key domain.SubmissionKey, e Entry) (domain.Version, error) {
	unlock, err := l.lock(ctx, key)
	if err != nil {
		return domain.Version{}, err
	}
	defer unlock()

	for attempt := 0; attempt <= l.maxConflicts; attempt++ {
		sub, err := l.store.FindOne(ctx, key)
		if err != nil {
			return domain.Version{}, mapErr(err)
		}
		last := sub.LastVersion()
		if attempt > 0 && e.DocumentID != "" {
			if v, ok := sub.Version(last); ok && v.DocumentID == e.DocumentID {
				return v, nil
			}
		}

		next := AppendVersion(*sub, last+1, versionTime(*sub, l.now()), e)
		v := next.Versions[len(next.Versions)-1]

		err = l.store.PushVersion(ctx, key, last, v)
		if err == nil {
			l.cache.Add(sub.ID, v)
			return v, nil
		}
		if !errors.Is(err, repo.ErrVersionConflict) {
			return domain.Version{}, mapErr(err)
		}
		versionConflictsTotal.Inc()
	}
	return domain.Version{}, ErrContention
}

// Delete purges a submission with all of its versions.
func (l *Ledger) Delete(ctx context.Context, key domain.SubmissionKey) (int64, error) {
	unlock, err := l.lock(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if id, _, err := l.store.Head(ctx, key); err == nil {
		defer l.cache.Forget(id)
	}
	n, err := l.store.Delete(ctx, key)
	return n, mapErr(err)
}

// lock takes the per-key lock. A caller that gave up while waiting gets its
// own context error back.
func (l *Ledger) lock(ctx context.Context, key domain.SubmissionKey) (func(), error) {
	unlock, err := l.locker.Lock(ctx, key.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return unlock, nil
}

// Stats returns the count and latest modification time of the user's submissions.
func (l *Ledger) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	n, max, err := l.store.Stats(ctx, userID)
	return n, max, mapErr(err)
}

// Ping checks the store.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
