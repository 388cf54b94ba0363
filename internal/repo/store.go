// Package repo implements the DocumentStore adapter: persistence of
// submissions and their append-only version history.
//
// Two backends implement Store. GormStore keeps submissions and versions in
// two relational tables (SQLite through the pure-Go glebarez driver) and is
// the default. MongoStore keeps one document per submission with an embedded
// version array, compatible with documents written by earlier deployments.
// RetryingStore wraps either one and retries transient failures.
//
// Error semantics:
//   - ErrNotFound: no submission for the (title, user) pair.
//   - ErrDuplicate: a submission with the same (title, user) already exists.
//   - ErrVersionConflict: a conditional append lost against a concurrent one.
//   - ErrUnavailable: the backend failed transiently; safe to retry.
//
// Every query and mutation is filtered by both title and user id.
package repo

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-key violation on insert.
var ErrDuplicate = errors.New("duplicate")

// ErrVersionConflict is returned by PushVersion when the stored latest
// version no longer matches the caller's expectation.
var ErrVersionConflict = errors.New("version conflict")

// ErrUnavailable wraps transient backend failures.
var ErrUnavailable = errors.New("store unavailable")

// Store is the persistence contract used by the version ledger.
type Store interface {
	// FindOne returns the submission for key with versions in ascending order.
	FindOne(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error)
	// Head returns the submission's id and latest version number without
	// loading the versions.
	Head(ctx context.Context, key domain.SubmissionKey) (string, int, error)
	// DistinctTitles returns the user's submission titles, sorted.
	DistinctTitles(ctx context.Context, userID string) ([]string, error)
	// Insert persists a new submission together with its versions.
	Insert(ctx context.Context, sub *domain.Submission) error
	// PushVersion appends v if the stored latest version number equals
	// expectedLast and v.Number == expectedLast+1.
	PushVersion(ctx context.Context, key domain.SubmissionKey, expectedLast int, v domain.Version) error
	// Delete removes the submission for key and reports how many were removed.
	Delete(ctx context.Context, key domain.SubmissionKey) (int64, error)
	// Stats returns the number of the user's submissions and the latest
	// modification time among them (nil when there are none).
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
	Ping(ctx context.Context) error
}

// unavailable marks err as transient.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// isUniqueViolation matches driver errors for UNIQUE constraint failures.
// glebarez/sqlite often returns plain-text errors instead of gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "e11000")
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	low := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "database table is locked", "sqlite_busy", "connection refused", "connection reset", "server selection error"} {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

// classify maps a raw backend error to the package's error vocabulary.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrVersionConflict):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicate
	case isTransient(err):
		return unavailable(err)
	}
	return err
}
