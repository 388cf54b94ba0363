// Package domain defines the core types of the review service: submissions,
// their append-only version history, and the scored checklist results each
// version carries. The GORM persistence records live alongside in records.go.
package domain

import (
	"sort"
	"time"
)

// SubmissionKey is the identity of a submission. A title is only unique
// within one user's submissions, so every lookup and mutation is scoped by
// both fields together.
type SubmissionKey struct {
	Title  string
	UserID string
}

// String returns a stable representation used for lock and cache keys.
func (k SubmissionKey) String() string {
	return k.UserID + "\x00" + k.Title
}

// Submission is the logical unit of work for one (title, user) pair.
//
// Fields:
//   - ID: opaque identifier assigned once at creation.
//   - UserID: owning identity; immutable.
//   - Title: human-supplied title; immutable, part of the identity key.
//   - DocumentID: identifier of the file uploaded when the submission was created.
//   - CreatedAt: creation time of the submission.
//   - Versions: scored versions in chronological (and numeric) order; never empty
//     once the submission is persisted.
type Submission struct {
	ID         string    `json:"submission_id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
	Versions   []Version `json:"versions"`
}

// Key returns the submission's identity key.
func (s Submission) Key() SubmissionKey {
	return SubmissionKey{Title: s.Title, UserID: s.UserID}
}

// LastVersion returns the highest version number, or 0 when there is none.
func (s Submission) LastVersion() int {
	max := 0
	for _, v := range s.Versions {
		if v.Number > max {
			max = v.Number
		}
	}
	return max
}

// Version returns the version with the given number.
func (s Submission) Version(n int) (Version, bool) {
	for _, v := range s.Versions {
		if v.Number == n {
			return v, true
		}
	}
	return Version{}, false
}

// Numbers returns all version numbers in ascending order.
func (s Submission) Numbers() []int {
	out := make([]int, 0, len(s.Versions))
	for _, v := range s.Versions {
		out = append(out, v.Number)
	}
	sort.Ints(out)
	return out
}

// Version is one immutable, timestamped scoring pass of a submission.
type Version struct {
	Number     int       `json:"number"`
	Timestamp  time.Time `json:"timestamp"`
	DocumentID string    `json:"document_id"`
	// Checklist names the template revision that produced Results.
	Checklist string  `json:"checklist,omitempty"`
	Results   Results `json:"results"`
}
