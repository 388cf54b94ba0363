// Package services implements the submission lifecycle: validating uploads,
// extracting and scoring documents, and recording the result as a new
// submission or as the next version of an existing one. This file holds the
// service-level error values; translation into HTTP status codes happens in
// the handler layer.
package services

import "errors"

var (
	// ErrInvalidUpload is returned when no file is attached or its name does
	// not end in .pdf.
	ErrInvalidUpload = errors.New("a .pdf file is required")

	// ErrEmptyTitle is returned when the title is blank after normalization.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrTitleTooLong is returned when the title exceeds the configured limit.
	ErrTitleTooLong = errors.New("title too long")

	// ErrInvalidIntent is returned for an intent other than create or append.
	ErrInvalidIntent = errors.New("intent must be create or append")

	// ErrDuplicateTitle is returned when a create targets an existing
	// (title, user) submission. Nothing is persisted.
	ErrDuplicateTitle = errors.New("a submission with this title already exists")

	// ErrSubmissionNotFound indicates no submission exists for (title, user).
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrVersionNotFound indicates the submission has no such version.
	ErrVersionNotFound = errors.New("version not found")

	// ErrExtractionFailed is returned when no text could be extracted.
	ErrExtractionFailed = errors.New("could not extract text from document")

	// ErrScoringFailed is returned when the scoring collaborator could not be
	// reached or answered with an error. Undecodable output is not an error.
	ErrScoringFailed = errors.New("scoring failed")

	// ErrStoreUnavailable is returned when the store stayed unreachable
	// through all retries.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBusy is returned when concurrent uploads to one submission kept
	// conflicting.
	ErrBusy = errors.New("submission is busy, retry later")

	// ErrUnauthenticated is returned when no identity could be resolved.
	ErrUnauthenticated = errors.New("authentication required")
)
