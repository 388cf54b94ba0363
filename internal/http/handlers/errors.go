// Package handlers defines the HTTP endpoints of the review API and the
// error taxonomy they share.
//
// Every error response is the envelope
//
//	{"request_id": "...", "code": "duplicate_title", "message": "..."}
//
// Clients branch on code; message is for people.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeTimeout          = "timeout"

	// Upload and lifecycle.
	ErrCodeInvalidUpload    = "invalid_upload"
	ErrCodeUploadTooLarge   = "upload_too_large"
	ErrCodeInvalidTitle     = "invalid_title"
	ErrCodeDuplicateTitle   = "duplicate_title"
	ErrCodeVersionNotFound  = "version_not_found"
	ErrCodeExtractionFailed = "extraction_failed"
	ErrCodeScoringFailed    = "scoring_failed"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeBusy             = "busy"
	ErrCodeReportFailed     = "report_failed"
)
