package domain

import "errors"

// Failure classes shared by the extraction clients, the job queue and the review flow.
var (
	// ErrConnection marks connectivity or credential failures. Retrying cannot help.
	ErrConnection = errors.New("connection or authentication failure")

	// ErrThrottled marks provider quota exhaustion. Not retried immediately.
	ErrThrottled = errors.New("provider quota exhausted")

	// ErrSemantic marks unusable extraction output: unparseable JSON or an
	// absent/invalid required field. Recorded as a failed item.
	ErrSemantic = errors.New("unusable extraction result")

	ErrNotFound        = errors.New("not found")
	ErrAlreadyReviewed = errors.New("pending record already reviewed")
	ErrInvalidInput    = errors.New("invalid input")
)
