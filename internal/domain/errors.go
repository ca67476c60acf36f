package domain

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrorClass partitions task failures for retry decisions and reporting.
type ErrorClass string

const (
	// ClassInvalidRequest: malformed user input, rejected before enqueue.
	ClassInvalidRequest ErrorClass = "invalid_request"
	// ClassResolution: source unreachable or unsupported, non-retryable.
	ClassResolution ErrorClass = "resolution"
	// ClassFetch: transient network failure, retryable with backoff.
	ClassFetch ErrorClass = "fetch"
	// ClassTrim: trim bounds invalid for the media, non-retryable.
	ClassTrim ErrorClass = "trim"
	// ClassMerge: external merge/transcode tool missing or failing.
	ClassMerge ErrorClass = "merge"
	// ClassMetadataEmbed: best-effort, recorded as a warning only.
	ClassMetadataEmbed ErrorClass = "metadata_embed"
	// ClassUnknown: anything unclassified; treated as non-retryable.
	ClassUnknown ErrorClass = "unknown"
)

// TaskError is a classified task failure. Hint optionally carries a
// remediation message surfaced to the user alongside the error.
type TaskError struct {
	Class ErrorClass
	Hint  string
	Err   error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the operation may succeed.
func (e *TaskError) Retryable() bool {
	return e.Class == ClassFetch
}

func InvalidRequestError(format string, args ...any) *TaskError {
	return &TaskError{Class: ClassInvalidRequest, Err: fmt.Errorf(format, args...)}
}

func ResolutionError(err error) *TaskError {
	return &TaskError{Class: ClassResolution, Err: err}
}

func FetchError(err error) *TaskError {
	return &TaskError{Class: ClassFetch, Err: err}
}

func TrimError(err error) *TaskError {
	return &TaskError{Class: ClassTrim, Err: err}
}

func MergeError(err error, hint string) *TaskError {
	return &TaskError{Class: ClassMerge, Hint: hint, Err: err}
}

func MetadataEmbedError(err error) *TaskError {
	return &TaskError{Class: ClassMetadataEmbed, Err: err}
}

// ClassOf extracts the error class, ClassUnknown for plain errors.
func ClassOf(err error) ErrorClass {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Class
	}
	return ClassUnknown
}

// Retryable reports whether err belongs to a retryable class.
func Retryable(err error) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}
