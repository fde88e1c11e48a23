package commons

import (
	"net/http"

	"github.com/pkg/errors"
)

// ValidationError is returned for uploads the service refuses to process
// (wrong content type, undecodable image).
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InferenceError wraps any failure of the detection model.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return "inference failed: " + e.Err.Error() }

func (e *InferenceError) Unwrap() error { return e.Err }

// MediaFormatError is returned when a video stream can't be opened at all.
type MediaFormatError struct {
	Reason string
	Err    error
}

func (e *MediaFormatError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *MediaFormatError) Unwrap() error { return e.Err }

// HistoryCorruptionError means the history backend holds data that can't be
// parsed. It is never repaired automatically.
type HistoryCorruptionError struct {
	Source string
	Err    error
}

func (e *HistoryCorruptionError) Error() string {
	return "history " + e.Source + " is corrupt: " + e.Err.Error()
}

func (e *HistoryCorruptionError) Unwrap() error { return e.Err }

func NewValidationError(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

func NewInferenceError(err error) error {
	if err == nil {
		return nil
	}
	var inferenceErr *InferenceError
	if errors.As(err, &inferenceErr) {
		return err
	}
	return &InferenceError{Err: err}
}

func NewMediaFormatError(reason string, err error) error {
	return &MediaFormatError{Reason: reason, Err: err}
}

func NewHistoryCorruptionError(source string, err error) error {
	return &HistoryCorruptionError{Source: source, Err: err}
}

// StatusCode maps an error onto the HTTP status the handlers answer with.
func StatusCode(err error) int {
	var validationErr *ValidationError
	var mediaErr *MediaFormatError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr), errors.As(err, &mediaErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is the caller's fault.
func IsClientError(err error) bool {
	return StatusCode(err) < http.StatusInternalServerError
}
