package platform

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags an expected platform failure. Adapters return *APIError values
// for every expected failure mode; untagged errors mean a programming error.
type Kind string

const (
	KindInvalidToken        Kind = "INVALID_TOKEN"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindFileNotFound        Kind = "FILE_NOT_FOUND"
	KindInvalidScheduleTime Kind = "INVALID_SCHEDULE_TIME"
	KindValidationFailed    Kind = "VALIDATION_FAILED"
	KindUploadInitFailed    Kind = "UPLOAD_INIT_FAILED"
	KindChunkUploadFailed   Kind = "CHUNK_UPLOAD_FAILED"
	KindPublishFailed       Kind = "PUBLISH_FAILED"
	KindFetchFailed         Kind = "FETCH_FAILED"
	KindMalformedResponse   Kind = "MALFORMED_RESPONSE"
	KindNetwork             Kind = "NETWORK_ERROR"
	KindCancelled           Kind = "CANCELLED"
	KindReauthRequired      Kind = "REAUTH_REQUIRED"
	KindNotSupported        Kind = "NOT_SUPPORTED"
)

// APIError is a tagged platform failure.
type APIError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Errf builds a tagged error with a formatted message.
func Errf(kind Kind, format string, args ...any) *APIError {
	return &APIError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *APIError {
	return &APIError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or "" if err is untagged.
func KindOf(err error) Kind {
	var api *APIError
	if errors.As(err, &api) {
		return api.Kind
	}
	return ""
}

// Retryable reports whether the orchestrator may retry the attempt once.
// Only transport-level failures qualify: the response for anything else
// (bad request, malformed body, rejected publish) will not change.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}

// transportError classifies an http.Client error. Caller-driven cancellation
// is surfaced as KindCancelled; everything else, timeouts included, is a
// retryable network failure.
func transportError(ctx context.Context, err error, op string) *APIError {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return Wrap(KindCancelled, err, "%s cancelled", op)
	}
	return Wrap(KindNetwork, err, "%s request failed", op)
}
