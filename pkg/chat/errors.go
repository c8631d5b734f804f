package chat

import (
	"errors"

	"chatsync/pkg/ingest"
)

// Failure taxonomy surfaced to callers. None of these trigger automatic
// retries; retry is always a user-initiated re-send.
var (
	// ErrValidation: the request was rejected locally before any write.
	ErrValidation = errors.New("validation failed")
	// ErrSendFailed: the transport or pipeline failed; the caller may
	// retry manually.
	ErrSendFailed = errors.New("send failed")
	// ErrTransport: a non-send write could not reach the pipeline.
	ErrTransport = errors.New("transport failure")
	// ErrNotFound: the conversation or message no longer exists; callers
	// should treat the state as already resolved, not as a hard error.
	ErrNotFound = ingest.ErrNotFound
	// ErrPermissionDenied: the acting user may not perform the mutation.
	ErrPermissionDenied = ingest.ErrPermissionDenied
)
