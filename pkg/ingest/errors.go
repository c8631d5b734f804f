package ingest

import "errors"

// Apply-time failure taxonomy. The operation layer re-exports these so
// callers can branch without importing the pipeline.
var (
	// ErrNotFound: the referenced conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied: the acting user may not perform the mutation.
	ErrPermissionDenied = errors.New("permission denied")
)
