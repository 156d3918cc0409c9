package types

import "errors"

// Input validation errors abort an upload or selection without touching the store.
var (
	ErrMalformedInput       = errors.New("malformed input")
	ErrMalformedTimestamp   = errors.New("malformed timestamp")
	ErrInvalidColumnarShape = errors.New("invalid columnar shape")
	ErrNoKeysSelected       = errors.New("no keys selected")
	ErrInvalidColor         = errors.New("invalid color")
)

// ErrPersistenceQuotaExceeded is non-fatal: the in-memory store stays usable.
var ErrPersistenceQuotaExceeded = errors.New("persistence quota exceeded")

var (
	ErrSeriesNotFound    = errors.New("series not found")
	ErrUploadInProgress  = errors.New("upload already in progress")
	ErrSeriesIDConflict  = errors.New("series id already used by another file")
	ErrNoPendingUpload   = errors.New("no pending upload")
	ErrSourceUnavailable = errors.New("source data unavailable, re-upload required")
)
