package domain

import "errors"

// Failure taxonomy. Adapters wrap these so callers can classify with errors.Is.
var (
	ErrSourceFetch           = errors.New("source fetch failed")
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrCorruptDocument       = errors.New("corrupt document")
	ErrAnalysis              = errors.New("analysis failed")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrRecordStoreContention = errors.New("record store contention")
	ErrNotification          = errors.New("notification failed")
	ErrNotFound              = errors.New("not found")
	ErrDimensionMismatch     = errors.New("embedding dimension mismatch")
	ErrRunInProgress         = errors.New("ingestion run already in progress")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrInvalidSetting        = errors.New("invalid setting")
)
