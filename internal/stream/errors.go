package stream

import "errors"

var (
	// ErrStreamInProgress means the conversation already has a live job.
	ErrStreamInProgress = errors.New("stream already in progress")

	// ErrQuotaExceeded means the shared-tier daily ceiling is reached.
	ErrQuotaExceeded = errors.New("daily ai quota exceeded")
)

// Post-admission failures are surfaced through the job's error field, not
// as Go errors; these are the fixed messages.
const (
	errNoAPIKey = "No API key available"
	errStale    = "Cleaned up stale job"
)
