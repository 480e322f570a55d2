package domain

import "errors"

// Error classes the job scheduler distinguishes. ErrRaceCondition marks
// lock contention: the job must be retried, never dropped.
var (
	ErrRaceCondition     = errors.New("race condition: could not acquire lock")
	ErrWebfingerRedirect = errors.New("webfinger redirect could not be confirmed")
)
