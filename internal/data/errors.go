package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")

	// Relay repository sentinels.
	ErrRelayEntryNotFound = errors.New("relay entry not found")

	// Result repository sentinels.
	ErrResultNotFound      = errors.New("result not found")
	ErrResultAlreadyStored = errors.New("result already stored for job")
	ErrJobIDRequired       = errors.New("job_id is required")
)
