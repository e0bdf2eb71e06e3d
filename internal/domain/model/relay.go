package model

import (
	"encoding/json"
	"time"
)

// RelayEntry is the durable staging record bridging job creation and the
// message bus. An entry is written in the same transaction as its Job so a
// queued job can never silently lack a delivery attempt. Entries are never
// deleted; published and permanently_failed are the only terminal shapes.
type RelayEntry struct {
	ID                string          `json:"id"                        db:"id"`
	JobID             string          `json:"job_id"                    db:"job_id"`
	Topic             string          `json:"topic"                     db:"topic"`
	Payload           json.RawMessage `json:"payload"                   db:"payload"`
	Published         bool            `json:"published"                 db:"published"`
	MessageID         *string         `json:"message_id,omitempty"      db:"message_id"`
	LastError         *string         `json:"last_error,omitempty"      db:"last_error"`
	RetryCount        int             `json:"retry_count"               db:"retry_count"`
	PermanentlyFailed bool            `json:"permanently_failed"        db:"permanently_failed"`
	LastAttemptAt     *time.Time      `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CreatedAt         time.Time       `json:"created_at"                db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"                db:"updated_at"`
}

// Retryable reports whether the sweeper may still attempt this entry.
func (e *RelayEntry) Retryable(maxRetries int) bool {
	return !e.Published && !e.PermanentlyFailed && e.RetryCount < maxRetries
}
