// Package model defines the core data types for the docsmith documentation pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType identifies which processing routine a job runs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	// JobTypeInitialIngestion analyzes a full repository snapshot and generates
	// onboarding and architecture documentation.
	JobTypeInitialIngestion JobType = "initial_ingestion"
	// JobTypePRAnalysis analyzes the diff of a pull request and generates a PR summary.
	JobTypePRAnalysis JobType = "pr_analysis"
	// JobTypePushAnalysis analyzes an explicit changed-file list from a push.
	JobTypePushAnalysis JobType = "push_analysis"
	// JobTypeDeltaAnalysis analyzes files changed between two revisions.
	JobTypeDeltaAnalysis JobType = "delta_analysis"

	// JobStatusQueued indicates a job is durably recorded but not yet handed to the bus.
	JobStatusQueued JobStatus = "queued"
	// JobStatusDispatched indicates the job descriptor was delivered to the message bus.
	JobStatusDispatched JobStatus = "dispatched"
	// JobStatusInProgress indicates a worker is executing the job.
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusCompleted indicates the job finished and a Result was recorded.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job terminally failed; LastError is set.
	JobStatusFailed JobStatus = "failed"
)

// ErrNoPendingEntries is returned when the relay has no entries awaiting publish.
var ErrNoPendingEntries = errors.New("no pending relay entries")

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeInitialIngestion || t == JobTypePRAnalysis ||
		t == JobTypePushAnalysis || t == JobTypeDeltaAnalysis
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusDispatched || s == JobStatusInProgress ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true for statuses that no transition may leave.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the forward-only state machine permits from → to.
// failed is reachable from any non-terminal state so delivery and processing
// failures can both terminate a job.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case JobStatusDispatched:
		return from == JobStatusQueued
	case JobStatusInProgress:
		return from == JobStatusQueued || from == JobStatusDispatched
	case JobStatusCompleted:
		return from == JobStatusInProgress
	case JobStatusFailed:
		return true
	case JobStatusQueued:
		return false
	}
	return false
}

// Job is the durable unit of work: one request to analyze/document a
// repository or a subset of its changes. Jobs are append-only; they are never
// deleted and only move forward through the status machine.
type Job struct {
	ID           string          `json:"id"                     db:"id"`
	Type         JobType         `json:"type"                   db:"type"`
	Status       JobStatus       `json:"status"                 db:"status"`
	RepoID       string          `json:"repo_id"                db:"repo_id"`
	RepoFullName string          `json:"repo_full_name"         db:"repo_full_name"`
	Payload      json.RawMessage `json:"payload"                db:"payload"`
	StartedAt    *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ResultID     *string         `json:"result_id,omitempty"    db:"result_id"`
	LastError    *string         `json:"last_error,omitempty"   db:"last_error"`
	CreatedAt    time.Time       `json:"created_at"             db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"             db:"updated_at"`
}

// CreateJobRequest carries everything needed to record a new job.
type CreateJobRequest struct {
	Type         JobType         `json:"type"`
	RepoID       string          `json:"repo_id"`
	RepoFullName string          `json:"repo_full_name"`
	Payload      json.RawMessage `json:"payload"`
}

// Validate checks the request, including the type-specific payload variant.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if strings.TrimSpace(r.RepoID) == "" {
		return errors.New("repo id is required")
	}
	if strings.TrimSpace(r.RepoFullName) == "" {
		return errors.New("repo full name is required")
	}
	payload, err := DecodeJobPayload(r.Type, r.Payload)
	if err != nil {
		return err
	}
	return payload.Validate()
}

// Descriptor is the flat message-bus contract for a job. No binary fields.
type Descriptor struct {
	JobID        string  `json:"job_id"`
	JobType      JobType `json:"job_type"`
	RepoID       string  `json:"repo_id"`
	RepoFullName string  `json:"repo_full_name"`
}

// Encode renders the descriptor as the JSON bus payload.
func (d Descriptor) Encode() (json.RawMessage, error) {
	return json.Marshal(d)
}

// DecodeDescriptor parses a bus message payload into a Descriptor.
func DecodeDescriptor(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if d.JobID == "" {
		return nil, errors.New("descriptor is missing job_id")
	}
	if !d.JobType.Valid() {
		return nil, fmt.Errorf("descriptor has invalid job_type %q", d.JobType)
	}
	return &d, nil
}

// Descriptor builds the bus message for a job.
func (j *Job) Descriptor() Descriptor {
	return Descriptor{
		JobID:        j.ID,
		JobType:      j.Type,
		RepoID:       j.RepoID,
		RepoFullName: j.RepoFullName,
	}
}

// JobStats counts jobs per lifecycle state, read by dashboards.
type JobStats struct {
	Queued     int `json:"queued"`
	Dispatched int `json:"dispatched"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// JobListOptions filters the job listing surface.
type JobListOptions struct {
	RepoID string
	Type   JobType
	Status JobStatus
	Limit  int
	Offset int
}
