// Package testutil provides builders and in-memory fakes for the docsmith
// pipeline tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docsmith/docsmith/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:         model.JobTypeInitialIngestion,
			RepoID:       "1001",
			RepoFullName: "acme/widgets",
			Payload:      json.RawMessage(`{"clone_url": "https://example.com/acme/widgets.git", "default_branch": "main"}`),
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithRepo sets the repository reference.
func (b *JobRequestBuilder) WithRepo(id, fullName string) *JobRequestBuilder {
	b.req.RepoID = id
	b.req.RepoFullName = fullName
	return b
}

// WithPayload sets the job payload from a string.
func (b *JobRequestBuilder) WithPayload(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// Build returns the constructed request.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// JobBuilder provides a fluent interface for building Job objects for testing.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a new JobBuilder with sensible defaults.
func NewJob() *JobBuilder {
	now := time.Now().UTC()
	return &JobBuilder{
		job: &model.Job{
			ID:           uuid.NewString(),
			Type:         model.JobTypeInitialIngestion,
			Status:       model.JobStatusQueued,
			RepoID:       "1001",
			RepoFullName: "acme/widgets",
			Payload:      json.RawMessage(`{"clone_url": "https://example.com/acme/widgets.git", "default_branch": "main"}`),
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithType sets the job type.
func (b *JobBuilder) WithType(jobType model.JobType) *JobBuilder {
	b.job.Type = jobType
	return b
}

// WithStatus sets the job status.
func (b *JobBuilder) WithStatus(status model.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithPayload sets the job payload from a string.
func (b *JobBuilder) WithPayload(payload string) *JobBuilder {
	b.job.Payload = json.RawMessage(payload)
	return b
}

// Build returns the constructed job.
func (b *JobBuilder) Build() *model.Job {
	return b.job
}

// RelayEntryBuilder provides a fluent interface for building RelayEntry objects for testing.
type RelayEntryBuilder struct {
	entry *model.RelayEntry
}

// NewRelayEntry creates a new RelayEntryBuilder tied to the given job id.
func NewRelayEntry(jobID string) *RelayEntryBuilder {
	now := time.Now().UTC()
	return &RelayEntryBuilder{
		entry: &model.RelayEntry{
			ID:        uuid.NewString(),
			JobID:     jobID,
			Topic:     "docsmith.jobs",
			Payload:   json.RawMessage(fmt.Sprintf(`{"job_id": %q, "job_type": "initial_ingestion", "repo_id": "1001", "repo_full_name": "acme/widgets"}`, jobID)),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// WithRetries sets retry_count and stamps last_attempt_at in the past.
func (b *RelayEntryBuilder) WithRetries(count int, lastAttempt time.Time) *RelayEntryBuilder {
	b.entry.RetryCount = count
	b.entry.LastAttemptAt = &lastAttempt
	return b
}

// WithError records a publish error on the entry.
func (b *RelayEntryBuilder) WithError(msg string) *RelayEntryBuilder {
	b.entry.LastError = &msg
	return b
}

// Published marks the entry delivered.
func (b *RelayEntryBuilder) Published(messageID string) *RelayEntryBuilder {
	b.entry.Published = true
	b.entry.MessageID = &messageID
	return b
}

// Build returns the constructed entry.
func (b *RelayEntryBuilder) Build() *model.RelayEntry {
	return b.entry
}

// PushEventJSON renders a push webhook body for the given ref and file lists.
func PushEventJSON(ref string, added, modified []string) []byte {
	event := model.PushEvent{
		Ref:    ref,
		Before: "aaaaaaa",
		After:  "bbbbbbb",
	}
	event.Repository = model.WebhookRepository{
		ID:            1001,
		FullName:      "acme/widgets",
		DefaultBranch: "main",
		CloneURL:      "https://example.com/acme/widgets.git",
	}
	event.Commits = []model.PushCommit{{
		ID:       "bbbbbbb",
		Message:  "update",
		Added:    added,
		Modified: modified,
	}}
	body, _ := json.Marshal(event)
	return body
}

// PREventJSON renders a pull request webhook body for the given action.
func PREventJSON(action string, number int) []byte {
	event := model.PullRequestEvent{
		Action: action,
		Number: number,
	}
	event.PullRequest.Head.Ref = "feature/docs"
	event.PullRequest.Base.Ref = "main"
	event.Repository = model.WebhookRepository{
		ID:            1001,
		FullName:      "acme/widgets",
		DefaultBranch: "main",
		CloneURL:      "https://example.com/acme/widgets.git",
	}
	body, _ := json.Marshal(event)
	return body
}
