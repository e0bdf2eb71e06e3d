// Package core defines the ports between the pipeline's services and its
// data, bus, and collaborator adapters.
package core

import (
	"context"

	"github.com/docsmith/docsmith/internal/domain/model"
)

// Repository ports. Every mutation of Job, RelayEntry, and Result state goes
// through these named operations so the lifecycle invariants are enforced in
// one place. All Mark* operations are compare-and-set on status and report
// whether a row actually changed, which is how duplicate bus deliveries and
// sweeper races resolve to a single winner.

// JobRepository defines job store operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	// MarkDispatched transitions queued → dispatched.
	MarkDispatched(ctx context.Context, id string) (bool, error)
	// MarkInProgress transitions queued/dispatched → in_progress, stamping started_at.
	MarkInProgress(ctx context.Context, id string) (bool, error)
	// MarkCompleted transitions in_progress → completed, recording the result id.
	MarkCompleted(ctx context.Context, id, resultID string) (bool, error)
	// MarkFailed transitions any non-terminal status → failed, recording the error.
	MarkFailed(ctx context.Context, id, errMsg string) (bool, error)
}

// CreateJobWithRelayParams groups parameters for IntakeStore.CreateJobWithRelay.
type CreateJobWithRelayParams struct {
	Request *model.CreateJobRequest
	Topic   string
}

// IntakeStore creates a Job and its RelayEntry in one transaction, so an
// accepted trigger can never produce a job with no delivery record.
type IntakeStore interface {
	CreateJobWithRelay(ctx context.Context, params CreateJobWithRelayParams) (*model.Job, *model.RelayEntry, error)
}

// ListRetryableParams bounds a sweeper selection of failed relay entries.
type ListRetryableParams struct {
	// OlderThanSeconds excludes entries attempted within this window, to avoid
	// racing a late reactive publish.
	OlderThanSeconds int
	Limit            int
}

// RelayRepository defines outbound-queue staging operations.
type RelayRepository interface {
	GetByID(ctx context.Context, id string) (*model.RelayEntry, error)
	GetByJobID(ctx context.Context, jobID string) (*model.RelayEntry, error)
	// ListUnpublished returns entries never yet attempted, for the reactive path.
	ListUnpublished(ctx context.Context, limit int) ([]*model.RelayEntry, error)
	// ListRetryable returns errored, unpublished, non-parked entries for the sweeper.
	ListRetryable(ctx context.Context, params ListRetryableParams) ([]*model.RelayEntry, error)
	// MarkPublished records the bus message id and clears any error.
	MarkPublished(ctx context.Context, id, messageID string) (bool, error)
	// RecordFailure stores the publish error, bumps retry_count, stamps last_attempt_at.
	RecordFailure(ctx context.Context, id, errMsg string) (bool, error)
	// MarkPermanentlyFailed parks an entry after the retry bound is exhausted.
	MarkPermanentlyFailed(ctx context.Context, id string) (bool, error)
}

// CreateResultParams groups parameters for ResultRepository.Create.
type CreateResultParams struct {
	JobID        string
	RepoID       string
	RepoFullName string
	Analysis     []byte
	DurationMs   int64
}

// ResultRepository defines insert-once result storage.
type ResultRepository interface {
	Create(ctx context.Context, params CreateResultParams) (*model.Result, error)
	GetByJobID(ctx context.Context, jobID string) (*model.Result, error)
	ListByRepo(ctx context.Context, repoID string, limit, offset int) ([]*model.Result, error)
}

// Message bus ports.

// BusPublisher delivers job descriptors to a topic, at least once.
type BusPublisher interface {
	// EnsureTopic creates the topic if absent; safe to call repeatedly.
	EnsureTopic(ctx context.Context, topic string) error
	// Publish appends the payload and returns the bus-assigned message id.
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// BusMessage is one delivery from the bus. DeliveryCount is ≥1 and grows on
// redelivery of un-acked messages.
type BusMessage struct {
	ID            string
	Topic         string
	Payload       []byte
	DeliveryCount int64
}

// BusConsumer receives deliveries from a topic. Receive blocks until a
// message arrives or the context is done. A message that is never acked is
// redelivered; Ack makes the delivery final.
type BusConsumer interface {
	Receive(ctx context.Context) (*BusMessage, error)
	Ack(ctx context.Context, msg *BusMessage) error
	Close() error
}

// Collaborator ports (implementations are external concerns; the pipeline
// only depends on these seams).

// RepoRef identifies a repository to the ingestion collaborator.
type RepoRef struct {
	ID       string
	FullName string
	CloneURL string
}

// ChangeKind classifies a file within a change set.
type ChangeKind string

const (
	ChangeKindAdded    ChangeKind = "added"
	ChangeKindModified ChangeKind = "modified"
	ChangeKindDeleted  ChangeKind = "deleted"
)

// Snapshot is a handle to fetched repository content.
type Snapshot struct {
	Handle       string
	HeadRevision string
}

// ChangedFile is one file in a change set. HasContent is false for deleted
// files and for files whose content the collaborator could not supply.
type ChangedFile struct {
	Path         string
	Kind         ChangeKind
	AddedLines   int
	RemovedLines int
	Content      string
	HasContent   bool
}

// ChangeSet is the diff view the ingestion collaborator produces for a PR or
// revision range.
type ChangeSet struct {
	Files   []ChangedFile
	Commits []model.Commit
}

// Ingestion fetches repository content and diffs.
type Ingestion interface {
	FetchSnapshot(ctx context.Context, repo RepoRef) (*Snapshot, error)
	ListFiles(ctx context.Context, snap *Snapshot, extensions []string) ([]string, error)
	ReadFile(ctx context.Context, snap *Snapshot, path string) (string, error)
	Cleanup(ctx context.Context, snap *Snapshot) error
	ChangedFilesForPR(ctx context.Context, repo RepoRef, prNumber int) (*ChangeSet, error)
	ChangedFilesForRange(ctx context.Context, repo RepoRef, baseRev, headRev string) (*ChangeSet, error)
}

// Analyzer extracts structural facts from one source file. It never fails the
// caller: a file it cannot parse yields a degraded (possibly empty) analysis.
type Analyzer interface {
	Analyze(path, content string) model.FileAnalysis
}

// DocContext carries job-level context into document generation.
type DocContext struct {
	RepoFullName string
	JobType      model.JobType
	PRNumber     int
	Commits      []model.Commit
}

// DocGenerator produces one documentation artifact. Implementations must fall
// back to a deterministic template when their backing model is unavailable
// rather than failing the job.
type DocGenerator interface {
	Generate(ctx context.Context, kind model.DocumentKind, files []model.FileAnalysis, docCtx DocContext) (model.Document, error)
}
