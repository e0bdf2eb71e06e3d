package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/data"
	apperrors "github.com/docsmith/docsmith/internal/errors"
	"github.com/docsmith/docsmith/internal/domain/model"
)

// FakeJobRepo is an in-memory JobRepository enforcing the same
// compare-and-set transition semantics as the Postgres implementation.
type FakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	history map[string][]model.JobStatus

	// FailCreate, when set, makes Create return this error.
	FailCreate error
}

// NewFakeJobRepo creates an empty fake job repository.
func NewFakeJobRepo() *FakeJobRepo {
	return &FakeJobRepo{
		jobs:    make(map[string]*model.Job),
		history: make(map[string][]model.JobStatus),
	}
}

// Transitions returns the statuses a job moved through, in order. Only
// transitions that actually won their compare-and-set are recorded.
func (r *FakeJobRepo) Transitions(id string) []model.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.JobStatus, len(r.history[id]))
	copy(out, r.history[id])
	return out
}

// Put seeds a job directly.
func (r *FakeJobRepo) Put(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
}

// Create inserts a queued job.
func (r *FakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if r.FailCreate != nil {
		return nil, r.FailCreate
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	job := &model.Job{
		ID:           uuid.NewString(),
		Type:         req.Type,
		Status:       model.JobStatusQueued,
		RepoID:       req.RepoID,
		RepoFullName: req.RepoFullName,
		Payload:      req.Payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

// GetByID retrieves a job copy.
func (r *FakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// List returns jobs matching the filters, newest first.
func (r *FakeJobRepo) List(_ context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Job
	for _, job := range r.jobs {
		if opts != nil {
			if opts.RepoID != "" && job.RepoID != opts.RepoID {
				continue
			}
			if opts.Type != "" && job.Type != opts.Type {
				continue
			}
			if opts.Status != "" && job.Status != opts.Status {
				continue
			}
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= len(out) {
				return nil, nil
			}
			out = out[opts.Offset:]
		}
		if opts.Limit > 0 && opts.Limit < len(out) {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

// Stats counts jobs per status.
func (r *FakeJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &model.JobStats{}
	for _, job := range r.jobs {
		switch job.Status {
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusDispatched:
			stats.Dispatched++
		case model.JobStatusInProgress:
			stats.InProgress++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (r *FakeJobRepo) transition(id string, allowed []model.JobStatus, to model.JobStatus, mutate func(*model.Job)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	permitted := false
	for _, status := range allowed {
		if job.Status == status {
			permitted = true
			break
		}
	}
	if !permitted {
		return false, nil
	}

	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(job)
	}
	r.history[id] = append(r.history[id], to)
	return true, nil
}

// MarkDispatched transitions queued → dispatched.
func (r *FakeJobRepo) MarkDispatched(_ context.Context, id string) (bool, error) {
	return r.transition(id, []model.JobStatus{model.JobStatusQueued}, model.JobStatusDispatched, nil)
}

// MarkInProgress transitions queued/dispatched → in_progress.
func (r *FakeJobRepo) MarkInProgress(_ context.Context, id string) (bool, error) {
	return r.transition(id,
		[]model.JobStatus{model.JobStatusQueued, model.JobStatusDispatched},
		model.JobStatusInProgress,
		func(j *model.Job) {
			now := time.Now().UTC()
			if j.StartedAt == nil {
				j.StartedAt = &now
			}
		})
}

// MarkCompleted transitions in_progress → completed.
func (r *FakeJobRepo) MarkCompleted(_ context.Context, id, resultID string) (bool, error) {
	return r.transition(id,
		[]model.JobStatus{model.JobStatusInProgress},
		model.JobStatusCompleted,
		func(j *model.Job) {
			now := time.Now().UTC()
			j.CompletedAt = &now
			j.ResultID = &resultID
			j.LastError = nil
		})
}

// MarkFailed transitions any non-terminal status → failed.
func (r *FakeJobRepo) MarkFailed(_ context.Context, id, errMsg string) (bool, error) {
	return r.transition(id,
		[]model.JobStatus{model.JobStatusQueued, model.JobStatusDispatched, model.JobStatusInProgress},
		model.JobStatusFailed,
		func(j *model.Job) {
			now := time.Now().UTC()
			j.CompletedAt = &now
			j.LastError = &errMsg
		})
}

// FakeRelayRepo is an in-memory RelayRepository.
type FakeRelayRepo struct {
	mu      sync.Mutex
	entries map[string]*model.RelayEntry
}

// NewFakeRelayRepo creates an empty fake relay repository.
func NewFakeRelayRepo() *FakeRelayRepo {
	return &FakeRelayRepo{entries: make(map[string]*model.RelayEntry)}
}

// Put seeds an entry directly.
func (r *FakeRelayRepo) Put(entry *model.RelayEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries[entry.ID] = &cp
}

// GetByID retrieves an entry copy.
func (r *FakeRelayRepo) GetByID(_ context.Context, id string) (*model.RelayEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, data.ErrRelayEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

// GetByJobID retrieves the entry staged for a job.
func (r *FakeRelayRepo) GetByJobID(_ context.Context, jobID string) (*model.RelayEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.JobID == jobID {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, data.ErrRelayEntryNotFound
}

// ListUnpublished returns never-attempted entries.
func (r *FakeRelayRepo) ListUnpublished(_ context.Context, limit int) ([]*model.RelayEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.RelayEntry
	for _, entry := range r.entries {
		if entry.Published || entry.PermanentlyFailed || entry.LastAttemptAt != nil {
			continue
		}
		cp := *entry
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListRetryable returns errored entries older than the age guard.
func (r *FakeRelayRepo) ListRetryable(_ context.Context, params core.ListRetryableParams) ([]*model.RelayEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(params.OlderThanSeconds) * time.Second)
	var out []*model.RelayEntry
	for _, entry := range r.entries {
		if entry.Published || entry.PermanentlyFailed || entry.LastAttemptAt == nil {
			continue
		}
		if entry.LastAttemptAt.After(cutoff) {
			continue
		}
		cp := *entry
		out = append(out, &cp)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

// MarkPublished flips an entry to published.
func (r *FakeRelayRepo) MarkPublished(_ context.Context, id, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.Published {
		return false, nil
	}
	now := time.Now().UTC()
	entry.Published = true
	entry.MessageID = &messageID
	entry.LastError = nil
	entry.LastAttemptAt = &now
	entry.UpdatedAt = now
	return true, nil
}

// RecordFailure stores the error and bumps retry_count.
func (r *FakeRelayRepo) RecordFailure(_ context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.Published || entry.PermanentlyFailed {
		return false, nil
	}
	now := time.Now().UTC()
	entry.LastError = &errMsg
	entry.RetryCount++
	entry.LastAttemptAt = &now
	entry.UpdatedAt = now
	return true, nil
}

// MarkPermanentlyFailed parks an entry.
func (r *FakeRelayRepo) MarkPermanentlyFailed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.Published || entry.PermanentlyFailed {
		return false, nil
	}
	entry.PermanentlyFailed = true
	entry.UpdatedAt = time.Now().UTC()
	return true, nil
}

// FakeIntakeStore pairs the fake job and relay repositories behind the
// single-transaction intake port.
type FakeIntakeStore struct {
	Jobs  *FakeJobRepo
	Relay *FakeRelayRepo

	// FailWith, when set, makes CreateJobWithRelay return this error.
	FailWith error
}

// NewFakeIntakeStore creates a store over fresh fake repositories.
func NewFakeIntakeStore() *FakeIntakeStore {
	return &FakeIntakeStore{
		Jobs:  NewFakeJobRepo(),
		Relay: NewFakeRelayRepo(),
	}
}

// CreateJobWithRelay inserts a job and its relay entry together.
func (s *FakeIntakeStore) CreateJobWithRelay(
	ctx context.Context,
	params core.CreateJobWithRelayParams,
) (*model.Job, *model.RelayEntry, error) {
	if s.FailWith != nil {
		return nil, nil, s.FailWith
	}
	if validateErr := params.Request.Validate(); validateErr != nil {
		return nil, nil, apperrors.ValidationField("payload", validateErr.Error())
	}

	job, err := s.Jobs.Create(ctx, params.Request)
	if err != nil {
		return nil, nil, err
	}

	descriptor := model.Descriptor{
		JobID:        job.ID,
		JobType:      job.Type,
		RepoID:       job.RepoID,
		RepoFullName: job.RepoFullName,
	}
	payload, err := descriptor.Encode()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	entry := &model.RelayEntry{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Topic:     params.Topic,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Relay.Put(entry)
	return job, entry, nil
}

// FakeResultRepo is an in-memory ResultRepository with insert-once semantics.
type FakeResultRepo struct {
	mu      sync.Mutex
	results map[string]*model.Result // keyed by job id
}

// NewFakeResultRepo creates an empty fake result repository.
func NewFakeResultRepo() *FakeResultRepo {
	return &FakeResultRepo{results: make(map[string]*model.Result)}
}

// Create stores a result unless one already exists for the job.
func (r *FakeResultRepo) Create(_ context.Context, params core.CreateResultParams) (*model.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.results[params.JobID]; ok {
		cp := *existing
		return &cp, nil
	}

	result := &model.Result{
		ID:           uuid.NewString(),
		JobID:        params.JobID,
		RepoID:       params.RepoID,
		RepoFullName: params.RepoFullName,
		Status:       model.JobStatusCompleted,
		Analysis:     params.Analysis,
		DurationMs:   params.DurationMs,
		CreatedAt:    time.Now().UTC(),
	}
	r.results[params.JobID] = result
	cp := *result
	return &cp, nil
}

// GetByJobID retrieves the result stored for a job.
func (r *FakeResultRepo) GetByJobID(_ context.Context, jobID string) (*model.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, ok := r.results[jobID]
	if !ok {
		return nil, data.ErrResultNotFound
	}
	cp := *result
	return &cp, nil
}

// ListByRepo returns results for a repository.
func (r *FakeResultRepo) ListByRepo(_ context.Context, repoID string, _, _ int) ([]*model.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Result
	for _, result := range r.results {
		if result.RepoID == repoID {
			cp := *result
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PublishedMessage records one Publish call on the fake bus.
type PublishedMessage struct {
	Topic   string
	Payload []byte
	ID      string
}

// FakeBus is an in-memory BusPublisher with failure injection.
type FakeBus struct {
	mu        sync.Mutex
	topics    map[string]bool
	published []PublishedMessage
	seq       int

	// FailNext makes the next N Publish calls fail.
	FailNext int
	// FailWith overrides the injected error.
	FailWith error
}

// NewFakeBus creates an empty fake bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{topics: make(map[string]bool)}
}

// EnsureTopic records the topic; repeat calls are no-ops.
func (b *FakeBus) EnsureTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = true
	return nil
}

// Publish appends the payload, or fails while FailNext is positive.
func (b *FakeBus) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailNext > 0 {
		b.FailNext--
		if b.FailWith != nil {
			return "", b.FailWith
		}
		return "", errors.New("bus unavailable")
	}

	b.seq++
	id := fmt.Sprintf("%d-0", b.seq)
	b.published = append(b.published, PublishedMessage{Topic: topic, Payload: payload, ID: id})
	return id, nil
}

// Published returns a copy of all accepted messages.
func (b *FakeBus) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// HasTopic reports whether EnsureTopic saw the topic.
func (b *FakeBus) HasTopic(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[topic]
}

// ScriptedConsumer is a BusConsumer that replays a fixed message sequence,
// then blocks until the context is done.
type ScriptedConsumer struct {
	mu     sync.Mutex
	queue  []*core.BusMessage
	acked  []string
	closed bool
	wake   chan struct{}
}

// NewScriptedConsumer creates a consumer over the given deliveries.
func NewScriptedConsumer(msgs ...*core.BusMessage) *ScriptedConsumer {
	return &ScriptedConsumer{queue: msgs, wake: make(chan struct{}, 1)}
}

// Push appends a delivery to the script and wakes a blocked Receive.
func (c *ScriptedConsumer) Push(msgs ...*core.BusMessage) {
	c.mu.Lock()
	c.queue = append(c.queue, msgs...)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Receive pops the next scripted delivery, or blocks until one is pushed or
// ctx is done.
func (c *ScriptedConsumer) Receive(ctx context.Context) (*core.BusMessage, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.wake:
		}
	}
}

// Ack records the delivery id.
func (c *ScriptedConsumer) Ack(_ context.Context, msg *core.BusMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

// Close marks the consumer closed.
func (c *ScriptedConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Acked returns a copy of the acked delivery ids.
func (c *ScriptedConsumer) Acked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.acked))
	copy(out, c.acked)
	return out
}

// Closed reports whether Close was called.
func (c *ScriptedConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeIngestion serves repository content from in-memory maps.
type FakeIngestion struct {
	// Files maps relative path to content for the snapshot view.
	Files map[string]string
	// ReadFailures injects per-path read errors.
	ReadFailures map[string]error
	// ChangeSets maps a manifest key ("pr-7" or "base..head") to its change set.
	ChangeSets map[string]*core.ChangeSet
	// FetchErr, when set, makes FetchSnapshot fail.
	FetchErr error

	mu       sync.Mutex
	cleanups int
}

// NewFakeIngestion creates an empty fake ingestion collaborator.
func NewFakeIngestion() *FakeIngestion {
	return &FakeIngestion{
		Files:        make(map[string]string),
		ReadFailures: make(map[string]error),
		ChangeSets:   make(map[string]*core.ChangeSet),
	}
}

// FetchSnapshot returns a fixed handle for the repository.
func (f *FakeIngestion) FetchSnapshot(_ context.Context, repo core.RepoRef) (*core.Snapshot, error) {
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return &core.Snapshot{Handle: "fake:" + repo.FullName, HeadRevision: "deadbeef0000"}, nil
}

// ListFiles returns the known paths filtered by extension, sorted.
func (f *FakeIngestion) ListFiles(_ context.Context, _ *core.Snapshot, extensions []string) ([]string, error) {
	var out []string
	for path := range f.Files {
		if len(extensions) == 0 {
			out = append(out, path)
			continue
		}
		for _, ext := range extensions {
			if strings.HasSuffix(path, ext) {
				out = append(out, path)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile returns the mapped content or the injected failure.
func (f *FakeIngestion) ReadFile(_ context.Context, _ *core.Snapshot, path string) (string, error) {
	if err, ok := f.ReadFailures[path]; ok {
		return "", err
	}
	content, ok := f.Files[path]
	if !ok {
		return "", fmt.Errorf("no such file %s", path)
	}
	return content, nil
}

// Cleanup counts invocations.
func (f *FakeIngestion) Cleanup(context.Context, *core.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

// Cleanups returns how many times Cleanup ran.
func (f *FakeIngestion) Cleanups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

// ChangedFilesForPR returns the change set scripted under "pr-<n>".
func (f *FakeIngestion) ChangedFilesForPR(_ context.Context, _ core.RepoRef, prNumber int) (*core.ChangeSet, error) {
	set, ok := f.ChangeSets[fmt.Sprintf("pr-%d", prNumber)]
	if !ok {
		return nil, fmt.Errorf("no change set for pr %d", prNumber)
	}
	return set, nil
}

// ChangedFilesForRange returns the change set scripted under "<base>..<head>".
func (f *FakeIngestion) ChangedFilesForRange(_ context.Context, _ core.RepoRef, baseRev, headRev string) (*core.ChangeSet, error) {
	set, ok := f.ChangeSets[baseRev+".."+headRev]
	if !ok {
		return nil, fmt.Errorf("no change set for range %s..%s", baseRev, headRev)
	}
	return set, nil
}
