package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs    core.JobRepository    // Required: job repository
	Relay   core.RelayRepository  // Required: relay repository
	Results core.ResultRepository // Required: result repository
	Logger  *slog.Logger          // Optional: structured logger
}

// JobService is the read surface over the pipeline's records: job status,
// delivery state, results, and aggregate counts.
type JobService struct {
	jobs    core.JobRepository
	relay   core.RelayRepository
	results core.ResultRepository
	logger  *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Relay == nil {
		return nil, errors.New("RelayRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		jobs:    opts.Jobs,
		relay:   opts.Relay,
		results: opts.Results,
		logger:  logger,
	}, nil
}

// GetJob retrieves a job by id.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, apperrors.ValidationField("id", "job id is required")
	}
	return s.jobs.GetByID(ctx, id)
}

// JobDelivery pairs a job with its relay entry for status inspection.
type JobDelivery struct {
	Job   *model.Job        `json:"job"`
	Relay *model.RelayEntry `json:"relay"`
}

// GetJobDelivery retrieves a job together with its delivery record.
func (s *JobService) GetJobDelivery(ctx context.Context, id string) (*JobDelivery, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, err := s.relay.GetByJobID(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &JobDelivery{Job: job, Relay: entry}, nil
}

// ListJobs returns jobs matching the filter options, newest first.
func (s *JobService) ListJobs(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, apperrors.ValidationField("type", "invalid job type")
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, apperrors.ValidationField("status", "invalid job status")
	}
	return s.jobs.List(ctx, opts)
}

// GetStats returns job counts per lifecycle state.
func (s *JobService) GetStats(ctx context.Context) (*model.JobStats, error) {
	return s.jobs.Stats(ctx)
}

// GetResult retrieves the result stored for a completed job.
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.Result, error) {
	if jobID == "" {
		return nil, apperrors.ValidationField("id", "job id is required")
	}
	return s.results.GetByJobID(ctx, jobID)
}

// ListResultsByRepo returns results for a repository, newest first.
func (s *JobService) ListResultsByRepo(ctx context.Context, repoID string, limit, offset int) ([]*model.Result, error) {
	if repoID == "" {
		return nil, apperrors.ValidationField("repo_id", "repo id is required")
	}
	return s.results.ListByRepo(ctx, repoID, limit, offset)
}
