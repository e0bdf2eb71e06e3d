package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
	"github.com/docsmith/docsmith/internal/observability/metrics"
	"github.com/docsmith/docsmith/internal/observability/statsd"
)

// IntakeServiceOptions groups dependencies for IntakeService.
type IntakeServiceOptions struct {
	Store   core.IntakeStore      // Required: transactional job+relay store
	Config  config.PipelineConfig // Required: pipeline configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
	// Wake is signalled after each accepted trigger so the reactive
	// publisher drains the new relay entry without polling.
	Wake chan<- struct{}
}

// IntakeService converts external triggers into durable jobs.
//
// Every accepted trigger writes a Job and its RelayEntry in one transaction;
// filtered triggers are acknowledged without any write. Webhook-sourced
// triggers must pass HMAC signature verification before intake looks at the
// payload at all.
type IntakeService struct {
	store   core.IntakeStore
	config  config.PipelineConfig
	logger  *slog.Logger
	metrics statsd.Sink
	wake    chan<- struct{}
}

// NewIntakeService constructs a new IntakeService.
func NewIntakeService(opts IntakeServiceOptions) (*IntakeService, error) {
	if opts.Store == nil {
		return nil, errors.New("IntakeStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "intake_service")
	}

	return &IntakeService{
		store:   opts.Store,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		wake:    opts.Wake,
	}, nil
}

// SubmitOutcome reports what intake did with a trigger. A filtered trigger is
// acknowledged with Accepted=false and a reason; it is not an error.
type SubmitOutcome struct {
	Accepted bool       `json:"accepted"`
	Reason   string     `json:"reason,omitempty"`
	Job      *model.Job `json:"job,omitempty"`
}

func filtered(reason string) *SubmitOutcome {
	return &SubmitOutcome{Accepted: false, Reason: reason}
}

// Submit validates the request and creates the job plus its relay entry.
// Exactly one Job and one RelayEntry exist per accepted call.
func (s *IntakeService) Submit(ctx context.Context, req *model.CreateJobRequest) (*SubmitOutcome, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}

	job, entry, err := s.store.CreateJobWithRelay(ctx, core.CreateJobWithRelayParams{
		Request: req,
		Topic:   s.config.Topic,
	})
	if err != nil {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			JobType:    string(req.Type),
			Transition: "queued",
			Result:     metrics.ResultError,
			Err:        err,
		})
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job accepted",
			"job_id", job.ID,
			"job_type", job.Type,
			"repo", job.RepoFullName,
			"relay_entry_id", entry.ID,
		)
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: "queued",
		Result:     metrics.ResultSuccess,
	})

	s.signalWake()

	return &SubmitOutcome{Accepted: true, Job: job}, nil
}

// signalWake nudges the publisher without blocking intake. A full channel
// means a drain is already pending, which covers this entry too.
func (s *IntakeService) signalWake() {
	if s.wake == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SubmitPREvent converts a pull request webhook event into a pr_analysis job.
// Actions outside the accepted set are acknowledged without creating work.
func (s *IntakeService) SubmitPREvent(ctx context.Context, event *model.PullRequestEvent) (*SubmitOutcome, error) {
	if event == nil {
		return nil, apperrors.Validation("event body is required")
	}
	if event.Repository.ID == 0 || event.Repository.FullName == "" {
		return nil, apperrors.ValidationField("repository", "repository reference is required")
	}
	if event.Number <= 0 {
		return nil, apperrors.ValidationField("number", "pull request number is required")
	}

	if !model.PRActionAccepted(event.Action) {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "pr event filtered", "action", event.Action, "repo", event.Repository.FullName)
		}
		return filtered(fmt.Sprintf("pr action %q is not processed", event.Action)), nil
	}

	payload, err := model.EncodeJobPayload(&model.PRAnalysisPayload{
		PRNumber: event.Number,
		Action:   event.Action,
		HeadRef:  event.PullRequest.Head.Ref,
		BaseRef:  event.PullRequest.Base.Ref,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode pr payload")
	}

	return s.Submit(ctx, &model.CreateJobRequest{
		Type:         model.JobTypePRAnalysis,
		RepoID:       strconv.FormatInt(event.Repository.ID, 10),
		RepoFullName: event.Repository.FullName,
		Payload:      payload,
	})
}

// SubmitPushEvent converts a push webhook event into a push_analysis job.
// Only pushes to the default branch produce work.
func (s *IntakeService) SubmitPushEvent(ctx context.Context, event *model.PushEvent) (*SubmitOutcome, error) {
	if event == nil {
		return nil, apperrors.Validation("event body is required")
	}
	if event.Repository.ID == 0 || event.Repository.FullName == "" {
		return nil, apperrors.ValidationField("repository", "repository reference is required")
	}
	if event.Ref == "" {
		return nil, apperrors.ValidationField("ref", "ref is required")
	}

	if !model.IsDefaultBranchRef(event.Ref) {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "push event filtered", "ref", event.Ref, "repo", event.Repository.FullName)
		}
		return filtered(fmt.Sprintf("ref %q is not the default branch", event.Ref)), nil
	}

	changed := event.ChangedFiles()
	if len(changed) == 0 {
		return filtered("push contains no added or modified files"), nil
	}

	payload, err := model.EncodeJobPayload(&model.PushAnalysisPayload{
		Ref:          event.Ref,
		BeforeSHA:    event.Before,
		AfterSHA:     event.After,
		ChangedFiles: changed,
		CommitCount:  len(event.Commits),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode push payload")
	}

	return s.Submit(ctx, &model.CreateJobRequest{
		Type:         model.JobTypePushAnalysis,
		RepoID:       strconv.FormatInt(event.Repository.ID, 10),
		RepoFullName: event.Repository.FullName,
		Payload:      payload,
	})
}

// SubmitIngestion creates an initial_ingestion job for a repository. This is
// the manual trigger path; it carries no webhook signature.
func (s *IntakeService) SubmitIngestion(ctx context.Context, repo model.WebhookRepository, defaultBranch string) (*SubmitOutcome, error) {
	if repo.ID == 0 || repo.FullName == "" {
		return nil, apperrors.ValidationField("repository", "repository reference is required")
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	payload, err := model.EncodeJobPayload(&model.InitialIngestionPayload{
		CloneURL:      repo.CloneURL,
		DefaultBranch: defaultBranch,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode ingestion payload")
	}

	return s.Submit(ctx, &model.CreateJobRequest{
		Type:         model.JobTypeInitialIngestion,
		RepoID:       strconv.FormatInt(repo.ID, 10),
		RepoFullName: repo.FullName,
		Payload:      payload,
	})
}

const signaturePrefix = "sha256="

// VerifyWebhookSignature checks the HMAC-SHA256 signature over the raw
// request body. The comparison is constant-time; any mismatch, malformed
// header, or missing secret rejects the delivery before intake reads the
// payload.
func (s *IntakeService) VerifyWebhookSignature(body []byte, signatureHeader string) error {
	if s.config.WebhookSecret == "" {
		return apperrors.Authentication("webhook secret is not configured")
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return apperrors.Authentication("missing or malformed signature header")
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, signaturePrefix))
	if err != nil {
		return apperrors.Authentication("signature is not valid hex")
	}

	mac := hmac.New(sha256.New, []byte(s.config.WebhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return apperrors.Authentication("signature mismatch")
	}
	return nil
}

// DecodePREvent parses a pull request webhook body.
func DecodePREvent(body []byte) (*model.PullRequestEvent, error) {
	var event model.PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperrors.ValidationField("body", "malformed pull request event")
	}
	return &event, nil
}

// DecodePushEvent parses a push webhook body.
func DecodePushEvent(body []byte) (*model.PushEvent, error) {
	var event model.PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperrors.ValidationField("body", "malformed push event")
	}
	return &event, nil
}
