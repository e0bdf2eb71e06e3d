package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/data"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
	"github.com/docsmith/docsmith/internal/observability/metrics"
)

// analyzeParallelism bounds concurrent file reads within one job.
const analyzeParallelism = 4

// handle drives one bus delivery through the job state machine. A nil return
// means the delivery is final and must be acked; an error leaves the message
// to the bus's redelivery policy.
func (d *Dispatcher) handle(ctx context.Context, msg *core.BusMessage) error {
	descriptor, err := model.DecodeDescriptor(msg.Payload)
	if err != nil {
		// A payload we cannot decode will never decode; retrying is waste.
		if d.logger != nil {
			d.logger.ErrorContext(ctx, "malformed job descriptor; dropping delivery",
				"message_id", msg.ID,
				"error", err,
			)
		}
		d.emit("", "rejected", metrics.ResultError, 0, err)
		return nil
	}

	job, err := d.jobs.GetByID(ctx, descriptor.JobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			// A descriptor for a job that does not exist is a consistency
			// bug upstream, not a transient condition. Drop the delivery.
			if d.logger != nil {
				d.logger.ErrorContext(ctx, "descriptor references missing job; dropping delivery",
					"job_id", descriptor.JobID,
					"message_id", msg.ID,
				)
			}
			d.emit(string(descriptor.JobType), "rejected", metrics.ResultError, 0, err)
			return nil
		}
		return fmt.Errorf("load job %s: %w", descriptor.JobID, err)
	}

	if job.Status.Terminal() {
		if d.logger != nil {
			d.logger.InfoContext(ctx, "duplicate delivery for terminal job; skipping",
				"job_id", job.ID,
				"status", job.Status,
				"delivery_count", msg.DeliveryCount,
			)
		}
		d.emit(string(job.Type), "duplicate", metrics.ResultNoop, 0, nil)
		return nil
	}

	start := time.Now()

	if _, err := d.jobs.MarkInProgress(ctx, job.ID); err != nil {
		return fmt.Errorf("mark job %s in progress: %w", job.ID, err)
	}
	// A no-change here means a previous attempt died mid-run; reprocessing
	// is the recovery path and the insert-once result keeps it safe.

	report, err := d.process(ctx, job)
	if err != nil {
		d.failJob(ctx, job, err)
		d.emit(string(job.Type), "failed", metrics.ResultError, time.Since(start), err)
		return fmt.Errorf("process job %s: %w", job.ID, err)
	}

	analysis, err := json.Marshal(report)
	if err != nil {
		d.failJob(ctx, job, err)
		return fmt.Errorf("encode analysis report for job %s: %w", job.ID, err)
	}

	result, err := d.results.Create(ctx, core.CreateResultParams{
		JobID:        job.ID,
		RepoID:       job.RepoID,
		RepoFullName: job.RepoFullName,
		Analysis:     analysis,
		DurationMs:   time.Since(start).Milliseconds(),
	})
	if err != nil {
		d.failJob(ctx, job, err)
		return fmt.Errorf("store result for job %s: %w", job.ID, err)
	}

	changed, err := d.jobs.MarkCompleted(ctx, job.ID, result.ID)
	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	if !changed {
		// A racing attempt finished first; its terminal fields stand.
		d.emit(string(job.Type), "completed", metrics.ResultNoop, time.Since(start), nil)
		return nil
	}

	if d.logger != nil {
		d.logger.InfoContext(ctx, "job completed",
			"job_id", job.ID,
			"job_type", job.Type,
			"result_id", result.ID,
			"analyzed_files", report.AnalyzedFiles,
			"duration", time.Since(start),
		)
	}
	d.emit(string(job.Type), "completed", metrics.ResultSuccess, time.Since(start), nil)
	return nil
}

func (d *Dispatcher) failJob(ctx context.Context, job *model.Job, cause error) {
	if _, err := d.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil && d.logger != nil {
		d.logger.ErrorContext(ctx, "mark job failed errored",
			"job_id", job.ID,
			"error", err,
			"original_error", cause,
		)
	}
}

func (d *Dispatcher) emit(jobType, transition, result string, duration time.Duration, err error) {
	metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
		JobType:    jobType,
		Transition: transition,
		Result:     result,
		Duration:   duration,
		Err:        err,
	})
}

// process dispatches to the type-specific routine. The switch is exhaustive
// over valid job types; anything else is a processing error.
func (d *Dispatcher) process(ctx context.Context, job *model.Job) (*model.AnalysisReport, error) {
	payload, err := model.DecodeJobPayload(job.Type, job.Payload)
	if err != nil {
		return nil, apperrors.Processing(err, "decode job payload")
	}

	switch p := payload.(type) {
	case *model.InitialIngestionPayload:
		return d.processInitialIngestion(ctx, job, p)
	case *model.PRAnalysisPayload:
		return d.processPRAnalysis(ctx, job, p)
	case *model.PushAnalysisPayload:
		return d.processPushAnalysis(ctx, job, p)
	case *model.DeltaAnalysisPayload:
		return d.processDeltaAnalysis(ctx, job, p)
	default:
		return nil, apperrors.Processing(nil, fmt.Sprintf("no routine for job type %q", job.Type))
	}
}

func repoRef(job *model.Job) core.RepoRef {
	return core.RepoRef{ID: job.RepoID, FullName: job.RepoFullName}
}

// processInitialIngestion snapshots the repository, analyzes a bounded prefix
// of its source files, and generates onboarding plus architecture docs.
func (d *Dispatcher) processInitialIngestion(
	ctx context.Context,
	job *model.Job,
	payload *model.InitialIngestionPayload,
) (*model.AnalysisReport, error) {
	ref := repoRef(job)
	if payload.CloneURL != "" {
		ref.CloneURL = payload.CloneURL
	}

	snap, err := d.ingestion.FetchSnapshot(ctx, ref)
	if err != nil {
		return nil, apperrors.Processing(err, "fetch repository snapshot")
	}
	defer func() {
		if cleanupErr := d.ingestion.Cleanup(ctx, snap); cleanupErr != nil && d.logger != nil {
			d.logger.WarnContext(ctx, "snapshot cleanup failed", "job_id", job.ID, "error", cleanupErr)
		}
	}()

	paths, err := d.ingestion.ListFiles(ctx, snap, d.config.AnalyzeExtensions)
	if err != nil {
		return nil, apperrors.Processing(err, "list repository files")
	}

	report := &model.AnalysisReport{TotalFiles: len(paths)}

	// The cap is a prefix truncation, not a sample.
	if limit := d.config.FileCap; limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	report.Files, report.FailedFiles = d.analyzeSnapshotFiles(ctx, snap, paths)
	report.AnalyzedFiles = len(report.Files)

	docCtx := core.DocContext{RepoFullName: job.RepoFullName, JobType: job.Type}
	if err := d.generateDocs(ctx, report, docCtx,
		model.DocumentKindOnboarding, model.DocumentKindArchitecture); err != nil {
		return nil, err
	}
	return report, nil
}

// analyzeSnapshotFiles reads and analyzes paths with bounded parallelism,
// preserving input order. A file that cannot be read is excluded and listed
// in failed instead of aborting the job.
func (d *Dispatcher) analyzeSnapshotFiles(
	ctx context.Context,
	snap *core.Snapshot,
	paths []string,
) (analyzed []model.FileAnalysis, failed []string) {
	results := make([]*model.FileAnalysis, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeParallelism)
	for i, path := range paths {
		g.Go(func() error {
			content, err := d.ingestion.ReadFile(gctx, snap, path)
			if err != nil {
				errs[i] = err
				return nil
			}
			analysis := d.analyzer.Analyze(path, content)
			results[i] = &analysis
			return nil
		})
	}
	// Workers only record per-file outcomes; the group never carries an error.
	_ = g.Wait()

	for i, path := range paths {
		if errs[i] != nil {
			failed = append(failed, path)
			if d.logger != nil {
				d.logger.WarnContext(ctx, "file analysis skipped",
					"path", path,
					"error", errs[i],
				)
			}
			continue
		}
		if results[i] != nil {
			analyzed = append(analyzed, *results[i])
		}
	}
	return analyzed, failed
}

// processPRAnalysis analyzes the files changed in a pull request. Deleted
// files are recorded as zero-content placeholders with no analysis attempted.
func (d *Dispatcher) processPRAnalysis(
	ctx context.Context,
	job *model.Job,
	payload *model.PRAnalysisPayload,
) (*model.AnalysisReport, error) {
	set, err := d.ingestion.ChangedFilesForPR(ctx, repoRef(job), payload.PRNumber)
	if err != nil {
		return nil, apperrors.Processing(err, "fetch pull request changes")
	}

	report := d.buildChangeReport(ctx, set)

	docCtx := core.DocContext{
		RepoFullName: job.RepoFullName,
		JobType:      job.Type,
		PRNumber:     payload.PRNumber,
		Commits:      set.Commits,
	}
	if err := d.generateDocs(ctx, report, docCtx, model.DocumentKindPRSummary); err != nil {
		return nil, err
	}
	return report, nil
}

// processPushAnalysis analyzes the explicit changed-file list carried by the
// push payload, reading content from a fresh snapshot.
func (d *Dispatcher) processPushAnalysis(
	ctx context.Context,
	job *model.Job,
	payload *model.PushAnalysisPayload,
) (*model.AnalysisReport, error) {
	snap, err := d.ingestion.FetchSnapshot(ctx, repoRef(job))
	if err != nil {
		return nil, apperrors.Processing(err, "fetch repository snapshot")
	}
	defer func() {
		if cleanupErr := d.ingestion.Cleanup(ctx, snap); cleanupErr != nil && d.logger != nil {
			d.logger.WarnContext(ctx, "snapshot cleanup failed", "job_id", job.ID, "error", cleanupErr)
		}
	}()

	report := &model.AnalysisReport{TotalFiles: len(payload.ChangedFiles)}
	report.Files, report.FailedFiles = d.analyzeSnapshotFiles(ctx, snap, payload.ChangedFiles)
	report.AnalyzedFiles = len(report.Files)

	docCtx := core.DocContext{RepoFullName: job.RepoFullName, JobType: job.Type}
	if err := d.generateDocs(ctx, report, docCtx, model.DocumentKindArchitecture); err != nil {
		return nil, err
	}
	return report, nil
}

// processDeltaAnalysis analyzes the files changed between two revisions.
func (d *Dispatcher) processDeltaAnalysis(
	ctx context.Context,
	job *model.Job,
	payload *model.DeltaAnalysisPayload,
) (*model.AnalysisReport, error) {
	set, err := d.ingestion.ChangedFilesForRange(ctx, repoRef(job), payload.BaseRevision, payload.HeadRevision)
	if err != nil {
		return nil, apperrors.Processing(err, "fetch revision range changes")
	}

	report := d.buildChangeReport(ctx, set)

	docCtx := core.DocContext{
		RepoFullName: job.RepoFullName,
		JobType:      job.Type,
		Commits:      set.Commits,
	}
	if err := d.generateDocs(ctx, report, docCtx, model.DocumentKindArchitecture); err != nil {
		return nil, err
	}
	return report, nil
}

// buildChangeReport analyzes a change set sequentially in collaborator order.
func (d *Dispatcher) buildChangeReport(ctx context.Context, set *core.ChangeSet) *model.AnalysisReport {
	report := &model.AnalysisReport{
		TotalFiles: len(set.Files),
		Commits:    set.Commits,
	}

	for _, file := range set.Files {
		if file.Kind == core.ChangeKindDeleted {
			report.Files = append(report.Files, model.FileAnalysis{Path: file.Path, Deleted: true})
			continue
		}
		if !file.HasContent {
			report.FailedFiles = append(report.FailedFiles, file.Path)
			if d.logger != nil {
				d.logger.WarnContext(ctx, "changed file has no content; skipping analysis", "path", file.Path)
			}
			continue
		}
		analysis := d.analyzer.Analyze(file.Path, file.Content)
		report.Files = append(report.Files, analysis)
		report.AnalyzedFiles++
	}
	return report
}

// generateDocs appends one document per kind to the report. Generation
// failures fail the job; collaborators fall back internally when their
// backing model is merely unavailable.
func (d *Dispatcher) generateDocs(
	ctx context.Context,
	report *model.AnalysisReport,
	docCtx core.DocContext,
	kinds ...model.DocumentKind,
) error {
	for _, kind := range kinds {
		doc, err := d.docGen.Generate(ctx, kind, report.Files, docCtx)
		if err != nil {
			return apperrors.Processing(err, fmt.Sprintf("generate %s document", kind))
		}
		report.Documents = append(report.Documents, doc)
	}
	return nil
}
