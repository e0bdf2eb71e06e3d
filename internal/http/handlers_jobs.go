package httpx

import (
	"net/http"
	"strconv"

	"github.com/docsmith/docsmith/internal/domain/model"
	"github.com/docsmith/docsmith/internal/service"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Intake *service.IntakeService
	Svc    *service.JobService
}

// CreateJob handles manual job submissions. They flow through the same intake
// path as webhooks so the relay entry and publisher wake are never skipped.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	outcome, err := h.Intake.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, outcome.Job)
}

// GetJob handles HTTP requests to fetch a single job.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetDelivery returns a job together with its relay entry, which is how a
// permanently failed delivery is surfaced to an operator.
func (h *JobHandlers) GetDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.Svc.GetJobDelivery(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, delivery)
}

// ListJobs handles HTTP requests to list jobs with optional filters.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	opts := &model.JobListOptions{
		RepoID: r.URL.Query().Get("repo_id"),
		Type:   model.JobType(r.URL.Query().Get("type")),
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Limit:  parseIntQuery(r, "limit", 0),
		Offset: parseIntQuery(r, "offset", 0),
	}

	jobs, err := h.Svc.ListJobs(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Stats returns job counts per lifecycle state.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.GetStats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// GetResult returns the result stored for a completed job.
func (h *JobHandlers) GetResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.Svc.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// ListRepoResults returns results for one repository, newest first.
func (h *JobHandlers) ListRepoResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Svc.ListResultsByRepo(
		r.Context(),
		r.PathValue("repo_id"),
		parseIntQuery(r, "limit", 0),
		parseIntQuery(r, "offset", 0),
	)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

// parseIntQuery returns the named query parameter as an int, or def when the
// parameter is absent or malformed.
func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
