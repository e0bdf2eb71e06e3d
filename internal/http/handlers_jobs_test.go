package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/domain/model"
	"github.com/docsmith/docsmith/internal/service"
)

func (f *routerFixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	return rec
}

func (f *routerFixture) seedJob(t *testing.T, jobType model.JobType, repoID string, payload any) *model.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job, err := f.store.Jobs.Create(context.Background(), &model.CreateJobRequest{
		Type:         jobType,
		RepoID:       repoID,
		RepoFullName: "acme/widgets",
		Payload:      raw,
	})
	require.NoError(t, err)
	return job
}

func TestCreateJob(t *testing.T) {
	f := newRouterFixture(t)
	body := []byte(`{
		"type": "push_analysis",
		"repo_id": "1001",
		"repo_full_name": "acme/widgets",
		"payload": {"ref": "refs/heads/main", "changed_files": ["a.go"]}
	}`)

	rec := f.do(t, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	// Manual jobs take the same intake path as webhooks, so the delivery
	// record must exist too.
	entry, err := f.store.Relay.GetByJobID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, entry.JobID)
}

func TestCreateJobInvalidPayload(t *testing.T) {
	f := newRouterFixture(t)
	body := []byte(`{
		"type": "pr_analysis",
		"repo_id": "1001",
		"repo_full_name": "acme/widgets",
		"payload": {"action": "opened"}
	}`)

	rec := f.do(t, http.MethodPost, "/api/jobs", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")
}

func TestCreateJobUnknownField(t *testing.T) {
	f := newRouterFixture(t)
	body := []byte(`{"type": "push_analysis", "surprise": true}`)

	rec := f.do(t, http.MethodPost, "/api/jobs", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	f := newRouterFixture(t)
	job := f.seedJob(t, model.JobTypePushAnalysis, "1001", model.PushAnalysisPayload{
		Ref:          "refs/heads/main",
		ChangedFiles: []string{"a.go"},
	})

	rec := f.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "acme/widgets", got.RepoFullName)
}

func TestGetJobNotFound(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/jobs/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestGetJobDelivery(t *testing.T) {
	f := newRouterFixture(t)
	body := []byte(`{
		"type": "push_analysis",
		"repo_id": "1001",
		"repo_full_name": "acme/widgets",
		"payload": {"ref": "refs/heads/main", "changed_files": ["a.go"]}
	}`)
	rec := f.do(t, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = f.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/delivery", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var delivery service.JobDelivery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &delivery))
	require.NotNil(t, delivery.Job)
	require.NotNil(t, delivery.Relay)
	assert.Equal(t, job.ID, delivery.Relay.JobID)
	assert.False(t, delivery.Relay.Published)
}

func TestListJobsFilters(t *testing.T) {
	f := newRouterFixture(t)
	push := model.PushAnalysisPayload{Ref: "refs/heads/main", ChangedFiles: []string{"a.go"}}
	f.seedJob(t, model.JobTypePushAnalysis, "1001", push)
	f.seedJob(t, model.JobTypePushAnalysis, "2002", push)
	f.seedJob(t, model.JobTypePRAnalysis, "1001", model.PRAnalysisPayload{PRNumber: 7, Action: "opened"})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "all", query: "", want: 3},
		{name: "by repo", query: "?repo_id=1001", want: 2},
		{name: "by type", query: "?type=pr_analysis", want: 1},
		{name: "by status", query: "?status=completed", want: 0},
		{name: "limit", query: "?limit=1", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/jobs"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp struct {
				Jobs []*model.Job `json:"jobs"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Len(t, resp.Jobs, tt.want)
		})
	}
}

func TestJobStats(t *testing.T) {
	f := newRouterFixture(t)
	push := model.PushAnalysisPayload{Ref: "refs/heads/main", ChangedFiles: []string{"a.go"}}
	f.seedJob(t, model.JobTypePushAnalysis, "1001", push)
	job := f.seedJob(t, model.JobTypePushAnalysis, "1001", push)
	changed, err := f.store.Jobs.MarkDispatched(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, changed)

	rec := f.do(t, http.MethodGet, "/api/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Dispatched)
}

func TestGetResult(t *testing.T) {
	f := newRouterFixture(t)
	job := f.seedJob(t, model.JobTypePushAnalysis, "1001", model.PushAnalysisPayload{
		Ref:          "refs/heads/main",
		ChangedFiles: []string{"a.go"},
	})

	// No result until the worker completes the job.
	rec := f.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/result", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := f.results.Create(context.Background(), core.CreateResultParams{
		JobID:        job.ID,
		RepoID:       job.RepoID,
		RepoFullName: job.RepoFullName,
		Analysis:     []byte(`{"total_files": 1}`),
		DurationMs:   42,
	})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, job.ID, result.JobID)
	assert.Equal(t, int64(42), result.DurationMs)
}

func TestListRepoResults(t *testing.T) {
	f := newRouterFixture(t)
	job := f.seedJob(t, model.JobTypePushAnalysis, "1001", model.PushAnalysisPayload{
		Ref:          "refs/heads/main",
		ChangedFiles: []string{"a.go"},
	})
	_, err := f.results.Create(context.Background(), core.CreateResultParams{
		JobID:        job.ID,
		RepoID:       job.RepoID,
		RepoFullName: job.RepoFullName,
		Analysis:     []byte(`{}`),
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/repos/1001/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []*model.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, job.ID, resp.Results[0].JobID)

	rec = f.do(t, http.MethodGet, "/api/repos/9999/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}
