package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTypeValid(t *testing.T) {
	tests := []struct {
		name     string
		jobType  JobType
		expected bool
	}{
		{name: "initial ingestion", jobType: JobTypeInitialIngestion, expected: true},
		{name: "pr analysis", jobType: JobTypePRAnalysis, expected: true},
		{name: "push analysis", jobType: JobTypePushAnalysis, expected: true},
		{name: "delta analysis", jobType: JobTypeDeltaAnalysis, expected: true},
		{name: "unknown", jobType: JobType("browser"), expected: false},
		{name: "empty", jobType: JobType(""), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.jobType.Valid())
		})
	}
}

func TestJobTypeUnmarshalText(t *testing.T) {
	var jt JobType
	require.NoError(t, jt.UnmarshalText([]byte("  PR_Analysis ")))
	assert.Equal(t, JobTypePRAnalysis, jt)

	err := jt.UnmarshalText([]byte("nope"))
	require.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{name: "queued to dispatched", from: JobStatusQueued, to: JobStatusDispatched, allowed: true},
		{name: "dispatched to in progress", from: JobStatusDispatched, to: JobStatusInProgress, allowed: true},
		{name: "queued to in progress (dispatch race)", from: JobStatusQueued, to: JobStatusInProgress, allowed: true},
		{name: "in progress to completed", from: JobStatusInProgress, to: JobStatusCompleted, allowed: true},
		{name: "in progress to failed", from: JobStatusInProgress, to: JobStatusFailed, allowed: true},
		{name: "queued to failed", from: JobStatusQueued, to: JobStatusFailed, allowed: true},
		{name: "completed is terminal", from: JobStatusCompleted, to: JobStatusFailed, allowed: false},
		{name: "failed is terminal", from: JobStatusFailed, to: JobStatusInProgress, allowed: false},
		{name: "no backward to queued", from: JobStatusDispatched, to: JobStatusQueued, allowed: false},
		{name: "no completed without in progress", from: JobStatusDispatched, to: JobStatusCompleted, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestDecodeJobPayload(t *testing.T) {
	t.Run("pr payload round trip", func(t *testing.T) {
		raw, err := EncodeJobPayload(PRAnalysisPayload{PRNumber: 123, Action: "opened", HeadRef: "feature", BaseRef: "main"})
		require.NoError(t, err)

		decoded, err := DecodeJobPayload(JobTypePRAnalysis, raw)
		require.NoError(t, err)

		pr, ok := decoded.(*PRAnalysisPayload)
		require.True(t, ok)
		assert.Equal(t, 123, pr.PRNumber)
		assert.Equal(t, "opened", pr.Action)
	})

	// The dispatcher routes jobs with pointer type switches, so each variant
	// must decode to its pointer type.
	t.Run("every variant decodes to its pointer type", func(t *testing.T) {
		tests := []struct {
			jobType JobType
			want    JobPayload
		}{
			{jobType: JobTypeInitialIngestion, want: &InitialIngestionPayload{}},
			{jobType: JobTypePRAnalysis, want: &PRAnalysisPayload{}},
			{jobType: JobTypePushAnalysis, want: &PushAnalysisPayload{}},
			{jobType: JobTypeDeltaAnalysis, want: &DeltaAnalysisPayload{}},
		}
		for _, tt := range tests {
			decoded, err := DecodeJobPayload(tt.jobType, json.RawMessage(`{}`))
			require.NoError(t, err)
			assert.IsType(t, tt.want, decoded, "job type %s", tt.jobType)
		}
	})

	t.Run("empty raw decodes to zero variant", func(t *testing.T) {
		decoded, err := DecodeJobPayload(JobTypeInitialIngestion, nil)
		require.NoError(t, err)
		assert.IsType(t, &InitialIngestionPayload{}, decoded)
	})

	t.Run("unknown type is an error", func(t *testing.T) {
		_, err := DecodeJobPayload(JobType("mystery"), json.RawMessage(`{}`))
		require.Error(t, err)
	})
}

func TestCreateJobRequestValidate(t *testing.T) {
	validPR, err := EncodeJobPayload(PRAnalysisPayload{PRNumber: 7, Action: "opened"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr string
	}{
		{
			name: "valid pr request",
			req:  CreateJobRequest{Type: JobTypePRAnalysis, RepoID: "1", RepoFullName: "acme/site", Payload: validPR},
		},
		{
			name:    "missing repo id",
			req:     CreateJobRequest{Type: JobTypePRAnalysis, RepoFullName: "acme/site", Payload: validPR},
			wantErr: "repo id is required",
		},
		{
			name:    "missing repo full name",
			req:     CreateJobRequest{Type: JobTypePRAnalysis, RepoID: "1", Payload: validPR},
			wantErr: "repo full name is required",
		},
		{
			name:    "invalid type",
			req:     CreateJobRequest{Type: JobType("nope"), RepoID: "1", RepoFullName: "acme/site"},
			wantErr: "invalid job type",
		},
		{
			name:    "pr payload without number",
			req:     CreateJobRequest{Type: JobTypePRAnalysis, RepoID: "1", RepoFullName: "acme/site", Payload: json.RawMessage(`{"action":"opened"}`)},
			wantErr: "pr number is required",
		},
		{
			name:    "push payload without ref",
			req:     CreateJobRequest{Type: JobTypePushAnalysis, RepoID: "1", RepoFullName: "acme/site", Payload: json.RawMessage(`{}`)},
			wantErr: "push ref is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsDefaultBranchRef(t *testing.T) {
	assert.True(t, IsDefaultBranchRef("refs/heads/main"))
	assert.True(t, IsDefaultBranchRef("refs/heads/master"))
	assert.False(t, IsDefaultBranchRef("refs/heads/feature-x"))
	assert.False(t, IsDefaultBranchRef("refs/heads/maintenance"))
	assert.False(t, IsDefaultBranchRef(""))
}

func TestPushEventChangedFiles(t *testing.T) {
	evt := PushEvent{
		Commits: []PushCommit{
			{Added: []string{"a.ts"}, Modified: []string{"b.md"}},
			{Modified: []string{"a.ts", "c.go"}, Removed: []string{"gone.ts"}},
		},
	}

	assert.Equal(t, []string{"a.ts", "b.md", "c.go"}, evt.ChangedFiles())
}

func TestRelayEntryRetryable(t *testing.T) {
	entry := RelayEntry{RetryCount: 2}
	assert.True(t, entry.Retryable(3))

	entry.RetryCount = 3
	assert.False(t, entry.Retryable(3))

	entry.RetryCount = 0
	entry.PermanentlyFailed = true
	assert.False(t, entry.Retryable(3))

	entry.PermanentlyFailed = false
	entry.Published = true
	assert.False(t, entry.Retryable(3))
}
