package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
	"github.com/docsmith/docsmith/internal/testutil"
)

func newTestIntake(t *testing.T, store *testutil.FakeIntakeStore, wake chan struct{}) *IntakeService {
	t.Helper()

	cfg := config.PipelineConfig{WebhookSecret: "test-secret"}
	cfg.Sanitize()

	svc, err := NewIntakeService(IntakeServiceOptions{
		Store:  store,
		Config: cfg,
		Wake:   wake,
	})
	require.NoError(t, err)
	return svc
}

func TestSubmitCreatesJobAndRelayEntry(t *testing.T) {
	store := testutil.NewFakeIntakeStore()
	wake := make(chan struct{}, 1)
	svc := newTestIntake(t, store, wake)

	outcome, err := svc.Submit(context.Background(), testutil.NewJobRequest().Build())
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	require.NotNil(t, outcome.Job)
	assert.Equal(t, model.JobStatusQueued, outcome.Job.Status)

	entry, err := store.Relay.GetByJobID(context.Background(), outcome.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "docsmith.jobs", entry.Topic)
	assert.False(t, entry.Published)

	var descriptor model.Descriptor
	require.NoError(t, json.Unmarshal(entry.Payload, &descriptor))
	assert.Equal(t, outcome.Job.ID, descriptor.JobID)
	assert.Equal(t, outcome.Job.Type, descriptor.JobType)

	select {
	case <-wake:
	default:
		t.Fatal("expected wake signal after accepted submit")
	}
}

func TestSubmitInvalidPayload(t *testing.T) {
	store := testutil.NewFakeIntakeStore()
	svc := newTestIntake(t, store, nil)

	req := testutil.NewJobRequest().
		WithType(model.JobTypePRAnalysis).
		WithPayload(`{"action": "opened"}`). // missing pr_number
		Build()

	_, err := svc.Submit(context.Background(), req)
	require.Error(t, err)

	jobs, listErr := store.Jobs.List(context.Background(), nil)
	require.NoError(t, listErr)
	assert.Empty(t, jobs, "rejected submit must not create a job")
}

func TestSubmitPREventFiltering(t *testing.T) {
	tests := []struct {
		name         string
		action       string
		wantAccepted bool
	}{
		{name: "opened accepted", action: "opened", wantAccepted: true},
		{name: "synchronize accepted", action: "synchronize", wantAccepted: true},
		{name: "closed accepted", action: "closed", wantAccepted: true},
		{name: "labeled filtered", action: "labeled", wantAccepted: false},
		{name: "review_requested filtered", action: "review_requested", wantAccepted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewFakeIntakeStore()
			svc := newTestIntake(t, store, nil)

			event, err := DecodePREvent(testutil.PREventJSON(tt.action, 42))
			require.NoError(t, err)

			outcome, err := svc.SubmitPREvent(context.Background(), event)
			require.NoError(t, err, "filtered events are not errors")
			assert.Equal(t, tt.wantAccepted, outcome.Accepted)

			jobs, listErr := store.Jobs.List(context.Background(), nil)
			require.NoError(t, listErr)
			if tt.wantAccepted {
				require.Len(t, jobs, 1)
				assert.Equal(t, model.JobTypePRAnalysis, jobs[0].Type)
			} else {
				assert.Empty(t, jobs)
				assert.NotEmpty(t, outcome.Reason)
			}
		})
	}
}

func TestSubmitPushEventFiltering(t *testing.T) {
	tests := []struct {
		name         string
		ref          string
		added        []string
		wantAccepted bool
	}{
		{name: "main accepted", ref: "refs/heads/main", added: []string{"a.go"}, wantAccepted: true},
		{name: "master accepted", ref: "refs/heads/master", added: []string{"a.go"}, wantAccepted: true},
		{name: "feature branch filtered", ref: "refs/heads/feature/x", added: []string{"a.go"}, wantAccepted: false},
		{name: "tag filtered", ref: "refs/tags/v1.0.0", added: []string{"a.go"}, wantAccepted: false},
		{name: "no changed files filtered", ref: "refs/heads/main", added: nil, wantAccepted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewFakeIntakeStore()
			svc := newTestIntake(t, store, nil)

			event, err := DecodePushEvent(testutil.PushEventJSON(tt.ref, tt.added, nil))
			require.NoError(t, err)

			outcome, err := svc.SubmitPushEvent(context.Background(), event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccepted, outcome.Accepted)

			jobs, listErr := store.Jobs.List(context.Background(), nil)
			require.NoError(t, listErr)
			if tt.wantAccepted {
				require.Len(t, jobs, 1)
				assert.Equal(t, model.JobTypePushAnalysis, jobs[0].Type)
			} else {
				assert.Empty(t, jobs)
			}
		})
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	store := testutil.NewFakeIntakeStore()
	svc := newTestIntake(t, store, nil)
	body := []byte(`{"ref": "refs/heads/main"}`)

	tests := []struct {
		name      string
		signature string
		wantErr   bool
	}{
		{name: "valid signature", signature: signBody("test-secret", body), wantErr: false},
		{name: "wrong secret", signature: signBody("other-secret", body), wantErr: true},
		{name: "missing header", signature: "", wantErr: true},
		{name: "missing prefix", signature: "deadbeef", wantErr: true},
		{name: "not hex", signature: "sha256=zzzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.VerifyWebhookSignature(body, tt.signature)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsAuthentication(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVerifyWebhookSignatureUnconfiguredSecret(t *testing.T) {
	store := testutil.NewFakeIntakeStore()
	svc, err := NewIntakeService(IntakeServiceOptions{
		Store:  store,
		Config: config.PipelineConfig{},
	})
	require.NoError(t, err)

	body := []byte(`{}`)
	verifyErr := svc.VerifyWebhookSignature(body, signBody("", body))
	require.Error(t, verifyErr, "an empty secret must reject all deliveries")
}

func TestSubmitIngestion(t *testing.T) {
	store := testutil.NewFakeIntakeStore()
	svc := newTestIntake(t, store, nil)

	outcome, err := svc.SubmitIngestion(context.Background(), model.WebhookRepository{
		ID:       1001,
		FullName: "acme/widgets",
		CloneURL: "https://example.com/acme/widgets.git",
	}, "")
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	assert.Equal(t, model.JobTypeInitialIngestion, outcome.Job.Type)

	payload, err := model.DecodeJobPayload(outcome.Job.Type, outcome.Job.Payload)
	require.NoError(t, err)
	ingestion, ok := payload.(*model.InitialIngestionPayload)
	require.True(t, ok)
	assert.Equal(t, "main", ingestion.DefaultBranch)
}
