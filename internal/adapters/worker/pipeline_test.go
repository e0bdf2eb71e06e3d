package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/collab/analysis"
	"github.com/docsmith/docsmith/internal/collab/docgen"
	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/domain/model"
	"github.com/docsmith/docsmith/internal/service"
	"github.com/docsmith/docsmith/internal/testutil"
)

// TestPipelineCompletesAcceptedWebhookJob drives one accepted push event
// through the whole pipeline: intake stages job and relay entry together,
// the wake signal drives the reactive publisher onto the bus, and the worker
// consumes the delivery to completion. The job must move through exactly
// queued → dispatched → in_progress → completed.
func TestPipelineCompletesAcceptedWebhookJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.PipelineConfig{WorkerConcurrency: 1}
	cfg.Sanitize()

	store := testutil.NewFakeIntakeStore()
	wake := make(chan struct{}, 1)

	intake, err := service.NewIntakeService(service.IntakeServiceOptions{
		Store:  store,
		Config: cfg,
		Wake:   wake,
	})
	require.NoError(t, err)

	fakeBus := testutil.NewFakeBus()
	publisher, err := service.NewPublisherService(service.PublisherServiceOptions{
		Deps: service.PublisherDeps{
			Relay: store.Relay,
			Jobs:  store.Jobs,
			Bus:   fakeBus,
		},
		Config: cfg,
		Wake:   wake,
	})
	require.NoError(t, err)

	consumer := testutil.NewScriptedConsumer()
	results := testutil.NewFakeResultRepo()
	ingestion := testutil.NewFakeIngestion()
	ingestion.Files["a.go"] = "package a\n\nfunc Analyze() {}\n"

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Consumers: func() (core.BusConsumer, error) { return consumer, nil },
		Jobs:      store.Jobs,
		Results:   results,
		Ingestion: ingestion,
		Analyzer:  analysis.NewSourceAnalyzer(),
		DocGen:    docgen.NewGenerator(docgen.GeneratorOptions{}),
		Config:    cfg,
	})
	require.NoError(t, err)

	pubDone := make(chan error, 1)
	go func() { pubDone <- publisher.Run(ctx) }()
	workDone := make(chan error, 1)
	go func() { workDone <- dispatcher.Run(ctx) }()

	event, err := service.DecodePushEvent(testutil.PushEventJSON("refs/heads/main", []string{"a.go"}, nil))
	require.NoError(t, err)
	outcome, err := intake.SubmitPushEvent(ctx, event)
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	assert.Equal(t, model.JobStatusQueued, outcome.Job.Status)
	jobID := outcome.Job.ID

	// The wake signal drives the publisher without waiting for a fallback
	// tick; the staged entry lands on the bus.
	require.Eventually(t, func() bool {
		return len(fakeBus.Published()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	published := fakeBus.Published()[0]
	consumer.Push(&core.BusMessage{
		ID:            published.ID,
		Topic:         published.Topic,
		Payload:       published.Payload,
		DeliveryCount: 1,
	})

	require.Eventually(t, func() bool {
		job, getErr := store.Jobs.GetByID(ctx, jobID)
		return getErr == nil && job.Status == model.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []model.JobStatus{
		model.JobStatusDispatched,
		model.JobStatusInProgress,
		model.JobStatusCompleted,
	}, store.Jobs.Transitions(jobID))

	entry, err := store.Relay.GetByJobID(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, entry.Published)

	result, err := results.GetByJobID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, result.JobID)

	require.Eventually(t, func() bool {
		return len(consumer.Acked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-pubDone)
	require.NoError(t, <-workDone)
}
