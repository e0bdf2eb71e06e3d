package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/domain/model"
	"github.com/docsmith/docsmith/internal/testutil"
)

type sweeperFixture struct {
	jobs    *testutil.FakeJobRepo
	relay   *testutil.FakeRelayRepo
	bus     *testutil.FakeBus
	cfg     config.PipelineConfig
	sweeper *SweeperService
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()

	cfg := config.PipelineConfig{
		SweepInterval:     time.Minute,
		MaxPublishRetries: 3,
	}
	cfg.Sanitize()

	f := &sweeperFixture{
		jobs:  testutil.NewFakeJobRepo(),
		relay: testutil.NewFakeRelayRepo(),
		bus:   testutil.NewFakeBus(),
		cfg:   cfg,
	}

	publisher, err := NewPublisherService(PublisherServiceOptions{
		Deps:   PublisherDeps{Relay: f.relay, Jobs: f.jobs, Bus: f.bus},
		Config: cfg,
	})
	require.NoError(t, err)

	sweeper, err := NewSweeperService(SweeperServiceOptions{
		Relay:     f.relay,
		Publisher: publisher.WithSource("sweeper"),
		Config:    cfg,
	})
	require.NoError(t, err)
	f.sweeper = sweeper
	return f
}

// stageErrored seeds a queued job with an errored relay entry whose last
// attempt is old enough to be sweepable.
func (f *sweeperFixture) stageErrored(retries int) (*model.Job, *model.RelayEntry) {
	job := testutil.NewJob().Build()
	f.jobs.Put(job)
	entry := testutil.NewRelayEntry(job.ID).
		WithRetries(retries, time.Now().UTC().Add(-2*f.cfg.SweepInterval)).
		WithError("bus unavailable").
		Build()
	f.relay.Put(entry)
	return job, entry
}

func TestSweepRetriesErroredEntries(t *testing.T) {
	f := newSweeperFixture(t)
	job, entry := f.stageErrored(1)
	ctx := context.Background()

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Published)
	assert.Zero(t, stats.Parked)
	assert.Zero(t, stats.Failed)

	stored, err := f.relay.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, stored.Published)

	updated, err := f.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDispatched, updated.Status)
}

func TestSweepParksExhaustedEntries(t *testing.T) {
	f := newSweeperFixture(t)
	_, entry := f.stageErrored(f.cfg.MaxPublishRetries)
	ctx := context.Background()

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Parked)
	assert.Zero(t, stats.Published)

	stored, getErr := f.relay.GetByID(ctx, entry.ID)
	require.NoError(t, getErr)
	assert.True(t, stored.PermanentlyFailed)
	assert.False(t, stored.Published)
	assert.Empty(t, f.bus.Published(), "parked entries never hit the bus")

	// A parked entry is excluded from every later sweep.
	again, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Scanned)
}

func TestSweepRespectsAgeGuard(t *testing.T) {
	f := newSweeperFixture(t)
	job := testutil.NewJob().Build()
	f.jobs.Put(job)
	entry := testutil.NewRelayEntry(job.ID).
		WithRetries(1, time.Now().UTC()). // attempted just now
		WithError("bus unavailable").
		Build()
	f.relay.Put(entry)

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned, "fresh failures belong to the reactive path")
	assert.Empty(t, f.bus.Published())
}

func TestSweepIgnoresNeverAttemptedEntries(t *testing.T) {
	f := newSweeperFixture(t)
	job := testutil.NewJob().Build()
	f.jobs.Put(job)
	f.relay.Put(testutil.NewRelayEntry(job.ID).Build())

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned, "entries with no attempt yet are the publisher's to drain")
}

func TestSweepCountsRepeatedFailures(t *testing.T) {
	f := newSweeperFixture(t)
	_, entry := f.stageErrored(1)
	f.bus.FailNext = 1
	ctx := context.Background()

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	stored, getErr := f.relay.GetByID(ctx, entry.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 2, stored.RetryCount)
	assert.False(t, stored.Published)
}
