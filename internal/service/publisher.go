package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
	"github.com/docsmith/docsmith/internal/observability/metrics"
	"github.com/docsmith/docsmith/internal/observability/statsd"
)

// EntryPublisher publishes one relay entry to the bus. Implemented by
// PublisherService and shared with the sweeper so both paths carry identical
// semantics.
type EntryPublisher interface {
	PublishEntry(ctx context.Context, entry *model.RelayEntry) error
}

// PublisherDeps groups the stores and bus the publisher operates on.
type PublisherDeps struct {
	Relay core.RelayRepository
	Jobs  core.JobRepository
	Bus   core.BusPublisher
}

// PublisherServiceOptions groups dependencies for PublisherService.
type PublisherServiceOptions struct {
	Deps    PublisherDeps         // Required: relay store, job store, bus
	Config  config.PipelineConfig // Required: pipeline configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
	// Wake is signalled by intake after each accepted trigger.
	Wake <-chan struct{}
}

// PublisherService delivers staged relay entries to the message bus. It runs
// reactively: intake wakes it after each accepted trigger, and a slow
// fallback tick catches entries whose wake signal was lost to a crash.
//
// Delivery is at least once. A publish that succeeds after a lost
// MarkPublished write is retried by the sweeper and lands on the bus twice;
// the worker's terminal-status check absorbs the duplicate.
type PublisherService struct {
	relay   core.RelayRepository
	jobs    core.JobRepository
	bus     core.BusPublisher
	config  config.PipelineConfig
	logger  *slog.Logger
	metrics statsd.Sink
	wake    <-chan struct{}
}

// NewPublisherService constructs a new PublisherService.
func NewPublisherService(opts PublisherServiceOptions) (*PublisherService, error) {
	if opts.Deps.Relay == nil {
		return nil, errors.New("RelayRepository is required")
	}
	if opts.Deps.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Deps.Bus == nil {
		return nil, errors.New("BusPublisher is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "publisher_service")
	}

	return &PublisherService{
		relay:   opts.Deps.Relay,
		jobs:    opts.Deps.Jobs,
		bus:     opts.Deps.Bus,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		wake:    opts.Wake,
	}, nil
}

// fallbackDrainInterval bounds how long a never-attempted entry can sit if
// its wake signal was lost (intake process crashed between commit and wake).
const fallbackDrainInterval = 30 * time.Second

// Run drains new relay entries until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *PublisherService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting publisher service", "topic", s.config.Topic)
	}

	if err := s.bus.EnsureTopic(ctx, s.config.Topic); err != nil {
		return fmt.Errorf("ensure topic %s: %w", s.config.Topic, err)
	}

	ticker := time.NewTicker(fallbackDrainInterval)
	defer ticker.Stop()

	// Drain anything staged before this process started.
	s.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "publisher service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-s.wakeChan():
			s.drain(ctx)

		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// wakeChan returns the wake channel, or a nil channel (blocks forever) when
// the publisher runs without a co-located intake.
func (s *PublisherService) wakeChan() <-chan struct{} {
	return s.wake
}

// drain publishes every never-attempted entry currently staged. Failures are
// recorded on the entry and left for the sweeper; the loop keeps going so one
// bad entry cannot block the rest.
func (s *PublisherService) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := s.relay.ListUnpublished(ctx, s.config.SweepBatchSize)
		if err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "list unpublished relay entries failed", "error", err)
			}
			return
		}
		if len(entries) == 0 {
			return
		}

		for _, entry := range entries {
			if err := s.PublishEntry(ctx, entry); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "reactive publish failed; sweeper will retry",
					"relay_entry_id", entry.ID,
					"job_id", entry.JobID,
					"error", err,
				)
			}
		}
	}
}

// PublishEntry delivers one relay entry: ensure the topic, publish the
// payload, then flip the entry to published and the job to dispatched. Safe
// to call twice for the same entry; the loser of the MarkPublished race
// treats the duplicate as a no-op.
func (s *PublisherService) PublishEntry(ctx context.Context, entry *model.RelayEntry) error {
	return s.publishEntry(ctx, entry, "reactive")
}

// WithSource returns an EntryPublisher whose metrics are tagged with the
// given source. The sweeper uses this so retried publishes are attributable.
func (s *PublisherService) WithSource(source string) EntryPublisher {
	return sourcedPublisher{service: s, source: source}
}

type sourcedPublisher struct {
	service *PublisherService
	source  string
}

func (p sourcedPublisher) PublishEntry(ctx context.Context, entry *model.RelayEntry) error {
	return p.service.publishEntry(ctx, entry, p.source)
}

func (s *PublisherService) publishEntry(ctx context.Context, entry *model.RelayEntry, source string) error {
	if entry == nil {
		return errors.New("relay entry is required")
	}
	if entry.Published || entry.PermanentlyFailed {
		return nil
	}

	if err := s.bus.EnsureTopic(ctx, entry.Topic); err != nil {
		return s.recordFailure(ctx, entry, apperrors.TransientDelivery(err, "ensure topic"), source)
	}

	messageID, err := s.bus.Publish(ctx, entry.Topic, entry.Payload)
	if err != nil {
		return s.recordFailure(ctx, entry, apperrors.TransientDelivery(err, "publish to bus"), source)
	}

	changed, err := s.relay.MarkPublished(ctx, entry.ID, messageID)
	if err != nil {
		return fmt.Errorf("mark relay entry published: %w", err)
	}
	if !changed {
		// Another publisher won the race; its job transition stands.
		metrics.EmitRelayPublish(s.metrics, metrics.RelayMetric{
			Result: metrics.ResultNoop,
			Source: source,
		})
		return nil
	}

	if _, err := s.jobs.MarkDispatched(ctx, entry.JobID); err != nil {
		// The entry is published; the job transition is best-effort here
		// because the worker advances past dispatched on receipt anyway.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "mark job dispatched failed",
				"job_id", entry.JobID,
				"error", err,
			)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "relay entry published",
			"relay_entry_id", entry.ID,
			"job_id", entry.JobID,
			"message_id", messageID,
		)
	}
	metrics.EmitRelayPublish(s.metrics, metrics.RelayMetric{
		Result:  metrics.ResultSuccess,
		Source:  source,
		Retries: entry.RetryCount,
	})

	return nil
}

// recordFailure stores the publish error for the sweeper and reports it.
func (s *PublisherService) recordFailure(ctx context.Context, entry *model.RelayEntry, cause error, source string) error {
	if _, err := s.relay.RecordFailure(ctx, entry.ID, cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("record relay failure: %w", err))
	}

	metrics.EmitRelayPublish(s.metrics, metrics.RelayMetric{
		Result:  metrics.ResultError,
		Source:  source,
		Retries: entry.RetryCount + 1,
		Err:     cause,
	})
	return cause
}
