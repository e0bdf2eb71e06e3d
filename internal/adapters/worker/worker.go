// Package worker consumes job descriptors from the message bus and drives
// each job through its processing routine to a terminal status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/observability/statsd"
)

// ConsumerFactory builds one bus consumer per worker goroutine. Each worker
// owns its consumer so consumer-group bookkeeping stays per-goroutine.
type ConsumerFactory func() (core.BusConsumer, error)

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Consumers ConsumerFactory       // Required: per-worker bus consumer factory
	Jobs      core.JobRepository    // Required: job store
	Results   core.ResultRepository // Required: result store
	Ingestion core.Ingestion        // Required: repository content collaborator
	Analyzer  core.Analyzer         // Required: per-file analysis collaborator
	DocGen    core.DocGenerator     // Required: documentation collaborator
	Config    config.PipelineConfig // Required: pipeline configuration
	Logger    *slog.Logger          // Optional: structured logger
	Metrics   statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// Dispatcher runs a pool of workers that receive bus deliveries and execute
// jobs. Delivery is at least once: a message for a job already in a terminal
// state is acked as a harmless duplicate, and a message whose processing
// fails is left un-acked so the bus redelivers it.
type Dispatcher struct {
	consumers ConsumerFactory
	jobs      core.JobRepository
	results   core.ResultRepository
	ingestion core.Ingestion
	analyzer  core.Analyzer
	docGen    core.DocGenerator
	config    config.PipelineConfig
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewDispatcher constructs a new Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Consumers == nil {
		return nil, errors.New("consumer factory is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("job repository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("result repository is required")
	}
	if opts.Ingestion == nil {
		return nil, errors.New("ingestion collaborator is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("analyzer collaborator is required")
	}
	if opts.DocGen == nil {
		return nil, errors.New("doc generator collaborator is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "worker_dispatcher")
	}

	return &Dispatcher{
		consumers: opts.Consumers,
		jobs:      opts.Jobs,
		results:   opts.Results,
		ingestion: opts.Ingestion,
		analyzer:  opts.Analyzer,
		docGen:    opts.DocGen,
		config:    opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Run starts the worker pool and blocks until the context is cancelled or a
// worker hits a fatal error. The first fatal error cancels the rest.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := d.config.WorkerConcurrency
	if workers <= 0 {
		workers = 1
	}
	if d.logger != nil {
		d.logger.InfoContext(ctx, "starting worker dispatcher",
			"topic", d.config.Topic,
			"group", d.config.Group,
			"workers", workers,
		)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.workerLoop(ctx); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context) error {
	consumer, err := d.consumers()
	if err != nil {
		return fmt.Errorf("build bus consumer: %w", err)
	}
	defer func() {
		if closeErr := consumer.Close(); closeErr != nil && d.logger != nil {
			d.logger.WarnContext(ctx, "close bus consumer failed", "error", closeErr)
		}
	}()

	for {
		msg, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive from bus: %w", err)
		}
		if msg == nil {
			continue
		}

		if handleErr := d.handle(ctx, msg); handleErr != nil {
			// Leave the message un-acked; the bus redelivers it and the
			// terminal-status check absorbs it once the job is failed.
			if d.logger != nil {
				d.logger.ErrorContext(ctx, "job processing failed",
					"message_id", msg.ID,
					"delivery_count", msg.DeliveryCount,
					"error", handleErr,
				)
			}
			continue
		}

		if ackErr := consumer.Ack(ctx, msg); ackErr != nil && d.logger != nil {
			d.logger.WarnContext(ctx, "ack failed; delivery will repeat",
				"message_id", msg.ID,
				"error", ackErr,
			)
		}
	}
}
