package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/observability/metrics"
	"github.com/docsmith/docsmith/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Relay     core.RelayRepository  // Required: relay repository
	Publisher EntryPublisher        // Required: shared publish implementation
	Config    config.PipelineConfig // Required: pipeline configuration
	Logger    *slog.Logger          // Optional: structured logger
	Metrics   statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// SweeperService is the bounded-retry safety net for relay entries the
// reactive publish path failed to deliver.
//
// Each pass:
// - Selects errored, unpublished, non-parked entries whose last attempt is
//   older than the sweep interval, up to the batch size.
// - Parks entries that exhausted the retry budget (permanently_failed=true).
// - Re-attempts publish for the rest through the same PublishEntry path the
//   reactive publisher uses.
type SweeperService struct {
	relay     core.RelayRepository
	publisher EntryPublisher
	config    config.PipelineConfig
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Relay == nil {
		return nil, errors.New("RelayRepository is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("EntryPublisher is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.SweepInterval,
			"batch_size", opts.Config.SweepBatchSize,
			"max_retries", opts.Config.MaxPublishRetries,
		)
	}

	return &SweeperService{
		relay:     opts.Relay,
		publisher: opts.Publisher,
		config:    opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// SweepStats summarises one sweeper pass.
type SweepStats struct {
	Scanned   int
	Published int
	Failed    int
	Parked    int
	Elapsed   time.Duration
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.SweepInterval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				if isContextCancellation(err) {
					continue
				}
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "sweep failed", "error", err)
				}
				// Continue running despite errors
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.SweepInterval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// Sweep performs one pass over retryable relay entries.
func (s *SweeperService) Sweep(ctx context.Context) (*SweepStats, error) {
	start := time.Now()
	stats := &SweepStats{}

	entries, err := s.relay.ListRetryable(ctx, core.ListRetryableParams{
		OlderThanSeconds: int(s.config.SweepInterval.Seconds()),
		Limit:            s.config.SweepBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list retryable relay entries: %w", err)
	}
	stats.Scanned = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		if entry.RetryCount >= s.config.MaxPublishRetries {
			if err := s.park(ctx, entry.ID, entry.JobID, entry.RetryCount); err != nil {
				stats.Failed++
				continue
			}
			stats.Parked++
			continue
		}

		if err := s.publisher.PublishEntry(ctx, entry); err != nil {
			stats.Failed++
			if s.logger != nil {
				s.logger.WarnContext(ctx, "sweep retry failed",
					"relay_entry_id", entry.ID,
					"job_id", entry.JobID,
					"retry_count", entry.RetryCount+1,
					"error", err,
				)
			}
			continue
		}
		stats.Published++
	}

	stats.Elapsed = time.Since(start)
	s.emitSweepMetrics(stats)

	if s.logger != nil && stats.Scanned > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			"scanned", stats.Scanned,
			"published", stats.Published,
			"failed", stats.Failed,
			"parked", stats.Parked,
			"elapsed", stats.Elapsed,
		)
	}

	return stats, nil
}

// park flags an entry that exhausted its retry budget. Parked entries need
// operator intervention; they are excluded from every future sweep.
func (s *SweeperService) park(ctx context.Context, entryID, jobID string, retryCount int) error {
	changed, err := s.relay.MarkPermanentlyFailed(ctx, entryID)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "park relay entry failed",
				"relay_entry_id", entryID,
				"error", err,
			)
		}
		return err
	}
	if changed && s.logger != nil {
		s.logger.ErrorContext(ctx, "relay entry permanently failed",
			"relay_entry_id", entryID,
			"job_id", jobID,
			"retry_count", retryCount,
		)
	}
	return nil
}

func (s *SweeperService) emitSweepMetrics(stats *SweepStats) {
	metrics.EmitSweep(s.metrics, metrics.SweepMetric{
		Scanned:   stats.Scanned,
		Published: stats.Published,
		Failed:    stats.Failed,
		Parked:    stats.Parked,
		Elapsed:   stats.Elapsed,
	})
}

// isContextCancellation reports whether err is rooted in context cancellation
// or deadline expiry.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
