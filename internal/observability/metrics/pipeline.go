package metrics

import (
	"time"

	obserrors "github.com/docsmith/docsmith/internal/observability/errors"
	"github.com/docsmith/docsmith/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// RelayMetric captures one publish attempt against the bus.
type RelayMetric struct {
	Result  string
	Source  string // "reactive" or "sweeper"
	Retries int
	Err     error
}

// EmitRelayPublish emits delivery metrics for a relay entry attempt.
func EmitRelayPublish(sink statsd.Sink, in RelayMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"result": in.Result,
		"source": in.Source,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("relay.publish", 1, tags)
	if in.Retries > 0 {
		sink.Gauge("relay.retries", float64(in.Retries), CloneTags(tags))
	}
}

// SweepMetric summarises one sweeper pass.
type SweepMetric struct {
	Scanned   int
	Published int
	Failed    int
	Parked    int
	Elapsed   time.Duration
}

// EmitSweep emits the outcome of one sweeper pass.
func EmitSweep(sink statsd.Sink, in SweepMetric) {
	if sink == nil {
		return
	}

	sink.Count("sweeper.scanned", int64(in.Scanned), nil)
	sink.Count("sweeper.published", int64(in.Published), nil)
	sink.Count("sweeper.failed", int64(in.Failed), nil)
	sink.Count("sweeper.parked", int64(in.Parked), nil)
	sink.Timing("sweeper.duration", in.Elapsed, nil)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty values.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
